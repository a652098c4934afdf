package handlers

import (
	"context"

	"pulse/internal/comments"
	"pulse/internal/counters"
	"pulse/internal/interactions"
	"pulse/internal/metadata"
	"pulse/internal/registry"
	"pulse/pkg/pagination"
)

// InteractionStore is the interaction write surface the handlers depend on.
type InteractionStore interface {
	Toggle(ctx context.Context, userID string, ref registry.ContentRef, kind interactions.Type) (*interactions.ToggleResult, error)
	RecordView(ctx context.Context, userID string, ref registry.ContentRef, metrics interactions.ViewMetrics) (*interactions.ViewResult, error)
}

// CommentStore is the comment surface the handlers depend on.
type CommentStore interface {
	Create(ctx context.Context, userID string, ref registry.ContentRef, body string, parentID *string) (*comments.Comment, error)
	Edit(ctx context.Context, userID, commentID, newBody string) (*comments.Comment, error)
	Remove(ctx context.Context, userID, commentID string) (*comments.RemoveResult, error)
	ReactTo(ctx context.Context, userID, commentID, reaction string) (*comments.ReactionResult, error)
	ListTopLevel(ctx context.Context, ref registry.ContentRef, page pagination.Params) ([]comments.Comment, error)
	ListReplies(ctx context.Context, parentID string, page pagination.Params) ([]comments.Comment, error)
}

// MetadataReader is the consistent read surface the handlers depend on.
type MetadataReader interface {
	Get(ctx context.Context, ref registry.ContentRef, userID string) (*metadata.Metadata, error)
	GetBatch(ctx context.Context, refs []registry.ContentRef, userID string) ([]metadata.Metadata, error)
	Snapshot(ctx context.Context, ref registry.ContentRef) (counters.Snapshot, error)
	Invalidate(ctx context.Context, ref registry.ContentRef)
}
