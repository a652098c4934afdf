// Package events publishes post-commit engagement events to live
// subscribers. Publication is strictly after commit, best-effort and
// at-most-once: a failed publish is logged and swallowed, never surfaced to
// the caller and never able to roll back the committed mutation.
package events

import (
	"context"
	"time"

	"pulse/internal/counters"
	"pulse/internal/registry"
)

// Kind names the engagement change an event describes.
type Kind string

const (
	KindLikeUpdated     Kind = "like-updated"
	KindViewUpdated     Kind = "view-updated"
	KindBookmarkUpdated Kind = "bookmark-updated"
	KindShareUpdated    Kind = "share-updated"
	KindCommentAdded    Kind = "comment-added"
	KindCommentRemoved  Kind = "comment-removed"
)

// Topic is the Kafka topic carrying engagement events.
const Topic = "engagement_events"

// EngagementEvent is the fan-out payload for one committed mutation.
type EngagementEvent struct {
	ContentID   string            `json:"content_id"`
	ContentType string            `json:"content_type"`
	Kind        Kind              `json:"kind"`
	Counters    counters.Snapshot `json:"counters"`
	ActorID     string            `json:"actor_id"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Room returns the fan-out room the event belongs to.
func (e EngagementEvent) Room() string {
	return e.ContentType + ":" + e.ContentID
}

// New builds an event for a committed mutation.
func New(ref registry.ContentRef, kind Kind, snap counters.Snapshot, actorID string) EngagementEvent {
	return EngagementEvent{
		ContentID:   ref.ID,
		ContentType: string(ref.Type),
		Kind:        kind,
		Counters:    snap,
		ActorID:     actorID,
		Timestamp:   time.Now().UTC(),
	}
}

// Publisher delivers events to subscribers. Implementations must be safe to
// call after the mutation transaction has committed and must not block the
// response path.
type Publisher interface {
	Publish(ctx context.Context, event EngagementEvent)
}
