// Package registry validates polymorphic content references against the set
// of known content kinds. Every mutation and read in the engine goes through
// a resolver before touching interaction state; counters and interactions
// reference content loosely, never via foreign key.
package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// ContentType identifies a content collection on the platform.
type ContentType string

const (
	ContentTypeMedia       ContentType = "media"
	ContentTypeDevotional  ContentType = "devotional"
	ContentTypeArtist      ContentType = "artist"
	ContentTypeMerchandise ContentType = "merchandise"
	ContentTypeEbook       ContentType = "ebook"
	ContentTypePodcast     ContentType = "podcast"
)

var knownTypes = map[ContentType]struct{}{
	ContentTypeMedia:       {},
	ContentTypeDevotional:  {},
	ContentTypeArtist:      {},
	ContentTypeMerchandise: {},
	ContentTypeEbook:       {},
	ContentTypePodcast:     {},
}

// ValidType reports whether t names a known content kind.
func ValidType(t ContentType) bool {
	_, ok := knownTypes[t]
	return ok
}

// ContentRef is a validated (type, id) pair addressing one content item.
type ContentRef struct {
	Type ContentType `json:"content_type"`
	ID   string      `json:"content_id"`
}

// Room returns the fan-out room name for the content item.
func (r ContentRef) Room() string {
	return string(r.Type) + ":" + r.ID
}

func (r ContentRef) String() string {
	return r.Room()
}

// NewContentRef validates the kind and builds a reference. The id is opaque;
// existence is a separate resolver concern.
func NewContentRef(contentType, contentID string) (ContentRef, error) {
	t := ContentType(contentType)
	if !ValidType(t) {
		return ContentRef{}, fmt.Errorf("unknown content type %q", contentType)
	}
	if contentID == "" {
		return ContentRef{}, fmt.Errorf("content id is required")
	}
	return ContentRef{Type: t, ID: contentID}, nil
}

// Resolver reports whether a content reference addresses an existing item.
type Resolver interface {
	Resolve(ctx context.Context, ref ContentRef) (bool, error)
}

// PostgresResolver resolves references against the content_items table.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Resolve(ctx context.Context, ref ContentRef) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE content_type = $1 AND content_id = $2)`,
		string(ref.Type), ref.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("resolve content ref %s: %w", ref, err)
	}
	return exists, nil
}
