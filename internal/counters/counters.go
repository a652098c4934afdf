// Package counters owns the denormalized engagement counts on each content
// item. Counts are the single source of truth for aggregates and must always
// equal the number of active interaction records for the (content, kind)
// pair; every mutation adjusts both inside one transaction, and all access
// goes through the atomic update contract here, never read-modify-write.
package counters

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"pulse/internal/registry"
)

// Field names a counter column on content_counters.
type Field string

const (
	FieldLike     Field = "like_count"
	FieldView     Field = "view_count"
	FieldComment  Field = "comment_count"
	FieldShare    Field = "share_count"
	FieldBookmark Field = "bookmark_count"
)

// Snapshot is the denormalized count state of one content item.
type Snapshot struct {
	LikeCount     int64 `json:"like_count"`
	ViewCount     int64 `json:"view_count"`
	CommentCount  int64 `json:"comment_count"`
	ShareCount    int64 `json:"share_count"`
	BookmarkCount int64 `json:"bookmark_count"`
}

// Get returns the value of a single field from the snapshot.
func (s Snapshot) Get(field Field) int64 {
	switch field {
	case FieldLike:
		return s.LikeCount
	case FieldView:
		return s.ViewCount
	case FieldComment:
		return s.CommentCount
	case FieldShare:
		return s.ShareCount
	case FieldBookmark:
		return s.BookmarkCount
	}
	return 0
}

// Querier is the subset of *sql.DB / *sql.Tx the counter contract needs.
// Mutations run on the transaction owning the interaction write.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ensure creates the counter row for a content item if it does not exist.
func Ensure(ctx context.Context, q Querier, ref registry.ContentRef) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO content_counters (content_type, content_id)
		VALUES ($1, $2)
		ON CONFLICT (content_type, content_id) DO NOTHING`,
		string(ref.Type), ref.ID,
	)
	if err != nil {
		return fmt.Errorf("ensure counter row for %s: %w", ref, err)
	}
	return nil
}

// Update applies an atomic delta to one counter field and returns the new
// value. Decrements clamp at zero: a drifted counter is corruption to repair,
// not a value to propagate. The field name comes from the Field enum, never
// from request input.
func Update(ctx context.Context, q Querier, ref registry.ContentRef, field Field, delta int64) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE content_counters
		SET %s = GREATEST(%s + $3, 0), updated_at = NOW()
		WHERE content_type = $1 AND content_id = $2
		RETURNING %s`, field, field, field)

	var value int64
	err := q.QueryRowContext(ctx, query, string(ref.Type), ref.ID, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("update %s for %s: %w", field, ref, err)
	}
	return value, nil
}

const snapshotColumns = `like_count, view_count, comment_count, share_count, bookmark_count`

// Get reads the counter snapshot for one content item. A missing row means
// no interaction has touched the item yet; all counts are zero.
func Get(ctx context.Context, q Querier, ref registry.ContentRef) (Snapshot, error) {
	var snap Snapshot
	err := q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM content_counters
		WHERE content_type = $1 AND content_id = $2`,
		string(ref.Type), ref.ID,
	).Scan(&snap.LikeCount, &snap.ViewCount, &snap.CommentCount, &snap.ShareCount, &snap.BookmarkCount)
	if err == sql.ErrNoRows {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read counters for %s: %w", ref, err)
	}
	return snap, nil
}

// GetBatch reads counter snapshots for many content items in one query.
// Items with no counter row are returned as zero snapshots.
func GetBatch(ctx context.Context, q Querier, refs []registry.ContentRef) (map[registry.ContentRef]Snapshot, error) {
	result := make(map[registry.ContentRef]Snapshot, len(refs))
	for _, ref := range refs {
		result[ref] = Snapshot{}
	}
	if len(refs) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Room())
	}

	rows, err := q.QueryContext(ctx, `
		SELECT content_type, content_id, `+snapshotColumns+`
		FROM content_counters
		WHERE content_type || ':' || content_id = ANY ($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("batch read counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			contentType string
			contentID   string
			snap        Snapshot
		)
		if err := rows.Scan(&contentType, &contentID,
			&snap.LikeCount, &snap.ViewCount, &snap.CommentCount, &snap.ShareCount, &snap.BookmarkCount); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		result[registry.ContentRef{Type: registry.ContentType(contentType), ID: contentID}] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter rows: %w", err)
	}

	return result, nil
}
