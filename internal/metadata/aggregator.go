// Package metadata composes counter snapshots and per-user interaction flags
// into read-consistent views, single-item and batch. Reads issued after a
// mutation response reflect that mutation: the cache is invalidated inside
// the mutation path before its response is returned, so the next read
// refills from the primary store.
package metadata

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/singleflight"

	"pulse/internal/counters"
	"pulse/internal/interactions"
	"pulse/internal/registry"
	"pulse/pkg/logging"
)

// Metadata is the composed engagement view of one content item. Per-user
// flags are false for anonymous reads.
type Metadata struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	counters.Snapshot
	HasLiked      bool `json:"has_liked"`
	HasViewed     bool `json:"has_viewed"`
	HasBookmarked bool `json:"has_bookmarked"`
	HasShared     bool `json:"has_shared"`
}

// Aggregator serves the metadata read path.
type Aggregator struct {
	db     *sql.DB
	inter  *interactions.Store
	cache  SnapshotCache
	sf     singleflight.Group
	logger logging.Logger
}

// NewAggregator builds the read aggregator. cache may be nil, in which case
// every read goes to the database.
func NewAggregator(db *sql.DB, inter *interactions.Store, cache SnapshotCache, logger logging.Logger) *Aggregator {
	return &Aggregator{db: db, inter: inter, cache: cache, logger: logger}
}

// Get returns the metadata snapshot for one content item. userID may be
// empty for anonymous reads; the per-user lookup is skipped entirely then.
func (a *Aggregator) Get(ctx context.Context, ref registry.ContentRef, userID string) (*Metadata, error) {
	snap, err := a.snapshot(ctx, ref)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		ContentType: string(ref.Type),
		ContentID:   ref.ID,
		Snapshot:    snap,
	}

	if userID != "" {
		active, err := a.inter.ActiveTypes(ctx, userID, ref)
		if err != nil {
			return nil, err
		}
		applyFlags(meta, active)
	}

	return meta, nil
}

// GetBatch returns metadata for many content items in a single round trip
// per concern: one counter query, one flags query. It never degrades to one
// query per item.
func (a *Aggregator) GetBatch(ctx context.Context, refs []registry.ContentRef, userID string) ([]Metadata, error) {
	snaps, err := counters.GetBatch(ctx, a.db, refs)
	if err != nil {
		return nil, err
	}

	var flags map[registry.ContentRef]map[interactions.Type]bool
	if userID != "" {
		flags, err = a.inter.ActiveTypesBatch(ctx, userID, refs)
		if err != nil {
			return nil, err
		}
	}

	result := make([]Metadata, 0, len(refs))
	for _, ref := range refs {
		meta := Metadata{
			ContentType: string(ref.Type),
			ContentID:   ref.ID,
			Snapshot:    snaps[ref],
		}
		if flags != nil {
			applyFlags(&meta, flags[ref])
		}
		result = append(result, meta)
	}
	return result, nil
}

// Snapshot returns just the counter state, bypassing per-user flags. Used by
// the mutation path to build fan-out events after commit.
func (a *Aggregator) Snapshot(ctx context.Context, ref registry.ContentRef) (counters.Snapshot, error) {
	return a.snapshot(ctx, ref)
}

// Invalidate drops the cached counters for a content item. Called from every
// mutation, post-commit, before the response goes out.
func (a *Aggregator) Invalidate(ctx context.Context, ref registry.ContentRef) {
	if a.cache != nil {
		a.cache.Invalidate(ctx, ref)
	}
}

func (a *Aggregator) snapshot(ctx context.Context, ref registry.ContentRef) (counters.Snapshot, error) {
	if a.cache == nil {
		return counters.Get(ctx, a.db, ref)
	}

	if snap, ok := a.cache.Get(ctx, ref); ok {
		return snap, nil
	}

	// Collapse concurrent fills for the same hot item into one query.
	v, err, _ := a.sf.Do(ref.Room(), func() (interface{}, error) {
		snap, err := counters.Get(ctx, a.db, ref)
		if err != nil {
			return counters.Snapshot{}, err
		}
		a.cache.Set(ctx, ref, snap)
		return snap, nil
	})
	if err != nil {
		return counters.Snapshot{}, fmt.Errorf("load counters for %s: %w", ref, err)
	}
	return v.(counters.Snapshot), nil
}

func applyFlags(meta *Metadata, active map[interactions.Type]bool) {
	if active == nil {
		return
	}
	meta.HasLiked = active[interactions.TypeLike]
	meta.HasViewed = active[interactions.TypeView]
	meta.HasBookmarked = active[interactions.TypeBookmark]
	meta.HasShared = active[interactions.TypeShare]
}
