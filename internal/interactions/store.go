// Package interactions implements the toggle and view write paths of the
// engagement engine: one record per (user, content, kind), deduplicated by a
// unique constraint and flipped in place, with the matching denormalized
// counter adjusted in the same transaction.
package interactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pulse/internal/counters"
	"pulse/internal/registry"
	"pulse/pkg/logging"
)

// maxRetries bounds internal retries of serialization conflicts before the
// operation surfaces ErrTransient.
const maxRetries = 3

// Store executes interaction mutations against Postgres.
type Store struct {
	db       *sql.DB
	resolver registry.Resolver
	logger   logging.Logger
}

func NewStore(db *sql.DB, resolver registry.Resolver, logger logging.Logger) *Store {
	return &Store{db: db, resolver: resolver, logger: logger}
}

// toggleQuery inserts the record active, or flips its state in place. The
// unique constraint forces a concurrent second writer onto the update branch,
// and the row lock taken by ON CONFLICT DO UPDATE serializes same-user races
// so exactly one transition wins per commit.
const toggleQuery = `
	INSERT INTO interactions (id, user_id, content_type, content_id, interaction_type, state, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 'active', NOW(), NOW())
	ON CONFLICT ON CONSTRAINT interactions_user_content_kind_key
	DO UPDATE SET
		state = CASE WHEN interactions.state = 'active' THEN 'removed' ELSE 'active' END,
		updated_at = NOW()
	RETURNING state`

// Toggle flips the (user, content, kind) interaction and adjusts the matching
// counter atomically. The returned state and count are read back from the
// committed transaction, never computed client-side.
func (s *Store) Toggle(ctx context.Context, userID string, ref registry.ContentRef, kind Type) (*ToggleResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.resolve(ctx, ref); err != nil {
		return nil, err
	}

	var result *ToggleResult
	err := s.withRetry(ctx, "toggle", func(tx *sql.Tx) error {
		var state State
		err := tx.QueryRowContext(ctx, toggleQuery,
			uuid.New().String(), userID, string(ref.Type), ref.ID, string(kind),
		).Scan(&state)
		if err != nil {
			return fmt.Errorf("toggle %s for %s: %w", kind, ref, err)
		}

		delta := int64(1)
		if state == StateRemoved {
			delta = -1
		}

		if err := counters.Ensure(ctx, tx, ref); err != nil {
			return err
		}
		count, err := counters.Update(ctx, tx, ref, kind.CounterField(), delta)
		if err != nil {
			return err
		}

		result = &ToggleResult{
			ContentID: ref.ID,
			Active:    state == StateActive,
			Count:     count,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// viewQuery records a first view or merges metrics into an existing one.
// Merging never loses data: duration and progress take the max, completion
// is sticky. xmax = 0 distinguishes a fresh insert from a merge so the view
// counter increments exactly once per user.
const viewQuery = `
	INSERT INTO interactions (id, user_id, content_type, content_id, interaction_type, state,
		duration_ms, progress_pct, is_complete, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 'view', 'active', $5, $6, $7, NOW(), NOW())
	ON CONFLICT ON CONSTRAINT interactions_user_content_kind_key
	DO UPDATE SET
		duration_ms = GREATEST(interactions.duration_ms, EXCLUDED.duration_ms),
		progress_pct = GREATEST(interactions.progress_pct, EXCLUDED.progress_pct),
		is_complete = interactions.is_complete OR EXCLUDED.is_complete,
		updated_at = NOW()
	RETURNING (xmax = 0)`

// RecordView registers a view for (user, content). The first call creates the
// record and increments view_count exactly once; every later call merges
// metrics without touching the counter. Concurrent first views collapse onto
// the merge branch via the unique constraint instead of double-counting.
func (s *Store) RecordView(ctx context.Context, userID string, ref registry.ContentRef, metrics ViewMetrics) (*ViewResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if err := metrics.Validate(); err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, ref); err != nil {
		return nil, err
	}

	var durationMs int64
	if metrics.DurationMs != nil {
		durationMs = *metrics.DurationMs
	}
	var progressPct float64
	if metrics.ProgressPct != nil {
		progressPct = *metrics.ProgressPct
	}
	var isComplete bool
	if metrics.IsComplete != nil {
		isComplete = *metrics.IsComplete
	}

	var result *ViewResult
	err := s.withRetry(ctx, "record_view", func(tx *sql.Tx) error {
		var inserted bool
		err := tx.QueryRowContext(ctx, viewQuery,
			uuid.New().String(), userID, string(ref.Type), ref.ID,
			durationMs, progressPct, isComplete,
		).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("record view for %s: %w", ref, err)
		}

		if err := counters.Ensure(ctx, tx, ref); err != nil {
			return err
		}

		var count int64
		if inserted {
			count, err = counters.Update(ctx, tx, ref, counters.FieldView, 1)
		} else {
			var snap counters.Snapshot
			snap, err = counters.Get(ctx, tx, ref)
			count = snap.ViewCount
		}
		if err != nil {
			return err
		}

		result = &ViewResult{ContentID: ref.ID, ViewCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ActiveTypes returns the interaction kinds the user currently has active on
// the content item, in one query. Used by the metadata read path.
func (s *Store) ActiveTypes(ctx context.Context, userID string, ref registry.ContentRef) (map[Type]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT interaction_type FROM interactions
		WHERE user_id = $1 AND content_type = $2 AND content_id = $3 AND state = 'active'`,
		userID, string(ref.Type), ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("read active interactions for %s: %w", ref, err)
	}
	defer rows.Close()

	active := make(map[Type]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan interaction type: %w", err)
		}
		active[Type(t)] = true
	}
	return active, rows.Err()
}

// ActiveTypesBatch returns the user's active interaction kinds for many
// content items in a single round trip.
func (s *Store) ActiveTypesBatch(ctx context.Context, userID string, refs []registry.ContentRef) (map[registry.ContentRef]map[Type]bool, error) {
	result := make(map[registry.ContentRef]map[Type]bool, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Room())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_type, content_id, interaction_type FROM interactions
		WHERE user_id = $1 AND state = 'active'
		  AND content_type || ':' || content_id = ANY ($2)`,
		userID, pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("batch read active interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var contentType, contentID, interactionType string
		if err := rows.Scan(&contentType, &contentID, &interactionType); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		ref := registry.ContentRef{Type: registry.ContentType(contentType), ID: contentID}
		if result[ref] == nil {
			result[ref] = make(map[Type]bool)
		}
		result[ref][Type(interactionType)] = true
	}
	return result, rows.Err()
}

func (s *Store) resolve(ctx context.Context, ref registry.ContentRef) error {
	exists, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: content %s", ErrNotFound, ref)
	}
	return nil
}

// withRetry runs fn inside a transaction, retrying bounded times on Postgres
// serialization failures and deadlocks. Unique violations also retry: with
// the upsert they only appear under extreme races, and the next attempt
// lands on the update branch.
func (s *Store) withRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		s.logger.WithError(err).WithFields(logging.Fields{
			"op":      op,
			"attempt": attempt + 1,
		}).Warn("Retrying on write conflict")
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, lastErr)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case "40001", "40P01", "23505": // serialization_failure, deadlock_detected, unique_violation
		return true
	}
	return false
}
