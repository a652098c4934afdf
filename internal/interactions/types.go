package interactions

import (
	"fmt"
	"time"

	"pulse/internal/counters"
)

// Type identifies an interaction kind.
type Type string

const (
	TypeLike     Type = "like"
	TypeView     Type = "view"
	TypeBookmark Type = "bookmark"
	TypeShare    Type = "share"
)

// ToggleType returns the interaction kind for a toggle-style action, or an
// error for unknown kinds. View is record-once, not toggleable.
func ToggleType(kind string) (Type, error) {
	switch Type(kind) {
	case TypeLike, TypeBookmark, TypeShare:
		return Type(kind), nil
	case TypeView:
		return "", fmt.Errorf("%w: view is not a toggle interaction", ErrValidation)
	default:
		return "", fmt.Errorf("%w: unknown interaction kind %q", ErrValidation, kind)
	}
}

// CounterField maps an interaction kind to its counter column.
func (t Type) CounterField() counters.Field {
	switch t {
	case TypeLike:
		return counters.FieldLike
	case TypeView:
		return counters.FieldView
	case TypeBookmark:
		return counters.FieldBookmark
	case TypeShare:
		return counters.FieldShare
	}
	return ""
}

// State is the soft-delete state of an interaction record. Records are
// flipped in place, never physically deleted, preserving idempotent replay.
type State string

const (
	StateActive  State = "active"
	StateRemoved State = "removed"
)

// ViewMetrics is the partial engagement payload attached to a view. All
// fields are optional; absent fields never regress stored values.
type ViewMetrics struct {
	DurationMs  *int64   `json:"duration_ms,omitempty"`
	ProgressPct *float64 `json:"progress_pct,omitempty"`
	IsComplete  *bool    `json:"is_complete,omitempty"`
}

// Validate checks metric ranges.
func (m ViewMetrics) Validate() error {
	if m.DurationMs != nil && *m.DurationMs < 0 {
		return fmt.Errorf("%w: duration_ms must be non-negative", ErrValidation)
	}
	if m.ProgressPct != nil && (*m.ProgressPct < 0 || *m.ProgressPct > 100) {
		return fmt.Errorf("%w: progress_pct must be between 0 and 100", ErrValidation)
	}
	return nil
}

// ToggleResult is the authoritative post-commit state of a toggle. Clients
// must treat it, not their own optimistic guess, as the truth.
type ToggleResult struct {
	ContentID string `json:"content_id"`
	Active    bool   `json:"active"`
	Count     int64  `json:"count"`
}

// ViewResult carries the post-commit view counter.
type ViewResult struct {
	ContentID string `json:"content_id"`
	ViewCount int64  `json:"view_count"`
}

// Record mirrors one interactions row.
type Record struct {
	ID          string
	UserID      string
	ContentType string
	ContentID   string
	Type        Type
	State       State
	DurationMs  int64
	ProgressPct float64
	IsComplete  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
