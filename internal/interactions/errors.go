package interactions

import "errors"

// Error taxonomy shared across the engagement engine. Handlers map these to
// HTTP statuses; everything else wraps them with %w.
var (
	// ErrNotFound means the content reference did not resolve or the
	// addressed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means no user context was supplied where one is
	// required.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the user may not act on the addressed record,
	// e.g. editing another author's comment.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation means the input itself is malformed: unknown content
	// kind, empty or oversized comment body, out-of-range view metrics.
	ErrValidation = errors.New("validation failed")

	// ErrTransient means write contention persisted through the bounded
	// internal retries. The operation committed nothing and may be retried.
	ErrTransient = errors.New("transient write conflict")
)
