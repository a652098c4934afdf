// Package pagination provides page/limit parsing for list endpoints.
package pagination

import "strconv"

const (
	// DefaultLimit is the default page size if not specified
	DefaultLimit = 20
	// MaxLimit is the maximum allowed page size
	MaxLimit = 100
)

// Params holds a validated page/limit pair. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// Offset returns the row offset for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// FromQuery parses raw page/limit query values, clamping out-of-range input
// to sane bounds rather than erroring.
func FromQuery(pageStr, limitStr string) Params {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{Page: page, Limit: limit}
}
