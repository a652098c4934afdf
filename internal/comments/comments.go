// Package comments manages the self-referencing comment tree: create, edit,
// soft delete, reactions and paged listing. It follows the interaction
// store's transactional pattern with the richer body content comments need.
package comments

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyLength bounds comment bodies in characters.
const MaxBodyLength = 1000

// State is the soft-delete state of a comment.
type State string

const (
	StateActive  State = "active"
	StateRemoved State = "removed"
)

// Comment mirrors one comments row plus its denormalized reaction count.
type Comment struct {
	ID            string    `json:"id"`
	ContentType   string    `json:"content_type"`
	ContentID     string    `json:"content_id"`
	AuthorID      string    `json:"author_id"`
	ParentID      *string   `json:"parent_id,omitempty"`
	Body          string    `json:"body"`
	State         State     `json:"state"`
	ReplyCount    int64     `json:"reply_count"`
	ReactionCount int64     `json:"reaction_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RemoveResult reports what a soft delete changed, so callers know whether
// to invalidate caches and publish an event.
type RemoveResult struct {
	ContentType string
	ContentID   string
	ParentID    *string
	Removed     bool
}

// ReactionResult is the post-commit reaction state of a comment.
type ReactionResult struct {
	CommentID string `json:"comment_id"`
	Reacted   bool   `json:"reacted"`
	Count     int64  `json:"count"`
}

// ValidateBody enforces the comment body contract: non-blank, at most
// MaxBodyLength characters.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("comment body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return fmt.Errorf("comment body exceeds %d characters", MaxBodyLength)
	}
	return nil
}
