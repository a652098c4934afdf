package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pulse/internal/counters"
	"pulse/internal/interactions"
	"pulse/internal/registry"
	"pulse/pkg/logging"
	"pulse/pkg/pagination"
)

const maxRetries = 3

// Store executes comment mutations and reads against Postgres.
type Store struct {
	db       *sql.DB
	resolver registry.Resolver
	logger   logging.Logger
}

func NewStore(db *sql.DB, resolver registry.Resolver, logger logging.Logger) *Store {
	return &Store{db: db, resolver: resolver, logger: logger}
}

// Create posts a comment or reply. Content commentCount and, for replies,
// the parent's replyCount move in the same transaction as the insert. A
// reply must target an active parent on the same content item.
func (s *Store) Create(ctx context.Context, userID string, ref registry.ContentRef, body string, parentID *string) (*Comment, error) {
	if userID == "" {
		return nil, interactions.ErrUnauthorized
	}
	if err := ValidateBody(body); err != nil {
		return nil, fmt.Errorf("%w: %v", interactions.ErrValidation, err)
	}
	if err := s.resolve(ctx, ref); err != nil {
		return nil, err
	}

	comment := &Comment{
		ID:          uuid.New().String(),
		ContentType: string(ref.Type),
		ContentID:   ref.ID,
		AuthorID:    userID,
		ParentID:    parentID,
		Body:        body,
		State:       StateActive,
	}

	err := s.withRetry(ctx, "comment_create", func(tx *sql.Tx) error {
		if parentID != nil {
			var parentType, parentContent string
			var parentState State
			err := tx.QueryRowContext(ctx,
				`SELECT content_type, content_id, state FROM comments WHERE id = $1`,
				*parentID,
			).Scan(&parentType, &parentContent, &parentState)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: parent comment %s", interactions.ErrNotFound, *parentID)
			}
			if err != nil {
				return fmt.Errorf("load parent comment: %w", err)
			}
			if parentState != StateActive {
				return fmt.Errorf("%w: parent comment %s is removed", interactions.ErrNotFound, *parentID)
			}
			if parentType != string(ref.Type) || parentContent != ref.ID {
				return fmt.Errorf("%w: parent comment belongs to different content", interactions.ErrValidation)
			}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO comments (id, content_type, content_id, author_id, parent_id, body, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'active', NOW(), NOW())
			RETURNING created_at, updated_at`,
			comment.ID, comment.ContentType, comment.ContentID, comment.AuthorID, parentID, body,
		).Scan(&comment.CreatedAt, &comment.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}

		if err := counters.Ensure(ctx, tx, ref); err != nil {
			return err
		}
		if _, err := counters.Update(ctx, tx, ref, counters.FieldComment, 1); err != nil {
			return err
		}

		if parentID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE comments SET reply_count = reply_count + 1, updated_at = NOW() WHERE id = $1`,
				*parentID,
			); err != nil {
				return fmt.Errorf("bump parent reply count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return comment, nil
}

// Edit updates a comment's body. Author-only; no counter effect.
func (s *Store) Edit(ctx context.Context, userID, commentID, newBody string) (*Comment, error) {
	if userID == "" {
		return nil, interactions.ErrUnauthorized
	}
	if err := ValidateBody(newBody); err != nil {
		return nil, fmt.Errorf("%w: %v", interactions.ErrValidation, err)
	}

	comment := &Comment{ID: commentID, Body: newBody, State: StateActive}
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET body = $3, updated_at = NOW()
		WHERE id = $1 AND author_id = $2 AND state = 'active'
		RETURNING content_type, content_id, author_id, parent_id, reply_count, created_at, updated_at`,
		commentID, userID, newBody,
	).Scan(&comment.ContentType, &comment.ContentID, &comment.AuthorID, &comment.ParentID,
		&comment.ReplyCount, &comment.CreatedAt, &comment.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, s.classifyMiss(ctx, commentID, userID, false)
	}
	if err != nil {
		return nil, fmt.Errorf("edit comment %s: %w", commentID, err)
	}

	return comment, nil
}

// Remove soft-deletes a comment and decrements content commentCount (and the
// parent's replyCount for replies). Removing an already-removed comment is a
// no-op, not an error, and decrements nothing further.
func (s *Store) Remove(ctx context.Context, userID, commentID string) (*RemoveResult, error) {
	if userID == "" {
		return nil, interactions.ErrUnauthorized
	}

	var result *RemoveResult
	err := s.withRetry(ctx, "comment_remove", func(tx *sql.Tx) error {
		var contentType, contentID string
		var parentID *string
		err := tx.QueryRowContext(ctx, `
			UPDATE comments
			SET state = 'removed', updated_at = NOW()
			WHERE id = $1 AND author_id = $2 AND state = 'active'
			RETURNING content_type, content_id, parent_id`,
			commentID, userID,
		).Scan(&contentType, &contentID, &parentID)
		if err == sql.ErrNoRows {
			missErr := s.classifyMiss(ctx, commentID, userID, true)
			if missErr != nil {
				return missErr
			}
			// Already removed: idempotent no-op.
			result = &RemoveResult{Removed: false}
			return nil
		}
		if err != nil {
			return fmt.Errorf("remove comment %s: %w", commentID, err)
		}

		ref := registry.ContentRef{Type: registry.ContentType(contentType), ID: contentID}
		if _, err := counters.Update(ctx, tx, ref, counters.FieldComment, -1); err != nil {
			return err
		}
		if parentID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE comments SET reply_count = GREATEST(reply_count - 1, 0), updated_at = NOW() WHERE id = $1`,
				*parentID,
			); err != nil {
				return fmt.Errorf("drop parent reply count: %w", err)
			}
		}

		result = &RemoveResult{
			ContentType: contentType,
			ContentID:   contentID,
			ParentID:    parentID,
			Removed:     true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// reactQuery toggles the user's reaction on a comment in place: repeating
// the same reaction removes it, a different reaction replaces it.
const reactQuery = `
	INSERT INTO comment_reactions (comment_id, user_id, reaction, state, created_at, updated_at)
	VALUES ($1, $2, $3, 'active', NOW(), NOW())
	ON CONFLICT (comment_id, user_id)
	DO UPDATE SET
		state = CASE
			WHEN comment_reactions.state = 'active' AND comment_reactions.reaction = EXCLUDED.reaction
			THEN 'removed' ELSE 'active'
		END,
		reaction = EXCLUDED.reaction,
		updated_at = NOW()
	RETURNING state`

// ReactTo toggles the user's reaction entry on a comment and returns the
// resulting active reaction count.
func (s *Store) ReactTo(ctx context.Context, userID, commentID, reaction string) (*ReactionResult, error) {
	if userID == "" {
		return nil, interactions.ErrUnauthorized
	}
	if reaction == "" || len(reaction) > 32 {
		return nil, fmt.Errorf("%w: invalid reaction kind", interactions.ErrValidation)
	}

	var result *ReactionResult
	err := s.withRetry(ctx, "comment_react", func(tx *sql.Tx) error {
		var state State
		err := tx.QueryRowContext(ctx, `SELECT state FROM comments WHERE id = $1`, commentID).Scan(&state)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: comment %s", interactions.ErrNotFound, commentID)
		}
		if err != nil {
			return fmt.Errorf("load comment %s: %w", commentID, err)
		}
		if state != StateActive {
			return fmt.Errorf("%w: comment %s", interactions.ErrNotFound, commentID)
		}

		var reactionState string
		if err := tx.QueryRowContext(ctx, reactQuery, commentID, userID, reaction).Scan(&reactionState); err != nil {
			return fmt.Errorf("react to comment %s: %w", commentID, err)
		}

		var count int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM comment_reactions WHERE comment_id = $1 AND state = 'active'`,
			commentID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("count reactions for %s: %w", commentID, err)
		}

		result = &ReactionResult{
			CommentID: commentID,
			Reacted:   reactionState == string(StateActive),
			Count:     count,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

const commentColumns = `
	c.id, c.content_type, c.content_id, c.author_id, c.parent_id, c.body, c.state,
	c.reply_count,
	(SELECT COUNT(*) FROM comment_reactions cr WHERE cr.comment_id = c.id AND cr.state = 'active'),
	c.created_at, c.updated_at`

// ListTopLevel returns active top-level comments for a content item, newest
// first. Replies are fetched lazily via ListReplies, never joined eagerly.
func (s *Store) ListTopLevel(ctx context.Context, ref registry.ContentRef, page pagination.Params) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		WHERE c.content_type = $1 AND c.content_id = $2 AND c.parent_id IS NULL AND c.state = 'active'
		ORDER BY c.created_at DESC
		LIMIT $3 OFFSET $4`,
		string(ref.Type), ref.ID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", ref, err)
	}
	return scanComments(rows)
}

// ListReplies returns active direct replies of a comment, newest first. The
// parent's own state is deliberately not checked: replies of a removed
// parent stay reachable when explicitly requested.
func (s *Store) ListReplies(ctx context.Context, parentID string, page pagination.Params) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		WHERE c.parent_id = $1 AND c.state = 'active'
		ORDER BY c.created_at DESC
		LIMIT $2 OFFSET $3`,
		parentID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("list replies of %s: %w", parentID, err)
	}
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]Comment, error) {
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ContentType, &c.ContentID, &c.AuthorID, &c.ParentID,
			&c.Body, &c.State, &c.ReplyCount, &c.ReactionCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// classifyMiss explains why an author-scoped active-state update matched no
// rows. alreadyRemovedOK suppresses the error for idempotent removes.
func (s *Store) classifyMiss(ctx context.Context, commentID, userID string, alreadyRemovedOK bool) error {
	var authorID string
	var state State
	err := s.db.QueryRowContext(ctx,
		`SELECT author_id, state FROM comments WHERE id = $1`, commentID,
	).Scan(&authorID, &state)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: comment %s", interactions.ErrNotFound, commentID)
	}
	if err != nil {
		return fmt.Errorf("load comment %s: %w", commentID, err)
	}
	if authorID != userID {
		return fmt.Errorf("%w: comment %s belongs to another user", interactions.ErrForbidden, commentID)
	}
	if state == StateRemoved && alreadyRemovedOK {
		return nil
	}
	return fmt.Errorf("%w: comment %s", interactions.ErrNotFound, commentID)
}

func (s *Store) resolve(ctx context.Context, ref registry.ContentRef) error {
	exists, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: content %s", interactions.ErrNotFound, ref)
	}
	return nil
}

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
	return fmt.Errorf("%w: %s: %v", interactions.ErrTransient, op, lastErr)
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
	case "40001", "40P01":
		return true
	}
	return false
}
