// Package handlers exposes the engagement engine over HTTP. Mutations follow
// a fixed sequence: commit, invalidate the read cache, publish the fan-out
// event off the request path, then respond with the committed state.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/events"
	"pulse/internal/interactions"
	"pulse/internal/metrics"
	"pulse/internal/registry"
	"pulse/internal/websocket"
	"pulse/pkg/logging"
	"pulse/pkg/pagination"
)

// maxBatchItems bounds one batch metadata request.
const maxBatchItems = 100

// snapshotTimeout bounds the post-commit counter read feeding fan-out events.
const snapshotTimeout = 5 * time.Second

// Handlers carries the HTTP layer's dependencies.
type Handlers struct {
	interactions InteractionStore
	comments     CommentStore
	metadata     MetadataReader
	publisher    events.Publisher
	hub          *websocket.Hub
	metrics      *metrics.Metrics
	logger       logging.Logger
}

// New builds the handler set. publisher and hub may be nil in tests.
func New(inter InteractionStore, comm CommentStore, meta MetadataReader,
	publisher events.Publisher, hub *websocket.Hub, m *metrics.Metrics, logger logging.Logger) *Handlers {
	return &Handlers{
		interactions: inter,
		comments:     comm,
		metadata:     meta,
		publisher:    publisher,
		hub:          hub,
		metrics:      m,
		logger:       logger,
	}
}

// Toggle handles POST /api/content/:type/:id/toggle/:kind.
func (h *Handlers) Toggle(c *gin.Context) {
	ref, ok := h.contentRef(c)
	if !ok {
		return
	}

	kind, err := interactions.ToggleType(c.Param("kind"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	start := time.Now()
	result, err := h.interactions.Toggle(c.Request.Context(), userID(c), ref, kind)
	h.observe("toggle", start, err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.metadata.Invalidate(c.Request.Context(), ref)
	h.publishCounters(c, ref, toggleEventKind(kind))

	c.JSON(http.StatusOK, result)
}

// RecordView handles POST /api/content/:type/:id/view.
func (h *Handlers) RecordView(c *gin.Context) {
	ref, ok := h.contentRef(c)
	if !ok {
		return
	}

	// ContentLength is -1 for chunked bodies; only 0 means no body at all.
	var viewMetrics interactions.ViewMetrics
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&viewMetrics); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	start := time.Now()
	result, err := h.interactions.RecordView(c.Request.Context(), userID(c), ref, viewMetrics)
	h.observe("record_view", start, err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.metadata.Invalidate(c.Request.Context(), ref)
	h.publishCounters(c, ref, events.KindViewUpdated)

	c.JSON(http.StatusOK, result)
}

// GetMetadata handles GET /api/content/:type/:id/metadata. Anonymous requests
// get counters with all per-user flags false.
func (h *Handlers) GetMetadata(c *gin.Context) {
	ref, ok := h.contentRef(c)
	if !ok {
		return
	}

	meta, err := h.metadata.Get(c.Request.Context(), ref, userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, meta)
}

type batchMetadataRequest struct {
	Items []struct {
		ContentType string `json:"content_type"`
		ContentID   string `json:"content_id"`
	} `json:"items"`
}

// BatchMetadata handles POST /api/content/metadata/batch.
func (h *Handlers) BatchMetadata(c *gin.Context) {
	var req batchMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items is required"})
		return
	}
	if len(req.Items) > maxBatchItems {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many items in one batch"})
		return
	}

	refs := make([]registry.ContentRef, 0, len(req.Items))
	for _, item := range req.Items {
		ref, err := registry.NewContentRef(item.ContentType, item.ContentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		refs = append(refs, ref)
	}

	result, err := h.metadata.GetBatch(c.Request.Context(), refs, userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": result})
}

type createCommentRequest struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parent_id,omitempty"`
}

// CreateComment handles POST /api/content/:type/:id/comments.
func (h *Handlers) CreateComment(c *gin.Context) {
	ref, ok := h.contentRef(c)
	if !ok {
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	start := time.Now()
	comment, err := h.comments.Create(c.Request.Context(), userID(c), ref, req.Body, req.ParentID)
	h.observe("comment_create", start, err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.metadata.Invalidate(c.Request.Context(), ref)
	h.publishCounters(c, ref, events.KindCommentAdded)

	c.JSON(http.StatusCreated, comment)
}

// ListComments handles GET /api/content/:type/:id/comments.
func (h *Handlers) ListComments(c *gin.Context) {
	ref, ok := h.contentRef(c)
	if !ok {
		return
	}

	page := pagination.FromQuery(c.Query("page"), c.Query("limit"))
	result, err := h.comments.ListTopLevel(c.Request.Context(), ref, page)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"comments": result,
		"page":     page.Page,
		"limit":    page.Limit,
	})
}

// ListReplies handles GET /api/comments/:id/replies.
func (h *Handlers) ListReplies(c *gin.Context) {
	page := pagination.FromQuery(c.Query("page"), c.Query("limit"))
	result, err := h.comments.ListReplies(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"replies": result,
		"page":    page.Page,
		"limit":   page.Limit,
	})
}

type editCommentRequest struct {
	Body string `json:"body"`
}

// EditComment handles PUT /api/comments/:id.
func (h *Handlers) EditComment(c *gin.Context) {
	var req editCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	comment, err := h.comments.Edit(c.Request.Context(), userID(c), c.Param("id"), req.Body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, comment)
}

// RemoveComment handles DELETE /api/comments/:id.
func (h *Handlers) RemoveComment(c *gin.Context) {
	start := time.Now()
	result, err := h.comments.Remove(c.Request.Context(), userID(c), c.Param("id"))
	h.observe("comment_remove", start, err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Removed {
		if ref, err := registry.NewContentRef(result.ContentType, result.ContentID); err == nil {
			h.metadata.Invalidate(c.Request.Context(), ref)
			h.publishCounters(c, ref, events.KindCommentRemoved)
		}
	}

	c.JSON(http.StatusOK, gin.H{"removed": result.Removed})
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

// ReactToComment handles POST /api/comments/:id/reactions.
func (h *Handlers) ReactToComment(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.comments.ReactTo(c.Request.Context(), userID(c), c.Param("id"), req.Reaction)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ServeWS handles GET /ws, upgrading to a hub connection. userID is empty for
// anonymous subscribers.
func (h *Handlers) ServeWS(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request, userID(c))
}

// contentRef parses and validates the :type/:id path segments.
func (h *Handlers) contentRef(c *gin.Context) (registry.ContentRef, bool) {
	ref, err := registry.NewContentRef(c.Param("type"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return registry.ContentRef{}, false
	}
	return ref, true
}

// publishCounters reads the committed counter state and dispatches the fan-out
// event. Called only after the cache invalidation, so the snapshot is fresh.
// The snapshot read runs on a detached context: the mutation already
// committed, so a client disconnect must not suppress the event.
func (h *Handlers) publishCounters(c *gin.Context, ref registry.ContentRef, kind events.Kind) {
	if h.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := h.metadata.Snapshot(ctx, ref)
	if err != nil {
		h.logger.WithError(err).WithField("room", ref.Room()).Warn("Skipping event, counter snapshot failed")
		return
	}

	events.Dispatch(h.publisher, events.New(ref, kind, snap, userID(c)))
}

func (h *Handlers) observe(op string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.InteractionOps.WithLabelValues(op, outcome).Inc()
	h.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// writeError maps the store error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interactions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, interactions.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, interactions.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, interactions.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, interactions.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unable to process request, retry shortly"})
	default:
		h.logger.WithError(err).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func toggleEventKind(kind interactions.Type) events.Kind {
	switch kind {
	case interactions.TypeLike:
		return events.KindLikeUpdated
	case interactions.TypeBookmark:
		return events.KindBookmarkUpdated
	case interactions.TypeShare:
		return events.KindShareUpdated
	}
	return events.KindViewUpdated
}

func userID(c *gin.Context) string {
	return c.GetString("user_id")
}
