package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pulse/internal/comments"
	"pulse/internal/counters"
	"pulse/internal/events"
	"pulse/internal/interactions"
	"pulse/internal/metadata"
	"pulse/internal/registry"
	"pulse/pkg/pagination"
)

type stubInteractions struct {
	toggleResult *interactions.ToggleResult
	toggleErr    error
	viewResult   *interactions.ViewResult
	viewErr      error
	lastKind     interactions.Type
	lastMetrics  interactions.ViewMetrics
}

func (s *stubInteractions) Toggle(_ context.Context, _ string, _ registry.ContentRef, kind interactions.Type) (*interactions.ToggleResult, error) {
	s.lastKind = kind
	return s.toggleResult, s.toggleErr
}

func (s *stubInteractions) RecordView(_ context.Context, _ string, _ registry.ContentRef, metrics interactions.ViewMetrics) (*interactions.ViewResult, error) {
	s.lastMetrics = metrics
	return s.viewResult, s.viewErr
}

type stubComments struct {
	comment      *comments.Comment
	createErr    error
	removeResult *comments.RemoveResult
	removeErr    error
	reaction     *comments.ReactionResult
	listed       []comments.Comment
}

func (s *stubComments) Create(_ context.Context, _ string, _ registry.ContentRef, _ string, _ *string) (*comments.Comment, error) {
	return s.comment, s.createErr
}

func (s *stubComments) Edit(_ context.Context, _, _, _ string) (*comments.Comment, error) {
	return s.comment, s.createErr
}

func (s *stubComments) Remove(_ context.Context, _, _ string) (*comments.RemoveResult, error) {
	return s.removeResult, s.removeErr
}

func (s *stubComments) ReactTo(_ context.Context, _, _, _ string) (*comments.ReactionResult, error) {
	return s.reaction, nil
}

func (s *stubComments) ListTopLevel(_ context.Context, _ registry.ContentRef, _ pagination.Params) ([]comments.Comment, error) {
	return s.listed, nil
}

func (s *stubComments) ListReplies(_ context.Context, _ string, _ pagination.Params) ([]comments.Comment, error) {
	return s.listed, nil
}

type stubMetadata struct {
	meta        *metadata.Metadata
	batch       []metadata.Metadata
	snapshot    counters.Snapshot
	snapshotCtx context.Context
	invalidated []registry.ContentRef
}

func (s *stubMetadata) Get(_ context.Context, _ registry.ContentRef, _ string) (*metadata.Metadata, error) {
	return s.meta, nil
}

func (s *stubMetadata) GetBatch(_ context.Context, _ []registry.ContentRef, _ string) ([]metadata.Metadata, error) {
	return s.batch, nil
}

func (s *stubMetadata) Snapshot(ctx context.Context, _ registry.ContentRef) (counters.Snapshot, error) {
	s.snapshotCtx = ctx
	return s.snapshot, nil
}

func (s *stubMetadata) Invalidate(_ context.Context, ref registry.ContentRef) {
	s.invalidated = append(s.invalidated, ref)
}

type recordingPublisher struct {
	events chan events.EngagementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.EngagementEvent) {
	p.events <- event
}

func newTestRouter(h *Handlers, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})

	api := router.Group("/api")
	content := api.Group("/content")
	content.POST("/metadata/batch", h.BatchMetadata)
	item := content.Group("/:type/:id")
	item.GET("/metadata", h.GetMetadata)
	item.GET("/comments", h.ListComments)
	item.POST("/toggle/:kind", h.Toggle)
	item.POST("/view", h.RecordView)
	item.POST("/comments", h.CreateComment)
	comment := api.Group("/comments/:id")
	comment.DELETE("", h.RemoveComment)
	comment.POST("/reactions", h.ReactToComment)

	return router
}

func newTestHandlers(inter *stubInteractions, comm *stubComments, meta *stubMetadata) *Handlers {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(inter, comm, meta, nil, nil, nil, logger)
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestToggle_ReturnsCommittedState(t *testing.T) {
	inter := &stubInteractions{toggleResult: &interactions.ToggleResult{ContentID: "m-1", Active: true, Count: 12}}
	meta := &stubMetadata{}
	router := newTestRouter(newTestHandlers(inter, &stubComments{}, meta), "user-1")

	w := doRequest(router, http.MethodPost, "/api/content/media/m-1/toggle/like", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result interactions.ToggleResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !result.Active || result.Count != 12 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if inter.lastKind != interactions.TypeLike {
		t.Fatalf("expected like kind, got %s", inter.lastKind)
	}
	if len(meta.invalidated) != 1 {
		t.Fatalf("expected one cache invalidation, got %d", len(meta.invalidated))
	}
}

func TestToggle_RejectsViewKind(t *testing.T) {
	router := newTestRouter(newTestHandlers(&stubInteractions{}, &stubComments{}, &stubMetadata{}), "user-1")

	w := doRequest(router, http.MethodPost, "/api/content/media/m-1/toggle/view", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestToggle_RejectsUnknownContentType(t *testing.T) {
	router := newTestRouter(newTestHandlers(&stubInteractions{}, &stubComments{}, &stubMetadata{}), "user-1")

	w := doRequest(router, http.MethodPost, "/api/content/playlist/m-1/toggle/like", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: content", interactions.ErrNotFound), http.StatusNotFound},
		{interactions.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("%w: other user", interactions.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: bad kind", interactions.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: conflicts", interactions.ErrTransient), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		inter := &stubInteractions{toggleErr: tc.err}
		router := newTestRouter(newTestHandlers(inter, &stubComments{}, &stubMetadata{}), "user-1")

		w := doRequest(router, http.MethodPost, "/api/content/media/m-1/toggle/like", nil)
		if w.Code != tc.want {
			t.Errorf("error %v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestRecordView_AcceptsMetricsBody(t *testing.T) {
	inter := &stubInteractions{viewResult: &interactions.ViewResult{ContentID: "m-1", ViewCount: 5}}
	router := newTestRouter(newTestHandlers(inter, &stubComments{}, &stubMetadata{}), "user-1")

	w := doRequest(router, http.MethodPost, "/api/content/media/m-1/view", map[string]interface{}{
		"duration_ms":  30000,
		"progress_pct": 50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordView_ChunkedBodyKeepsMetrics(t *testing.T) {
	inter := &stubInteractions{viewResult: &interactions.ViewResult{ContentID: "m-1", ViewCount: 5}}
	router := newTestRouter(newTestHandlers(inter, &stubComments{}, &stubMetadata{}), "user-1")

	body := bytes.NewBufferString(`{"duration_ms": 30000, "progress_pct": 50}`)
	req := httptest.NewRequest(http.MethodPost, "/api/content/media/m-1/view", body)
	req.Header.Set("Content-Type", "application/json")
	// Chunked transfer encoding reports an unknown length.
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if inter.lastMetrics.DurationMs == nil || *inter.lastMetrics.DurationMs != 30000 {
		t.Fatalf("chunked body metrics were dropped: %+v", inter.lastMetrics)
	}
	if inter.lastMetrics.ProgressPct == nil || *inter.lastMetrics.ProgressPct != 50 {
		t.Fatalf("chunked body metrics were dropped: %+v", inter.lastMetrics)
	}
}

func TestToggle_PublishesAfterClientDisconnect(t *testing.T) {
	inter := &stubInteractions{toggleResult: &interactions.ToggleResult{ContentID: "m-1", Active: true, Count: 1}}
	meta := &stubMetadata{snapshot: counters.Snapshot{LikeCount: 1}}
	pub := &recordingPublisher{events: make(chan events.EngagementEvent, 1)}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	router := newTestRouter(New(inter, &stubComments{}, meta, pub, nil, nil, logger), "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/content/media/m-1/toggle/like", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case event := <-pub.events:
		if event.Room() != "media:m-1" {
			t.Fatalf("unexpected room: %s", event.Room())
		}
	case <-time.After(time.Second):
		t.Fatal("event dropped after client disconnect")
	}

	if meta.snapshotCtx == nil || meta.snapshotCtx.Err() != nil {
		t.Fatal("snapshot must run on a context that outlives the request")
	}
}

func TestBatchMetadata_Validation(t *testing.T) {
	meta := &stubMetadata{batch: []metadata.Metadata{}}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, &stubComments{}, meta), "")

	w := doRequest(router, http.MethodPost, "/api/content/metadata/batch", map[string]interface{}{"items": []interface{}{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: expected 400, got %d", w.Code)
	}

	items := make([]map[string]string, maxBatchItems+1)
	for i := range items {
		items[i] = map[string]string{"content_type": "media", "content_id": fmt.Sprintf("m-%d", i)}
	}
	w = doRequest(router, http.MethodPost, "/api/content/metadata/batch", map[string]interface{}{"items": items})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized batch: expected 400, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/content/metadata/batch", map[string]interface{}{
		"items": []map[string]string{{"content_type": "media", "content_id": "m-1"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("valid batch: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateComment_Returns201(t *testing.T) {
	comm := &stubComments{comment: &comments.Comment{ID: "c-1", Body: "hello", State: comments.StateActive}}
	meta := &stubMetadata{}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, comm, meta), "user-1")

	w := doRequest(router, http.MethodPost, "/api/content/media/m-1/comments", map[string]string{"body": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(meta.invalidated) != 1 {
		t.Fatalf("expected cache invalidation, got %d", len(meta.invalidated))
	}
}

func TestRemoveComment_NoOpSkipsInvalidation(t *testing.T) {
	comm := &stubComments{removeResult: &comments.RemoveResult{Removed: false}}
	meta := &stubMetadata{}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, comm, meta), "user-1")

	w := doRequest(router, http.MethodDelete, "/api/comments/c-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(meta.invalidated) != 0 {
		t.Fatal("no-op removal must not invalidate the cache")
	}
}

func TestRemoveComment_InvalidatesOnChange(t *testing.T) {
	comm := &stubComments{removeResult: &comments.RemoveResult{ContentType: "media", ContentID: "m-1", Removed: true}}
	meta := &stubMetadata{}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, comm, meta), "user-1")

	w := doRequest(router, http.MethodDelete, "/api/comments/c-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(meta.invalidated) != 1 {
		t.Fatalf("expected one invalidation, got %d", len(meta.invalidated))
	}
}

func TestGetMetadata(t *testing.T) {
	meta := &stubMetadata{meta: &metadata.Metadata{
		ContentType: "media",
		ContentID:   "m-1",
		Snapshot:    counters.Snapshot{LikeCount: 3},
		HasLiked:    true,
	}}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, &stubComments{}, meta), "user-1")

	w := doRequest(router, http.MethodGet, "/api/content/media/m-1/metadata", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var result metadata.Metadata
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if result.LikeCount != 3 || !result.HasLiked {
		t.Fatalf("unexpected metadata: %+v", result)
	}
}

func TestReactToComment(t *testing.T) {
	comm := &stubComments{reaction: &comments.ReactionResult{CommentID: "c-1", Reacted: true, Count: 2}}
	router := newTestRouter(newTestHandlers(&stubInteractions{}, comm, &stubMetadata{}), "user-1")

	w := doRequest(router, http.MethodPost, "/api/comments/c-1/reactions", map[string]string{"reaction": "heart"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var result comments.ReactionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !result.Reacted || result.Count != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
