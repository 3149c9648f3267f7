package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
)

func TestServer_CreateTarget(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("CreateTarget", mock.Anything, mock.MatchedBy(func(tgt crawler.CrawlTarget) bool {
		return tgt.URL == "https://s.example/catalog" &&
			tgt.Selectors.Title == ".title" &&
			tgt.Frequency == crawler.FrequencyDaily &&
			tgt.RateLimit == 0.5
	})).Return(crawler.CrawlTarget{ID: "t-1", URL: "https://s.example/catalog"}, nil)

	body := `{"url":"https://s.example/catalog","selectors":{"title":".title"},"frequency":"daily","rate_limit":0.5}`
	rec := serve(t, newTestServer(orch), http.MethodPost, "/v1/targets", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"t-1"`)
	orch.AssertExpectations(t)
}

func TestServer_CreateTargetValidationError(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("CreateTarget", mock.Anything, mock.Anything).
		Return(crawler.CrawlTarget{}, fmt.Errorf("%w: bad selector", crawler.ErrInvalidSelectors))

	rec := serve(t, newTestServer(orch), http.MethodPost, "/v1/targets", `{"url":"https://s.example"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "bad selector")

	rec = serve(t, newTestServer(orch), http.MethodPost, "/v1/targets", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListAndGetTargets(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("ListTargets", mock.Anything).Return([]crawler.CrawlTarget(nil), nil)
	orch.On("GetTarget", mock.Anything, "missing").
		Return(crawler.CrawlTarget{}, fmt.Errorf("get target missing: %w", crawler.ErrTargetNotFound))
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodGet, "/v1/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"targets":[]}`, rec.Body.String())

	rec = serve(t, srv, http.MethodGet, "/v1/targets/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateTargetSendsPatch(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("UpdateTarget", mock.Anything, "t-1", mock.MatchedBy(func(p crawler.TargetPatch) bool {
		return p.MaxPages != nil && *p.MaxPages == 3 && p.URL == nil && p.Status == nil
	})).Return(crawler.CrawlTarget{ID: "t-1", MaxPages: 3}, nil)

	rec := serve(t, newTestServer(orch), http.MethodPut, "/v1/targets/t-1", `{"max_pages":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	orch.AssertExpectations(t)
}

func TestServer_DeleteTarget(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("DeleteTarget", mock.Anything, "t-1").Return(nil)

	rec := serve(t, newTestServer(orch), http.MethodDelete, "/v1/targets/t-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_RunTarget(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("ExecuteCrawl", mock.Anything, "ok").
		Return(crawler.CrawlResult{ID: "r-1", TargetID: "ok", Success: true}, nil)
	orch.On("ExecuteCrawl", mock.Anything, "flaky").
		Return(crawler.CrawlResult{ID: "r-2", TargetID: "flaky", ErrorMessage: "status 503"}, errors.New("crawl target flaky: status 503"))
	orch.On("ExecuteCrawl", mock.Anything, "busy").
		Return(crawler.CrawlResult{}, crawler.ErrAlreadyRunning)
	orch.On("ExecuteCrawl", mock.Anything, "paused").
		Return(crawler.CrawlResult{ID: "r-3"}, crawler.ErrTargetNotActive)
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodPost, "/v1/targets/ok/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)

	rec = serve(t, srv, http.MethodPost, "/v1/targets/flaky/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Contains(t, payload["error"], "503")

	rec = serve(t, srv, http.MethodPost, "/v1/targets/busy/run", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, srv, http.MethodPost, "/v1/targets/paused/run", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_StartStopAndStatus(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("Start", mock.Anything, "t-1").Return("job-1", nil)
	orch.On("Stop", "t-1").Return(true)
	orch.On("GetTarget", mock.Anything, "t-1").Return(crawler.CrawlTarget{ID: "t-1"}, nil)
	orch.On("JobStatus", "t-1").Return(orchestrator.JobInfo{JobID: "job-1", TargetID: "t-1", Status: crawler.JobStatusRunning})
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodPost, "/v1/targets/t-1/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	rec = serve(t, srv, http.MethodGet, "/v1/targets/t-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"RUNNING"`)

	rec = serve(t, srv, http.MethodPost, "/v1/targets/t-1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"target_id":"t-1","stopped":true}`, rec.Body.String())
}

func TestServer_PauseAndResume(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("PauseTarget", mock.Anything, "t-1", "supplier maintenance").
		Return(crawler.CrawlTarget{ID: "t-1", Status: crawler.TargetPaused}, nil)
	orch.On("PauseTarget", mock.Anything, "t-2", "paused via API").
		Return(crawler.CrawlTarget{ID: "t-2", Status: crawler.TargetPaused}, nil)
	orch.On("ResumeTarget", mock.Anything, "t-1").
		Return(crawler.CrawlTarget{ID: "t-1", Status: crawler.TargetActive}, nil)
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodPost, "/v1/targets/t-1/pause", `{"reason":"supplier maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, srv, http.MethodPost, "/v1/targets/t-2/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, srv, http.MethodPost, "/v1/targets/t-1/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ACTIVE"`)
	orch.AssertExpectations(t)
}

func TestServer_TargetMetricsAndResults(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("GetTarget", mock.Anything, "t-1").Return(crawler.CrawlTarget{ID: "t-1"}, nil)
	orch.On("Metrics", "t-1").Return(crawler.CrawlerMetrics{TotalCrawls: 3, SuccessfulCrawls: 2, FailedCrawls: 1}, true)
	orch.On("Results", mock.Anything, "t-1", maxResultLimit).
		Return([]crawler.CrawlResult{{ID: "r-1", TargetID: "t-1", Success: true}}, nil)
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodGet, "/v1/targets/t-1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_crawls":3`)

	rec = serve(t, srv, http.MethodGet, "/v1/targets/t-1/results?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"r-1"`)

	rec = serve(t, srv, http.MethodGet, "/v1/targets/t-1/results?limit=-2", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_InternalErrorsAreNotLeaked(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	orch.On("ListTargets", mock.Anything).Return([]crawler.CrawlTarget(nil), errors.New("dial tcp 10.0.0.5:5432: refused"))
	srv := newTestServer(orch)

	rec := serve(t, srv, http.MethodGet, "/v1/targets", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.5")

	rec = serve(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&mockOrchestrator{}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockOrchestrator{})
	rec := serve(t, srv, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func newTestServer(orch Orchestrator) *Server {
	cfg := config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second}}
	return NewServer(orch, cfg, zap.NewNop())
}

func serve(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) CreateTarget(ctx context.Context, target crawler.CrawlTarget) (crawler.CrawlTarget, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) GetTarget(ctx context.Context, id string) (crawler.CrawlTarget, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) ListTargets(ctx context.Context) ([]crawler.CrawlTarget, error) {
	args := m.Called(ctx)
	return args.Get(0).([]crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) UpdateTarget(ctx context.Context, id string, patch crawler.TargetPatch) (crawler.CrawlTarget, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) DeleteTarget(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOrchestrator) PauseTarget(ctx context.Context, id, reason string) (crawler.CrawlTarget, error) {
	args := m.Called(ctx, id, reason)
	return args.Get(0).(crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) ResumeTarget(ctx context.Context, id string) (crawler.CrawlTarget, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(crawler.CrawlTarget), args.Error(1)
}

func (m *mockOrchestrator) ExecuteCrawl(ctx context.Context, targetID string) (crawler.CrawlResult, error) {
	args := m.Called(ctx, targetID)
	return args.Get(0).(crawler.CrawlResult), args.Error(1)
}

func (m *mockOrchestrator) Start(ctx context.Context, targetID string) (string, error) {
	args := m.Called(ctx, targetID)
	return args.String(0), args.Error(1)
}

func (m *mockOrchestrator) Stop(targetID string) bool {
	return m.Called(targetID).Bool(0)
}

func (m *mockOrchestrator) JobStatus(targetID string) orchestrator.JobInfo {
	return m.Called(targetID).Get(0).(orchestrator.JobInfo)
}

func (m *mockOrchestrator) Metrics(targetID string) (crawler.CrawlerMetrics, bool) {
	args := m.Called(targetID)
	return args.Get(0).(crawler.CrawlerMetrics), args.Bool(1)
}

func (m *mockOrchestrator) Results(ctx context.Context, targetID string, limit int) ([]crawler.CrawlResult, error) {
	args := m.Called(ctx, targetID, limit)
	return args.Get(0).([]crawler.CrawlResult), args.Error(1)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
