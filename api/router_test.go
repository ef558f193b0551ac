package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/debridget/api/handlers"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/internal/infrastructure"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router *gin.Engine
	clock  *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo, err := infrastructure.NewSQLiteJobRepository(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	mock := infrastructure.NewMockProvider(
		domain.MockConfig{StageDelay: time.Second, DownloadSteps: 2},
		nil,
		infrastructure.WithMockClock(clock.Now),
	)

	registry := app.NewProviderRegistry()
	require.NoError(t, registry.Register(mock.Name(), mock))

	orch := app.NewJobOrchestrator(repo, registry, nil, nil, app.WithClock(clock.Now))

	router := SetupRouter(RouterDeps{
		Orchestrator:   orch,
		Store:          repo,
		LogsDir:        t.TempDir(),
		StreamInterval: 20 * time.Millisecond,
	})
	return &testServer{router: router, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) domain.Job {
	t.Helper()
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_JobLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "mock",
		"payload":  map[string]interface{}{"url": "https://example.test/ubuntu.iso"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, "https://example.test/ubuntu.iso", job.OriginalURL())

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/links", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeJobNotReady, decodeError(t, w).Code)

	s.clock.Advance(10 * time.Second)
	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	synced := decodeJob(t, w)
	assert.Equal(t, domain.StatusCompleted, synced.Status)
	assert.Equal(t, 100.0, synced.Progress)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/links", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var links domain.FileLinksResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &links))
	require.Len(t, links.Files, 1)
	assert.Contains(t, links.Files[0].URL, "ubuntu.iso")

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeJobTerminal, decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.JobStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Completed)

	w = s.do(t, http.MethodDelete, "/api/v1/jobs/completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CancelRunningJob(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "mock",
		"payload":  map[string]interface{}{"magnet": "magnet:?xt=urn:btih:abc&dn=debian"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusCancelled, decodeJob(t, w).Status)

	w = s.do(t, http.MethodGet, "/api/v1/jobs?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestRouter_FailedStartIsCreated(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "nope",
		"payload":  map[string]interface{}{"url": "https://example.test/a"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage(), "nope")

	w = s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "mock",
		"payload":  map[string]interface{}{},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, domain.StatusFailed, decodeJob(t, w).Status)
}

func TestRouter_BadRequests(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeInvalidPayload, decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrCodeNotFound, decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_UpdateJobRejectsIllegalTransition(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "mock",
		"payload":  map[string]interface{}{"url": "https://example.test/a"},
	})
	job := decodeJob(t, w)

	w = s.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, map[string]interface{}{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeInvalidTransition, decodeError(t, w).Code)

	w = s.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, map[string]interface{}{"status": "RESOLVING", "progress": 250})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeJob(t, w)
	assert.Equal(t, domain.StatusResolving, updated.Status)
	assert.Equal(t, 100.0, updated.Progress)
}

func (s *testServer) createJob(t *testing.T, source string) domain.Job {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"provider": "mock",
		"payload":  map[string]interface{}{"url": source},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeJob(t, w)
}

func dialStream(t *testing.T, s *testServer, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEventUntil reads stream events until match returns true
func readEventUntil(t *testing.T, conn *websocket.Conn, match func(handlers.JobEvent) bool) handlers.JobEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev handlers.JobEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func TestRouter_JobStream(t *testing.T) {
	s := newTestServer(t)
	job := s.createJob(t, "https://example.test/ubuntu.iso")

	conn := dialStream(t, s, "")

	ev := readEventUntil(t, conn, func(handlers.JobEvent) bool { return true })
	assert.Equal(t, "snapshot", ev.Type)
	require.NotNil(t, ev.Job)
	assert.Equal(t, job.ID, ev.Job.ID)
	assert.Equal(t, domain.StatusQueued, ev.Job.Status)

	s.clock.Advance(10 * time.Second)
	w := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ev = readEventUntil(t, conn, func(e handlers.JobEvent) bool {
		return e.Job != nil && e.Job.Status == domain.StatusCompleted
	})
	assert.Equal(t, "update", ev.Type)
	assert.Equal(t, job.ID, ev.Job.ID)
	assert.Equal(t, 100.0, ev.Job.Progress)

	w = s.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	ev = readEventUntil(t, conn, func(e handlers.JobEvent) bool { return e.Type == "removed" })
	assert.Equal(t, job.ID, ev.ID)
	assert.Nil(t, ev.Job)
}

func TestRouter_JobStreamActiveFilter(t *testing.T) {
	s := newTestServer(t)

	cancelled := s.createJob(t, "https://example.test/old.iso")
	w := s.do(t, http.MethodPost, "/api/v1/jobs/"+cancelled.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := s.createJob(t, "https://example.test/new.iso")

	conn := dialStream(t, s, "?active=true")

	ev := readEventUntil(t, conn, func(handlers.JobEvent) bool { return true })
	assert.Equal(t, "snapshot", ev.Type)
	require.NotNil(t, ev.Job)
	assert.Equal(t, active.ID, ev.Job.ID)

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+active.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ev = readEventUntil(t, conn, func(handlers.JobEvent) bool { return true })
	assert.Equal(t, "removed", ev.Type)
	assert.Equal(t, active.ID, ev.ID)
}

func TestRouter_Providers(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["mock"]}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/providers/mock/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = s.do(t, http.MethodPost, "/api/v1/providers/torbox/test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrCodeProviderNotFound, decodeError(t, w).Code)
}

func TestRouter_Logs(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/logs/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jobs")

	w = s.do(t, http.MethodGet, "/api/v1/logs/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = s.do(t, http.MethodGet, "/api/v1/logs/queue", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, handlers.HTTPStatus(domain.NewProviderError("torbox", domain.ErrCodeTimeout, "Request timeout")))
	assert.Equal(t, http.StatusBadGateway, handlers.HTTPStatus(domain.NewProviderError("torbox", domain.ErrCodeAPI, "boom")))
	assert.Equal(t, http.StatusInternalServerError, handlers.HTTPStatus(assert.AnError))
}
