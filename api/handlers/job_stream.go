package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// JobEvent is one message on the job stream
type JobEvent struct {
	Type string      `json:"type"` // snapshot, update, removed
	Job  *domain.Job `json:"job,omitempty"`
	ID   string      `json:"id,omitempty"`
}

// JobStreamHandler pushes job changes to websocket clients
type JobStreamHandler struct {
	orch     *app.JobOrchestrator
	logger   *zap.Logger
	interval time.Duration
}

// NewJobStreamHandler creates a stream handler that checks for changes every interval
func NewJobStreamHandler(orch *app.JobOrchestrator, interval time.Duration, logger *zap.Logger) *JobStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &JobStreamHandler{
		orch:     orch,
		logger:   logger,
		interval: interval,
	}
}

// HandleWebSocket handles GET /api/v1/jobs/stream. Every job is sent once as
// a snapshot, after which only changed or removed jobs are sent.
func (h *JobStreamHandler) HandleWebSocket(c *gin.Context) {
	filter := domain.JobFilter{Provider: c.Query("provider")}
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		filter.ExcludeStatuses = domain.TerminalStatuses
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("Job stream client connected", zap.String("remote_addr", c.Request.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	seen := make(map[string]int64)
	if err := h.push(conn, filter, seen, "snapshot"); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.push(conn, filter, seen, "update"); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// push sends the jobs whose version differs from what the client has seen
func (h *JobStreamHandler) push(conn *websocket.Conn, filter domain.JobFilter, seen map[string]int64, kind string) error {
	jobs, err := h.orch.ListJobs(filter)
	if err != nil {
		h.logger.Error("Failed to list jobs for stream", zap.Error(err))
		return nil
	}

	current := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		current[job.ID] = true
		if v, ok := seen[job.ID]; ok && v == job.Version {
			continue
		}
		seen[job.ID] = job.Version
		if err := conn.WriteJSON(JobEvent{Type: kind, Job: job}); err != nil {
			h.logger.Debug("Job stream write failed", zap.Error(err))
			return err
		}
	}

	for id := range seen {
		if current[id] {
			continue
		}
		delete(seen, id)
		if err := conn.WriteJSON(JobEvent{Type: "removed", ID: id}); err != nil {
			return err
		}
	}
	return nil
}
