package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Pinger checks that the job store is reachable
type Pinger interface {
	Ping() error
}

// PollerStatus reports whether background sync is running
type PollerStatus interface {
	IsRunning() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store  Pinger
	poller PollerStatus
}

// NewHealthHandler creates a new health handler. poller may be nil when
// background sync is disabled.
func NewHealthHandler(store Pinger, poller PollerStatus) *HealthHandler {
	return &HealthHandler{
		store:  store,
		poller: poller,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Poller  struct {
		Running bool `json:"running"`
	} `json:"poller"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	if h.poller != nil {
		response.Poller.Running = h.poller.IsRunning()
	}

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "job store unreachable: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
