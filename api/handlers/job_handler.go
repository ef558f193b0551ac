package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
	"go.uber.org/zap"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	orch   *app.JobOrchestrator
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(orch *app.JobOrchestrator, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		orch:   orch,
		logger: logger,
	}
}

// CreateJobRequest represents a request to start a job
type CreateJobRequest struct {
	Provider string              `json:"provider" binding:"required"`
	Payload  domain.StartPayload `json:"payload"`
}

// UpdateJobRequest represents a partial job update
type UpdateJobRequest struct {
	Status   string                 `json:"status,omitempty"`
	Progress *float64               `json:"progress,omitempty"`
	Files    []domain.JobFile       `json:"files,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CreateJob handles POST /api/v1/jobs. A job that failed to start is still
// created and returned with status FAILED.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	job, err := h.orch.CreateJob(c.Request.Context(), req.Provider, req.Payload)
	if err != nil {
		h.logger.Error("Failed to create job", zap.String("provider", req.Provider), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := domain.JobFilter{Provider: c.Query("provider")}

	if active, _ := strconv.ParseBool(c.Query("active")); active {
		filter.ExcludeStatuses = domain.TerminalStatuses
	}
	if s := c.Query("status"); s != "" {
		status, err := domain.ParseJobStatus(s)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.Statuses = []domain.JobStatus{status}
	}

	jobs, err := h.orch.ListJobs(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.orch.GetJob(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// UpdateJob handles PATCH /api/v1/jobs/:id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	update := domain.JobUpdate{
		Progress: req.Progress,
		Files:    req.Files,
		Metadata: req.Metadata,
	}
	if req.Status != "" {
		status, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		update.Status = &status
	}

	job, err := h.orch.UpdateJobStatus(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// SyncJob handles POST /api/v1/jobs/:id/sync
func (h *JobHandler) SyncJob(c *gin.Context) {
	job, err := h.orch.SyncJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.orch.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetFileLinks handles GET /api/v1/jobs/:id/links
func (h *JobHandler) GetFileLinks(c *gin.Context) {
	id := c.Param("id")
	files, err := h.orch.GetFileLinks(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.FileLinksResult{JobID: id, Files: files})
}

// DeleteJob handles DELETE /api/v1/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.orch.DeleteJob(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

// ClearCompleted handles DELETE /api/v1/jobs/completed
func (h *JobHandler) ClearCompleted(c *gin.Context) {
	n, err := h.orch.ClearCompletedJobs()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// GetStats handles GET /api/v1/jobs/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.orch.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
