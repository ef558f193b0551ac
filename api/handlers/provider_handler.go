package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/debridget/internal/app"
)

// ProviderHandler exposes the provider registry
type ProviderHandler struct {
	orch *app.JobOrchestrator
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(orch *app.JobOrchestrator) *ProviderHandler {
	return &ProviderHandler{orch: orch}
}

// ListProviders handles GET /api/v1/providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.orch.Registry().List()})
}

// TestProvider handles POST /api/v1/providers/:name/test. Bad credentials
// are reported in the body with success=false, not as an HTTP error.
func (h *ProviderHandler) TestProvider(c *gin.Context) {
	res, err := h.orch.TestProvider(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
