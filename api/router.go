package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/debridget/api/handlers"
	"github.com/yourusername/debridget/api/middleware"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/pkg/logger"
	"go.uber.org/zap"
)

// RouterDeps carries everything the HTTP surface needs
type RouterDeps struct {
	Orchestrator   *app.JobOrchestrator
	Store          handlers.Pinger
	Poller         handlers.PollerStatus
	Logger         *zap.Logger
	MultiLogger    *logger.MultiLogger
	LogsDir        string
	StreamInterval time.Duration
}

// SetupRouter sets up the HTTP router
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.Logger(log, deps.MultiLogger))
	router.Use(middleware.Recovery(log, deps.MultiLogger))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Poller)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		jobHandler := handlers.NewJobHandler(deps.Orchestrator, log)
		streamHandler := handlers.NewJobStreamHandler(deps.Orchestrator, deps.StreamInterval, log)
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/stats", jobHandler.GetStats)
			jobs.GET("/stream", streamHandler.HandleWebSocket)
			jobs.DELETE("/completed", jobHandler.ClearCompleted)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.PATCH("/:id", jobHandler.UpdateJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
			jobs.POST("/:id/sync", jobHandler.SyncJob)
			jobs.POST("/:id/cancel", jobHandler.CancelJob)
			jobs.GET("/:id/links", jobHandler.GetFileLinks)
		}

		providerHandler := handlers.NewProviderHandler(deps.Orchestrator)
		providers := v1.Group("/providers")
		{
			providers.GET("", providerHandler.ListProviders)
			providers.POST("/:name/test", providerHandler.TestProvider)
		}

		if deps.LogsDir != "" {
			logHandler := handlers.NewLogHandler(deps.LogsDir)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Error: "not found", Code: domain.ErrCodeNotFound})
	})

	return router
}
