package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/debridget/api"
	"github.com/yourusername/debridget/api/handlers"
	"github.com/yourusername/debridget/internal/app"
	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/internal/infrastructure"
	"github.com/yourusername/debridget/pkg/logger"
)

var configPath = flag.String("config", "", "Path to config file (default: search ./configs, ~/.debridget, /etc/debridget)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "debridget-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Logging.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	log.Info("Starting debridget server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("database", config.Database.Driver))

	repo, err := infrastructure.NewJobRepository(config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	registry, err := buildRegistry(config, log)
	if err != nil {
		return err
	}
	log.Info("Providers registered", zap.Strings("providers", registry.List()))

	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	orch := app.NewJobOrchestrator(repo, registry, notifier, log, app.WithMultiLogger(multiLog))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var poller *app.StatusPoller
	if config.Poller.Enabled {
		poller = app.NewStatusPoller(orch, &config.Poller, multiLog, log)
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("failed to start status poller: %w", err)
		}
	}

	deps := api.RouterDeps{
		Orchestrator:   orch,
		Store:          repo,
		Logger:         log,
		MultiLogger:    multiLog,
		LogsDir:        config.Logging.LogsDir,
		StreamInterval: time.Second,
	}
	if poller != nil {
		deps.Poller = poller
	}
	router := api.SetupRouter(deps)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
		return err
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if poller != nil {
		if err := poller.Stop(); err != nil {
			log.Error("Error stopping status poller", zap.Error(err))
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

// buildRegistry registers every enabled provider
func buildRegistry(config *domain.Config, log *zap.Logger) (*app.ProviderRegistry, error) {
	registry := app.NewProviderRegistry()
	defaults := infrastructure.ClientDefaults{
		ProxyURL: config.Providers.ProxyURL,
		Retry:    infrastructure.RetryOptionsFromConfig(config.Retry),
	}

	if config.Providers.Mock.Enabled {
		mock := infrastructure.NewMockProvider(config.Providers.Mock, log.Named("mock"))
		if err := registry.Register(mock.Name(), mock); err != nil {
			return nil, err
		}
	}

	if config.Providers.TorBox.Enabled {
		torbox, err := infrastructure.NewTorBoxProvider(config.Providers.TorBox, defaults, log.Named("torbox"))
		if err != nil {
			return nil, fmt.Errorf("failed to create torbox provider: %w", err)
		}
		if err := registry.Register(torbox.Name(), torbox); err != nil {
			return nil, err
		}
	}

	if config.Providers.RealDebrid.Enabled {
		rd, err := infrastructure.NewRealDebridProvider(config.Providers.RealDebrid, defaults, log.Named("realdebrid"))
		if err != nil {
			return nil, fmt.Errorf("failed to create realdebrid provider: %w", err)
		}
		if err := registry.Register(rd.Name(), rd); err != nil {
			return nil, err
		}
	}

	if len(registry.List()) == 0 {
		log.Warn("No providers enabled; every new job will fail")
	}
	return registry, nil
}
