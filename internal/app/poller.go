package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/pkg/logger"
)

// PollResult summarizes one polling round
type PollResult struct {
	Checked int
	Changed int
	Failed  int
}

// StatusPoller periodically syncs every active job with its provider
type StatusPoller struct {
	orch        *JobOrchestrator
	config      *domain.PollerConfig
	multiLogger *logger.MultiLogger
	logger      *zap.Logger
	mu          sync.RWMutex
	running     bool
	stopChan    chan struct{}
	workerWg    sync.WaitGroup
}

// NewStatusPoller creates a new status poller
func NewStatusPoller(
	orch *JobOrchestrator,
	config *domain.PollerConfig,
	multiLogger *logger.MultiLogger,
	logger *zap.Logger,
) *StatusPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{
		orch:        orch,
		config:      config,
		multiLogger: multiLogger,
		logger:      logger,
	}
}

// Start starts the polling loop
func (p *StatusPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("status poller already running")
	}
	if p.config.Interval <= 0 {
		p.mu.Unlock()
		return fmt.Errorf("poll interval must be positive")
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	if p.multiLogger != nil {
		p.multiLogger.LogEvent("poller_started", zap.Duration("interval", p.config.Interval))
	}

	p.workerWg.Add(1)
	go p.loop(ctx, p.stopChan)
	return nil
}

// Stop stops the polling loop and waits for the current round to finish
func (p *StatusPoller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("status poller not running")
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.workerWg.Wait()
	if p.multiLogger != nil {
		p.multiLogger.LogEvent("poller_stopped")
	}
	return nil
}

// IsRunning returns whether the poller is running
func (p *StatusPoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *StatusPoller) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.workerWg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-roundCtx.Done():
		}
	}()

	for {
		p.PollOnce(roundCtx)

		select {
		case <-roundCtx.Done():
			p.logger.Debug("Status poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce syncs every active job once, at most Concurrency at a time
func (p *StatusPoller) PollOnce(ctx context.Context) PollResult {
	var result PollResult

	jobs, err := p.orch.GetActiveJobs()
	if err != nil {
		p.logger.Error("Failed to list active jobs", zap.Error(err))
		return result
	}
	if len(jobs) == 0 {
		return result
	}

	concurrency := p.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *domain.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			updated, err := p.orch.SyncJobStatus(ctx, job.ID)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			if err != nil {
				result.Failed++
				p.logger.Warn("Job sync failed",
					zap.String("job_id", job.ID),
					zap.String("provider", job.Provider),
					zap.Error(err))
				return
			}
			if updated.Status != job.Status {
				result.Changed++
			}
		}(job)
	}
	wg.Wait()

	p.logger.Debug("Poll round finished",
		zap.Int("checked", result.Checked),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed))
	return result
}
