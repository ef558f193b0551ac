package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/pkg/logger"
	"go.uber.org/zap"
)

// Notifier is told about jobs entering a terminal status
type Notifier interface {
	NotifyJobCompleted(job *domain.Job)
	NotifyJobFailed(job *domain.Job)
	NotifyJobCancelled(job *domain.Job)
}

type noopNotifier struct{}

func (noopNotifier) NotifyJobCompleted(*domain.Job) {}
func (noopNotifier) NotifyJobFailed(*domain.Job)    {}
func (noopNotifier) NotifyJobCancelled(*domain.Job) {}

// JobOrchestrator owns the job lifecycle: it starts jobs through providers,
// persists them, enforces the status state machine, and syncs, cancels and
// resolves links. Mutations of one job are serialized.
type JobOrchestrator struct {
	repo        domain.JobRepository
	registry    *ProviderRegistry
	notifier    Notifier
	multiLogger *logger.MultiLogger
	logger      *zap.Logger
	now         func() time.Time
	locks       *keyedMutex
}

// OrchestratorOption configures a JobOrchestrator
type OrchestratorOption func(*JobOrchestrator)

// WithClock replaces the wall clock used for timestamps
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *JobOrchestrator) {
		o.now = now
	}
}

// WithMultiLogger records job lifecycle events in the categorized logs
func WithMultiLogger(ml *logger.MultiLogger) OrchestratorOption {
	return func(o *JobOrchestrator) {
		o.multiLogger = ml
	}
}

// NewJobOrchestrator creates a new job orchestrator
func NewJobOrchestrator(
	repo domain.JobRepository,
	registry *ProviderRegistry,
	notifier Notifier,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *JobOrchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &JobOrchestrator{
		repo:     repo,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the provider registry
func (o *JobOrchestrator) Registry() *ProviderRegistry {
	return o.registry
}

// CreateJob starts a job through the named provider and persists it. A
// lookup or start failure never escapes: it is recorded as a FAILED job
// carrying the error message. Only persistence failures are returned.
func (o *JobOrchestrator) CreateJob(ctx context.Context, providerName string, payload domain.StartPayload) (*domain.Job, error) {
	originalURL := payload.Source()

	provider, err := o.registry.Get(providerName)
	if err != nil {
		return o.createFailedJob(providerName, originalURL, err)
	}

	res, err := provider.StartJob(ctx, payload)
	if err != nil {
		return o.createFailedJob(providerName, originalURL, err)
	}
	if res == nil || res.JobID == "" {
		return o.createFailedJob(providerName, originalURL,
			domain.NewProviderError(providerName, domain.ErrCodeAPI, "provider returned no job id"))
	}

	status := res.Status
	if !status.IsValid() {
		status = domain.StatusQueued
	}

	unlock := o.locks.Lock(res.JobID)
	defer unlock()

	if existing, err := o.repo.FindByID(res.JobID); err == nil {
		o.logger.Info("Job already tracked",
			zap.String("job_id", existing.ID),
			zap.String("provider", providerName))
		return existing, nil
	}

	job := domain.NewJob(res.JobID, providerName, status, originalURL, o.now())
	if err := o.repo.Create(job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	o.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("provider", providerName),
		zap.String("status", string(job.Status)))
	o.logEvent("job_created", job)

	if job.IsTerminal() {
		o.notify(job)
	}
	return job, nil
}

func (o *JobOrchestrator) createFailedJob(providerName, originalURL string, cause error) (*domain.Job, error) {
	job := domain.NewFailedJob(providerName, cause.Error(), originalURL, o.now())
	if err := o.repo.Create(job); err != nil {
		return nil, fmt.Errorf("failed to persist failed job: %w", err)
	}

	o.logger.Warn("Job start failed",
		zap.String("job_id", job.ID),
		zap.String("provider", providerName),
		zap.Error(cause))
	o.logEvent("job_start_failed", job, zap.String("error", cause.Error()))
	o.logAppError("Job start failed", job, cause)

	o.notifier.NotifyJobFailed(job)
	return job, nil
}

// GetJob returns a job by ID
func (o *JobOrchestrator) GetJob(id string) (*domain.Job, error) {
	return o.repo.FindByID(id)
}

// GetAllJobs returns every job, newest first
func (o *JobOrchestrator) GetAllJobs() ([]*domain.Job, error) {
	return o.repo.FindAll()
}

// GetActiveJobs returns the jobs that are not yet terminal, newest first
func (o *JobOrchestrator) GetActiveJobs() ([]*domain.Job, error) {
	return o.repo.FindWhere(domain.JobFilter{ExcludeStatuses: domain.TerminalStatuses})
}

// ListJobs returns jobs matching a filter, newest first
func (o *JobOrchestrator) ListJobs(filter domain.JobFilter) ([]*domain.Job, error) {
	return o.repo.FindWhere(filter)
}

// UpdateJobStatus applies a partial update. The transition is validated
// before anything is written; an illegal one leaves the job untouched.
func (o *JobOrchestrator) UpdateJobStatus(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.repo.FindByID(id)
	if err != nil {
		return nil, err
	}

	prev := job.Status
	if err := o.apply(job, update); err != nil {
		return nil, err
	}
	if err := o.repo.Update(job); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	o.afterTransition(job, prev)
	return job, nil
}

// apply mutates job according to update
func (o *JobOrchestrator) apply(job *domain.Job, update domain.JobUpdate) error {
	if update.Status != nil && !domain.CanTransition(job.Status, *update.Status) {
		return domain.NewInvalidTransitionError(job.ID, job.Status, *update.Status)
	}

	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		job.Progress = domain.ClampProgress(*update.Progress)
	}
	if update.Files != nil {
		job.Files = update.Files
	}
	job.MergeMetadata(update.Metadata)
	job.Touch(o.now())
	return nil
}

// SyncJobStatus refreshes a job from its provider. Terminal jobs are returned
// as stored. A provider failure marks the job FAILED and is returned.
func (o *JobOrchestrator) SyncJobStatus(ctx context.Context, id string) (*domain.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	provider, err := o.registry.Get(job.Provider)
	if err != nil {
		o.markFailed(job, err)
		return nil, err
	}

	st, err := provider.GetStatus(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sync of job %s interrupted: %w", id, ctx.Err())
		}
		o.markFailed(job, err)
		return nil, err
	}

	prev := job.Status
	target := st.Status
	if !target.IsValid() {
		target = domain.StatusQueued
	}

	update := domain.JobUpdate{
		Files:    st.Files,
		Metadata: st.Metadata,
	}
	progress := math.Max(job.Progress, domain.ClampProgress(st.Progress))
	update.Progress = &progress

	if target == domain.StatusFailed && st.Metadata[domain.MetaErrorMessage] == nil {
		update.Metadata = mergeMaps(st.Metadata, map[string]interface{}{
			domain.MetaErrorMessage: "Provider reported the job as failed",
		})
	}

	path, ok := domain.TransitionPath(prev, target)
	switch {
	case ok:
		for _, step := range path {
			s := step
			if err := o.apply(job, domain.JobUpdate{Status: &s}); err != nil {
				return nil, err
			}
		}
	case domain.IsRegression(prev, target):
		o.logger.Debug("Ignoring vendor status regression",
			zap.String("job_id", id),
			zap.String("status", string(prev)),
			zap.String("vendor_status", string(target)))
	default:
		return nil, domain.NewInvalidTransitionError(id, prev, target)
	}

	if err := o.apply(job, update); err != nil {
		return nil, err
	}
	if err := o.repo.Update(job); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	if len(path) > 1 {
		o.logger.Debug("Walked skipped statuses",
			zap.String("job_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(job.Status)))
	}
	o.afterTransition(job, prev)
	return job, nil
}

// markFailed records a sync failure on a non-terminal job
func (o *JobOrchestrator) markFailed(job *domain.Job, cause error) {
	if job.IsTerminal() {
		o.logger.Error("Refusing to fail a terminal job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)))
		return
	}

	prev := job.Status
	failed := domain.StatusFailed
	if err := o.apply(job, domain.JobUpdate{
		Status:   &failed,
		Metadata: map[string]interface{}{domain.MetaErrorMessage: cause.Error()},
	}); err != nil {
		o.logger.Error("Failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := o.repo.Update(job); err != nil {
		o.logger.Error("Failed to persist failed job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	o.logAppError("Job sync failed", job, cause)
	o.afterTransition(job, prev)
}

// CancelJob asks the provider to stop a job and marks it CANCELLED once the
// provider acknowledges
func (o *JobOrchestrator) CancelJob(ctx context.Context, id string) (*domain.Job, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, domain.NewJobTerminalError(id, job.Status)
	}

	provider, err := o.registry.Get(job.Provider)
	if err != nil {
		return nil, err
	}

	res, err := provider.Cancel(ctx, id)
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	if res == nil || !res.Success {
		msg := "provider refused to cancel the job"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return nil, domain.NewProviderError(job.Provider, domain.ErrCodeAPI, msg)
	}

	prev := job.Status
	cancelled := domain.StatusCancelled
	if err := o.apply(job, domain.JobUpdate{Status: &cancelled}); err != nil {
		return nil, err
	}
	if err := o.repo.Update(job); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	o.afterTransition(job, prev)
	return job, nil
}

// GetFileLinks resolves and stores the download links of a completed job
func (o *JobOrchestrator) GetFileLinks(ctx context.Context, id string) ([]domain.JobFile, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusCompleted {
		return nil, domain.NewJobNotReadyError(job.Provider, id, string(job.Status))
	}

	provider, err := o.registry.Get(job.Provider)
	if err != nil {
		return nil, err
	}

	res, err := provider.GetFileLinks(ctx, id)
	if err != nil {
		return nil, err
	}

	files := res.Files
	if files == nil {
		files = []domain.JobFile{}
	}
	if err := o.apply(job, domain.JobUpdate{Files: files}); err != nil {
		return nil, err
	}
	if err := o.repo.Update(job); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	o.logEvent("links_resolved", job, zap.Int("files", len(files)))
	return files, nil
}

// DeleteJob removes the local record only; the remote job is left running
func (o *JobOrchestrator) DeleteJob(id string) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	job, err := o.repo.FindByID(id)
	if err != nil {
		return err
	}
	if err := o.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	o.logger.Info("Job deleted", zap.String("job_id", id), zap.String("provider", job.Provider))
	o.logEvent("job_deleted", job)
	return nil
}

// ClearCompletedJobs deletes every COMPLETED job and returns how many were removed
func (o *JobOrchestrator) ClearCompletedJobs() (int64, error) {
	n, err := o.repo.DeleteByStatus(domain.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed jobs: %w", err)
	}
	o.logger.Info("Cleared completed jobs", zap.Int64("count", n))
	return n, nil
}

// TestProvider checks the credentials of a registered provider
func (o *JobOrchestrator) TestProvider(ctx context.Context, name string) (*domain.ConnectionResult, error) {
	provider, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return provider.TestConnection(ctx)
}

// Stats returns job counts per status
func (o *JobOrchestrator) Stats() (*domain.JobStats, error) {
	return o.repo.GetStats()
}

// afterTransition logs and notifies a status change
func (o *JobOrchestrator) afterTransition(job *domain.Job, prev domain.JobStatus) {
	if job.Status == prev {
		return
	}

	o.logger.Info("Job status changed",
		zap.String("job_id", job.ID),
		zap.String("provider", job.Provider),
		zap.String("from", string(prev)),
		zap.String("status", string(job.Status)))
	o.logEvent("job_status_changed", job, zap.String("from", string(prev)))

	if job.IsTerminal() {
		o.notify(job)
	}
}

func (o *JobOrchestrator) notify(job *domain.Job) {
	switch job.Status {
	case domain.StatusCompleted:
		o.notifier.NotifyJobCompleted(job)
	case domain.StatusFailed:
		o.notifier.NotifyJobFailed(job)
	case domain.StatusCancelled:
		o.notifier.NotifyJobCancelled(job)
	}
}

func (o *JobOrchestrator) logEvent(event string, job *domain.Job, fields ...zap.Field) {
	if o.multiLogger == nil {
		return
	}
	o.multiLogger.LogJobEvent(event, jobRef(job), fields...)
}

func (o *JobOrchestrator) logAppError(msg string, job *domain.Job, err error) {
	if o.multiLogger == nil {
		return
	}
	o.multiLogger.LogAppError(msg, err,
		zap.String("job_id", job.ID),
		zap.String("provider", job.Provider),
		zap.String("code", string(domain.CodeOf(err))))
}

func jobRef(job *domain.Job) logger.JobRef {
	return logger.JobRef{
		ID:       job.ID,
		Provider: job.Provider,
		Status:   string(job.Status),
		Progress: job.Progress,
	}
}

func mergeMaps(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// keyedMutex serializes work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
