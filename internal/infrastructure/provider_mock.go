package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/debridget/internal/domain"
	"go.uber.org/zap"
)

const (
	MockProviderName = "mock"
	mockFileSize     = int64(1) << 30
)

// MockProvider simulates a vendor without network access. Each job advances
// QUEUED -> RESOLVING -> DOWNLOADING -> COMPLETED, one stage per StageDelay,
// computed from the injected clock so tests can move time deterministically.
type MockProvider struct {
	stageDelay    time.Duration
	downloadSteps int
	now           func() time.Time
	jobs          map[string]*mockJob
	mu            sync.Mutex
	logger        *zap.Logger
}

type mockJob struct {
	id              string
	fileName        string
	startedAt       time.Time
	simulateFailure bool

	// frozen is set once the job is cancelled
	frozen   bool
	status   domain.JobStatus
	progress float64
}

// MockOption configures a MockProvider
type MockOption func(*MockProvider)

// WithMockClock replaces the wall clock
func WithMockClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		p.now = now
	}
}

// NewMockProvider creates a new mock provider
func NewMockProvider(cfg domain.MockConfig, logger *zap.Logger, opts ...MockOption) *MockProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &MockProvider{
		stageDelay:    cfg.StageDelay,
		downloadSteps: cfg.DownloadSteps,
		now:           time.Now,
		jobs:          make(map[string]*mockJob),
		logger:        logger,
	}
	if p.stageDelay <= 0 {
		p.stageDelay = 2 * time.Second
	}
	if p.downloadSteps <= 0 {
		p.downloadSteps = 5
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return MockProviderName
}

// StartJob registers a simulated job
func (p *MockProvider) StartJob(ctx context.Context, payload domain.StartPayload) (*domain.StartResult, error) {
	if !payload.HasSource() {
		return nil, domain.NewInvalidPayloadError(MockProviderName, "url or magnet is required")
	}

	job := &mockJob{
		id:              "mock-" + uuid.NewString(),
		fileName:        fileNameFromSource(payload),
		startedAt:       p.now(),
		simulateFailure: payload.BoolOption("simulateFailure"),
	}

	p.mu.Lock()
	p.jobs[job.id] = job
	p.mu.Unlock()

	p.logger.Debug("Mock job started", zap.String("job_id", job.id), zap.String("file", job.fileName))

	return &domain.StartResult{JobID: job.id, Status: domain.StatusQueued}, nil
}

// GetStatus reports the simulated state at the current clock time
func (p *MockProvider) GetStatus(ctx context.Context, jobID string) (*domain.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return nil, domain.NewJobNotFoundError(MockProviderName, jobID)
	}

	status, progress := p.stateOf(job)
	file := domain.JobFile{ID: "0", Name: job.fileName, Size: mockFileSize}
	if status == domain.StatusCompleted {
		file.URL = p.fileURL(job)
	}

	metadata := map[string]interface{}{"name": job.fileName}
	if status == domain.StatusFailed {
		metadata[domain.MetaErrorMessage] = "Simulated failure"
	}

	return &domain.StatusResult{
		ID:       job.id,
		Status:   status,
		Progress: progress,
		Files:    []domain.JobFile{file},
		Metadata: metadata,
	}, nil
}

// Cancel halts the progression of a running job
func (p *MockProvider) Cancel(ctx context.Context, jobID string) (*domain.CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return &domain.CancelResult{Success: false, Message: fmt.Sprintf("job %s not found", jobID)}, nil
	}

	status, progress := p.stateOf(job)
	if status.IsTerminal() {
		return &domain.CancelResult{Success: false, Message: fmt.Sprintf("Job is already %s", status)}, nil
	}

	job.frozen = true
	job.status = domain.StatusCancelled
	job.progress = progress

	return &domain.CancelResult{Success: true, Message: "Job cancelled"}, nil
}

// GetFileLinks returns the simulated download link of a completed job
func (p *MockProvider) GetFileLinks(ctx context.Context, jobID string) (*domain.FileLinksResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return nil, domain.NewJobNotFoundError(MockProviderName, jobID)
	}

	status, _ := p.stateOf(job)
	if status != domain.StatusCompleted {
		return nil, domain.NewJobNotReadyError(MockProviderName, jobID, string(status))
	}

	return &domain.FileLinksResult{
		JobID: jobID,
		Files: []domain.JobFile{{
			ID:   "0",
			Name: job.fileName,
			Size: mockFileSize,
			URL:  p.fileURL(job),
		}},
	}, nil
}

// TestConnection always succeeds
func (p *MockProvider) TestConnection(ctx context.Context) (*domain.ConnectionResult, error) {
	return &domain.ConnectionResult{
		Success: true,
		Message: "Mock provider is always available",
		User: &domain.ProviderUser{
			ID:       "mock",
			Username: "mock-user",
			Plan:     "unlimited",
			Premium:  true,
		},
	}, nil
}

// stateOf computes the stage reached by a job; p.mu must be held
func (p *MockProvider) stateOf(job *mockJob) (domain.JobStatus, float64) {
	if job.frozen {
		return job.status, job.progress
	}

	stage := int(p.now().Sub(job.startedAt) / p.stageDelay)
	switch {
	case stage <= 0:
		return domain.StatusQueued, 0
	case stage == 1:
		return domain.StatusResolving, 0
	case job.simulateFailure:
		return domain.StatusFailed, 0
	case stage < 2+p.downloadSteps:
		step := stage - 2
		return domain.StatusDownloading, float64(step*100) / float64(p.downloadSteps)
	default:
		return domain.StatusCompleted, 100
	}
}

func (p *MockProvider) fileURL(job *mockJob) string {
	return fmt.Sprintf("https://mock.local/dl/%s/%s", job.id, url.PathEscape(job.fileName))
}

// fileNameFromSource derives a display name from the url path or the magnet dn
func fileNameFromSource(payload domain.StartPayload) string {
	if payload.Magnet != "" {
		if q, err := url.ParseQuery(strings.TrimPrefix(payload.Magnet, "magnet:?")); err == nil {
			if dn := q.Get("dn"); dn != "" {
				return dn
			}
		}
	}
	if payload.URL != "" {
		if u, err := url.Parse(payload.URL); err == nil {
			if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
				return base
			}
		}
	}
	return "download.bin"
}
