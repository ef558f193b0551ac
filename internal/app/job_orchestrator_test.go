package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/debridget/internal/domain"
)

// mockJobRepo implements domain.JobRepository in memory
type mockJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	updates int
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[string]*domain.Job)}
}

func (m *mockJobRepo) Create(job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return errors.New("duplicate id")
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *mockJobRepo) Update(job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return domain.NewJobNotFoundError("", job.ID)
	}
	if stored.Version != job.Version {
		return domain.NewVersionConflictError(job.ID)
	}
	job.Version++
	m.jobs[job.ID] = job.Clone()
	m.updates++
	return nil
}

func (m *mockJobRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *mockJobRepo) FindByID(id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Clone(), nil
	}
	return nil, domain.NewJobNotFoundError("", id)
}

func (m *mockJobRepo) FindAll() ([]*domain.Job, error) {
	return m.FindWhere(domain.JobFilter{})
}

func (m *mockJobRepo) FindWhere(filter domain.JobFilter) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt > out[b].CreatedAt })
	return out, nil
}

func (m *mockJobRepo) DeleteByStatus(statuses ...domain.JobStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		for _, s := range statuses {
			if j.Status == s {
				delete(m.jobs, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *mockJobRepo) GetStats() (*domain.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.JobStats{Total: int64(len(m.jobs))}
	for _, j := range m.jobs {
		switch j.Status {
		case domain.StatusQueued:
			stats.Queued++
		case domain.StatusResolving:
			stats.Resolving++
		case domain.StatusDownloading:
			stats.Downloading++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// stubProvider is a scriptable domain.Provider that counts its calls
type stubProvider struct {
	name string

	mu          sync.Mutex
	startResult *domain.StartResult
	startErr    error
	status      *domain.StatusResult
	statusErr   error
	cancel      *domain.CancelResult
	cancelErr   error
	links       *domain.FileLinksResult
	linksErr    error

	startCalls  int
	statusCalls int
	cancelCalls int
	linksCalls  int
}

func newStubProvider(name string) *stubProvider {
	return &stubProvider{
		name:        name,
		startResult: &domain.StartResult{JobID: "t1", Status: domain.StatusQueued},
		status:      &domain.StatusResult{ID: "t1", Status: domain.StatusQueued},
		cancel:      &domain.CancelResult{Success: true},
		links:       &domain.FileLinksResult{JobID: "t1", Files: []domain.JobFile{}},
	}
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) StartJob(ctx context.Context, payload domain.StartPayload) (*domain.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.startResult, s.startErr
}

func (s *stubProvider) GetStatus(ctx context.Context, jobID string) (*domain.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	return s.status, s.statusErr
}

func (s *stubProvider) Cancel(ctx context.Context, jobID string) (*domain.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	return s.cancel, s.cancelErr
}

func (s *stubProvider) GetFileLinks(ctx context.Context, jobID string) (*domain.FileLinksResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linksCalls++
	return s.links, s.linksErr
}

func (s *stubProvider) TestConnection(ctx context.Context) (*domain.ConnectionResult, error) {
	return &domain.ConnectionResult{Success: true, Message: "ok"}, nil
}

// recordingNotifier remembers which jobs it was told about
type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	cancelled []string
}

func (n *recordingNotifier) NotifyJobCompleted(job *domain.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, job.ID)
}

func (n *recordingNotifier) NotifyJobFailed(job *domain.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job.ID)
}

func (n *recordingNotifier) NotifyJobCancelled(job *domain.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, job.ID)
}

type orchestratorFixture struct {
	orch     *JobOrchestrator
	repo     *mockJobRepo
	provider *stubProvider
	notifier *recordingNotifier
	now      time.Time
}

func (f *orchestratorFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		repo:     newMockJobRepo(),
		provider: newStubProvider("mock"),
		notifier: &recordingNotifier{},
		now:      time.UnixMilli(1_700_000_000_000),
	}
	registry := NewProviderRegistry()
	require.NoError(t, registry.Register("mock", f.provider))
	f.orch = NewJobOrchestrator(f.repo, registry, f.notifier, nil, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *orchestratorFixture) seed(t *testing.T, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := domain.NewJob("t1", "mock", status, "magnet:?xt=urn:btih:abc", f.now)
	require.NoError(t, f.repo.Create(job))
	return job
}

func statusPtr(s domain.JobStatus) *domain.JobStatus { return &s }

func floatPtr(v float64) *float64 { return &v }

func TestCreateJob_Success(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, "mock", domain.StartPayload{Magnet: "magnet:?xt=urn:btih:abc"})
	require.NoError(t, err)

	assert.Equal(t, "t1", job.ID)
	assert.Equal(t, "mock", job.Provider)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	assert.Empty(t, job.Files)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
	assert.Equal(t, "magnet:?xt=urn:btih:abc", job.OriginalURL())

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)
}

func TestCreateJob_ProviderErrorYieldsFailedJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.provider.startErr = domain.NewProviderError("mock", domain.ErrCodeAPI, "quota exceeded")

	job, err := f.orch.CreateJob(context.Background(), "mock", domain.StartPayload{URL: "https://x.test/a.iso"})
	require.NoError(t, err)

	assert.Regexp(t, `^failed_\d+_[0-9a-f]+$`, job.ID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage(), "quota exceeded")
	assert.Equal(t, "https://x.test/a.iso", job.OriginalURL())
	assert.Equal(t, []string{job.ID}, f.notifier.failed)

	stored, err := f.orch.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage(), "quota exceeded")
	assert.Equal(t, "https://x.test/a.iso", stored.OriginalURL())
}

func TestCreateJob_UnknownProviderYieldsFailedJob(t *testing.T) {
	f := newOrchestratorFixture(t)

	job, err := f.orch.CreateJob(context.Background(), "nope", domain.StartPayload{URL: "https://x.test/a"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "nope", job.Provider)
	assert.Contains(t, job.ErrorMessage(), "nope")
	assert.Equal(t, 0, f.provider.startCalls)
}

func TestCreateJob_AlreadyTrackedReturnsExisting(t *testing.T) {
	f := newOrchestratorFixture(t)
	existing := f.seed(t, domain.StatusDownloading)

	job, err := f.orch.CreateJob(context.Background(), "mock", domain.StartPayload{Magnet: "magnet:?xt=urn:btih:abc"})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, job.ID)
	assert.Equal(t, domain.StatusDownloading, job.Status)
}

func TestUpdateJobStatus_ClampsProgress(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)
	ctx := context.Background()

	job, err := f.orch.UpdateJobStatus(ctx, "t1", domain.JobUpdate{Progress: floatPtr(150)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, job.Progress)

	job, err = f.orch.UpdateJobStatus(ctx, "t1", domain.JobUpdate{Progress: floatPtr(-5)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, job.Progress)
}

func TestUpdateJobStatus_InvalidTransitionLeavesJobUntouched(t *testing.T) {
	f := newOrchestratorFixture(t)
	seeded := f.seed(t, domain.StatusCompleted)
	f.advance(time.Minute)

	_, err := f.orch.UpdateJobStatus(context.Background(), "t1", domain.JobUpdate{
		Status:   statusPtr(domain.StatusDownloading),
		Progress: floatPtr(10),
	})

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidTransition))

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, seeded.UpdatedAt, stored.UpdatedAt)
	assert.Equal(t, 0.0, stored.Progress)
	assert.Equal(t, 0, f.repo.updates)
}

func TestUpdateJobStatus_MergesMetadataAndTouches(t *testing.T) {
	f := newOrchestratorFixture(t)
	seeded := f.seed(t, domain.StatusQueued)
	f.advance(time.Second)

	job, err := f.orch.UpdateJobStatus(context.Background(), "t1", domain.JobUpdate{
		Status:   statusPtr(domain.StatusResolving),
		Metadata: map[string]interface{}{"name": "ubuntu"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusResolving, job.Status)
	assert.Equal(t, "ubuntu", job.Metadata["name"])
	assert.Equal(t, "magnet:?xt=urn:btih:abc", job.OriginalURL())
	assert.Greater(t, job.UpdatedAt, seeded.UpdatedAt)
	assert.Equal(t, seeded.CreatedAt, job.CreatedAt)
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.UpdateJobStatus(context.Background(), "missing", domain.JobUpdate{})

	assert.True(t, domain.IsCode(err, domain.ErrCodeNotFound))
}

func TestSyncJobStatus_StillQueued(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	_, err := f.orch.CreateJob(ctx, "mock", domain.StartPayload{Magnet: "magnet:?xt=urn:btih:abc"})
	require.NoError(t, err)

	job, err := f.orch.SyncJobStatus(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 1, f.provider.statusCalls)
}

func TestSyncJobStatus_CompletedThenLinks(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.seed(t, domain.StatusQueued)

	f.provider.status = &domain.StatusResult{
		ID:       "t1",
		Status:   domain.StatusCompleted,
		Progress: 100,
		Files:    []domain.JobFile{{ID: "0", Name: "file.iso", Size: 1024}},
		Metadata: map[string]interface{}{"name": "file.iso"},
	}
	f.provider.links = &domain.FileLinksResult{
		JobID: "t1",
		Files: []domain.JobFile{{ID: "0", Name: "file.iso", Size: 1024, URL: "https://cdn.test/file.iso"}},
	}

	job, err := f.orch.SyncJobStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, []string{"t1"}, f.notifier.completed)

	files, err := f.orch.GetFileLinks(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "https://cdn.test/file.iso", files[0].URL)

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/file.iso", stored.Files[0].URL)
}

func TestSyncJobStatus_TerminalSkipsProvider(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusCancelled)

	job, err := f.orch.SyncJobStatus(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, job.Status)
	assert.Equal(t, 0, f.provider.statusCalls)
}

func TestSyncJobStatus_ProviderErrorMarksFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)
	f.provider.statusErr = domain.NewProviderError("mock", domain.ErrCodeNetwork, "connection reset")

	_, err := f.orch.SyncJobStatus(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeNetwork))

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage(), "connection reset")
	assert.Equal(t, []string{"t1"}, f.notifier.failed)
}

func TestSyncJobStatus_CancelledContextDoesNotFailJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.provider.statusErr = domain.NewProviderError("mock", domain.ErrCodeUnknown, "request cancelled")

	_, err := f.orch.SyncJobStatus(ctx, "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, stored.Status)
}

func TestSyncJobStatus_IgnoresRegressionButKeepsProgress(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)
	_, err := f.orch.UpdateJobStatus(context.Background(), "t1", domain.JobUpdate{Progress: floatPtr(40)})
	require.NoError(t, err)

	f.provider.status = &domain.StatusResult{
		ID:       "t1",
		Status:   domain.StatusQueued,
		Progress: 10,
		Metadata: map[string]interface{}{"seeds": 3},
	}

	job, err := f.orch.SyncJobStatus(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDownloading, job.Status)
	assert.Equal(t, 40.0, job.Progress)
	assert.Equal(t, 3, job.Metadata["seeds"])
}

func TestSyncJobStatus_VendorFailureGetsMessage(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusResolving)
	f.provider.status = &domain.StatusResult{ID: "t1", Status: domain.StatusFailed}

	job, err := f.orch.SyncJobStatus(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage())
}

func TestCancelJob_Success(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)

	job, err := f.orch.CancelJob(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, job.Status)
	assert.Equal(t, 1, f.provider.cancelCalls)
	assert.Equal(t, []string{"t1"}, f.notifier.cancelled)
}

func TestCancelJob_TerminalDoesNotCallProvider(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusCompleted)

	_, err := f.orch.CancelJob(context.Background(), "t1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeJobTerminal))
	assert.Contains(t, err.Error(), "COMPLETED")
	assert.Equal(t, 0, f.provider.cancelCalls)
}

func TestCancelJob_ProviderRefusal(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusQueued)
	f.provider.cancel = &domain.CancelResult{Success: false, Message: "Job is already COMPLETED"}

	_, err := f.orch.CancelJob(context.Background(), "t1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Job is already COMPLETED")

	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)
}

func TestGetFileLinks_NotReadyDoesNotCallProvider(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)

	_, err := f.orch.GetFileLinks(context.Background(), "t1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeJobNotReady))
	assert.Equal(t, 0, f.provider.linksCalls)
}

func TestDeleteAndClear(t *testing.T) {
	f := newOrchestratorFixture(t)
	require.NoError(t, f.repo.Create(domain.NewJob("a", "mock", domain.StatusCompleted, "", f.now)))
	require.NoError(t, f.repo.Create(domain.NewJob("b", "mock", domain.StatusCompleted, "", f.now)))
	require.NoError(t, f.repo.Create(domain.NewJob("c", "mock", domain.StatusFailed, "", f.now)))
	require.NoError(t, f.repo.Create(domain.NewJob("d", "mock", domain.StatusQueued, "", f.now)))

	require.NoError(t, f.orch.DeleteJob("d"))
	assert.True(t, domain.IsCode(f.orch.DeleteJob("d"), domain.ErrCodeNotFound))

	n, err := f.orch.ClearCompletedJobs()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := f.orch.GetAllJobs()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].ID)

	stats, err := f.orch.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGetActiveJobs(t *testing.T) {
	f := newOrchestratorFixture(t)
	require.NoError(t, f.repo.Create(domain.NewJob("a", "mock", domain.StatusDownloading, "", f.now)))
	require.NoError(t, f.repo.Create(domain.NewJob("b", "mock", domain.StatusCompleted, "", f.now)))

	active, err := f.orch.GetActiveJobs()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func TestTestProvider(t *testing.T) {
	f := newOrchestratorFixture(t)

	res, err := f.orch.TestProvider(context.Background(), "mock")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.orch.TestProvider(context.Background(), "nope")
	assert.True(t, domain.IsCode(err, domain.ErrCodeProviderNotFound))
}

func TestConcurrentSyncsAreSerialized(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seed(t, domain.StatusDownloading)
	f.provider.status = &domain.StatusResult{ID: "t1", Status: domain.StatusDownloading, Progress: 50}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.SyncJobStatus(context.Background(), "t1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	stored, err := f.orch.GetJob("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored.Version)
}
