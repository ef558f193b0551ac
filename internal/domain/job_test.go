package domain

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	job := NewJob("torrent:1", "torbox", StatusQueued, "magnet:?xt=abc", now)

	assert.Equal(t, "torrent:1", job.ID)
	assert.Equal(t, "torbox", job.Provider)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	assert.Empty(t, job.Files)
	assert.Equal(t, "magnet:?xt=abc", job.OriginalURL())
	assert.Equal(t, int64(1700000000000), job.CreatedAt)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestNewFailedJob(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	job := NewFailedJob("mock", "boom", "https://example.com/a.iso", now)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage())
	assert.Equal(t, "https://example.com/a.iso", job.OriginalURL())
	assert.Regexp(t, regexp.MustCompile(`^failed_1700000000000_[0-9a-f]{8}$`), job.ID)
}

func TestFailedJobID_Unique(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, FailedJobID(now), FailedJobID(now))
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusResolving.IsTerminal())
	assert.False(t, StatusDownloading.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestParseJobStatus(t *testing.T) {
	s, err := ParseJobStatus(" downloading ")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, s)

	_, err = ParseJobStatus("paused")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusQueued, StatusResolving, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusDownloading, false},
		{StatusQueued, StatusCompleted, false},
		{StatusResolving, StatusDownloading, true},
		{StatusResolving, StatusQueued, false},
		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusDownloading, StatusResolving, false},
		{StatusDownloading, StatusDownloading, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusDownloading, false},
		{JobStatus("BOGUS"), StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_TerminalHasNoExits(t *testing.T) {
	for _, from := range TerminalStatuses {
		for _, to := range AllStatuses {
			if from == to {
				continue
			}
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionPath(t *testing.T) {
	path, ok := TransitionPath(StatusQueued, StatusCompleted)
	require.True(t, ok)
	assert.Equal(t, []JobStatus{StatusResolving, StatusDownloading, StatusCompleted}, path)

	path, ok = TransitionPath(StatusQueued, StatusDownloading)
	require.True(t, ok)
	assert.Equal(t, []JobStatus{StatusResolving, StatusDownloading}, path)

	path, ok = TransitionPath(StatusResolving, StatusFailed)
	require.True(t, ok)
	assert.Equal(t, []JobStatus{StatusFailed}, path)

	path, ok = TransitionPath(StatusDownloading, StatusDownloading)
	assert.True(t, ok)
	assert.Empty(t, path)

	_, ok = TransitionPath(StatusDownloading, StatusQueued)
	assert.False(t, ok)

	_, ok = TransitionPath(StatusCompleted, StatusFailed)
	assert.False(t, ok)
}

func TestIsRegression(t *testing.T) {
	assert.True(t, IsRegression(StatusDownloading, StatusQueued))
	assert.True(t, IsRegression(StatusResolving, StatusQueued))
	assert.False(t, IsRegression(StatusQueued, StatusDownloading))
	assert.False(t, IsRegression(StatusDownloading, StatusFailed))
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, ClampProgress(-5))
	assert.Equal(t, 42.5, ClampProgress(42.5))
	assert.Equal(t, 100.0, ClampProgress(150))
	assert.Equal(t, 0.0, ClampProgress(math.NaN()))
}

func TestNormalizeProgress(t *testing.T) {
	assert.Equal(t, 50.0, NormalizeProgress(0.5, true, false, StatusDownloading))
	assert.Equal(t, 100.0, NormalizeProgress(0.3, true, true, StatusDownloading))
	assert.Equal(t, 100.0, NormalizeProgress(12, false, false, StatusCompleted))
	assert.Equal(t, 100.0, NormalizeProgress(250, false, false, StatusDownloading))
	assert.Equal(t, 25.0, NormalizeProgress(0.25, true, false, StatusFailed))
	assert.Equal(t, 42.0, NormalizeProgress(42, false, false, StatusCancelled))
}

func TestJob_MergeMetadata(t *testing.T) {
	job := NewJob("1", "mock", StatusQueued, "https://a", time.Now())

	job.MergeMetadata(map[string]interface{}{"name": "a.iso", MetaOriginalURL: "https://b"})

	assert.Equal(t, "a.iso", job.Metadata["name"])
	assert.Equal(t, "https://b", job.OriginalURL())
}

func TestJob_Clone(t *testing.T) {
	job := NewJob("1", "mock", StatusQueued, "https://a", time.Now())
	job.Files = []JobFile{{ID: "0", Name: "a.iso", Size: 1}}

	clone := job.Clone()
	clone.Files[0].Name = "changed"
	clone.Metadata["x"] = 1

	assert.Equal(t, "a.iso", job.Files[0].Name)
	assert.NotContains(t, job.Metadata, "x")
}

func TestJobFilter_Matches(t *testing.T) {
	job := NewJob("1", "mock", StatusDownloading, "", time.Now())

	assert.True(t, JobFilter{}.Matches(job))
	assert.True(t, JobFilter{Provider: "mock"}.Matches(job))
	assert.False(t, JobFilter{Provider: "torbox"}.Matches(job))
	assert.True(t, JobFilter{Statuses: []JobStatus{StatusDownloading}}.Matches(job))
	assert.False(t, JobFilter{ExcludeStatuses: TerminalStatuses}.Matches(NewJob("2", "mock", StatusFailed, "", time.Now())))
}
