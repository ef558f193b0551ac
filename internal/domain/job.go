package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the uniform status of a job across all providers
type JobStatus string

const (
	StatusQueued      JobStatus = "QUEUED"
	StatusResolving   JobStatus = "RESOLVING"
	StatusDownloading JobStatus = "DOWNLOADING"
	StatusCompleted   JobStatus = "COMPLETED"
	StatusFailed      JobStatus = "FAILED"
	StatusCancelled   JobStatus = "CANCELLED"
)

// Reserved metadata keys
const (
	MetaOriginalURL  = "originalUrl"
	MetaErrorMessage = "errorMessage"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{
	StatusQueued,
	StatusResolving,
	StatusDownloading,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// TerminalStatuses are the statuses from which no transition is permitted
var TerminalStatuses = []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusQueued: {
		StatusResolving: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusResolving: {
		StatusDownloading: true,
		StatusFailed:      true,
		StatusCancelled:   true,
	},
	StatusDownloading: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// forwardChain is the happy path used to walk over skipped intermediate states
var forwardChain = []JobStatus{StatusQueued, StatusResolving, StatusDownloading, StatusCompleted}

// IsValid reports whether s is one of the six known statuses
func (s JobStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether s is COMPLETED, FAILED or CANCELLED
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus parses a status name case-insensitively
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("unknown job status: %q", s)
	}
	return status, nil
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return from.IsValid()
	}
	return allowedTransitions[from][to]
}

// TransitionPath returns the legal steps leading from one status to another,
// excluding from and including to. A direct edge yields a single step; a
// forward jump along QUEUED -> RESOLVING -> DOWNLOADING -> COMPLETED yields
// every intermediate status. ok is false when no path exists.
func TransitionPath(from, to JobStatus) (path []JobStatus, ok bool) {
	if from == to {
		return nil, from.IsValid()
	}
	if CanTransition(from, to) {
		return []JobStatus{to}, true
	}

	start, end := -1, -1
	for i, s := range forwardChain {
		if s == from {
			start = i
		}
		if s == to {
			end = i
		}
	}
	if start < 0 || end < 0 || end <= start {
		return nil, false
	}
	return append([]JobStatus(nil), forwardChain[start+1:end+1]...), true
}

// IsRegression reports whether moving from one status to another would go
// backwards along the happy path (e.g. DOWNLOADING -> QUEUED)
func IsRegression(from, to JobStatus) bool {
	fromIdx, toIdx := -1, -1
	for i, s := range forwardChain {
		if s == from {
			fromIdx = i
		}
		if s == to {
			toIdx = i
		}
	}
	return fromIdx >= 0 && toIdx >= 0 && toIdx < fromIdx
}

// JobFile is a single file belonging to a job
type JobFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
	Selected *bool  `json:"selected,omitempty"`
}

// Job represents one tracked unit of remote download work
type Job struct {
	ID        string                 `json:"id" gorm:"primaryKey"`
	Provider  string                 `json:"provider" gorm:"not null;index"`
	Status    JobStatus              `json:"status" gorm:"not null;index"`
	Progress  float64                `json:"progress"`
	Files     []JobFile              `json:"files" gorm:"serializer:json;type:text"`
	Metadata  map[string]interface{} `json:"metadata" gorm:"serializer:json;type:text"`
	CreatedAt int64                  `json:"createdAt" gorm:"not null;index;autoCreateTime:false"` // epoch milliseconds
	UpdatedAt int64                  `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`       // epoch milliseconds
	Version   int64                  `json:"version" gorm:"not null;default:0"`
}

// TableName specifies the table name for GORM
func (Job) TableName() string {
	return "jobs"
}

// NewJob creates a freshly started job with zero progress and no files
func NewJob(id, provider string, status JobStatus, originalURL string, now time.Time) *Job {
	ts := now.UnixMilli()
	job := &Job{
		ID:        id,
		Provider:  provider,
		Status:    status,
		Progress:  0,
		Files:     []JobFile{},
		Metadata:  map[string]interface{}{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if originalURL != "" {
		job.Metadata[MetaOriginalURL] = originalURL
	}
	return job
}

// NewFailedJob creates a synthetic FAILED job for a start attempt that never
// reached the provider or was rejected by it
func NewFailedJob(provider, errorMessage, originalURL string, now time.Time) *Job {
	job := NewJob(FailedJobID(now), provider, StatusFailed, originalURL, now)
	job.Metadata[MetaErrorMessage] = errorMessage
	return job
}

// FailedJobID generates a local id of the form failed_<epochMillis>_<rand>
func FailedJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("failed_%d_%s", now.UnixMilli(), suffix)
}

// ClampProgress bounds a progress value to [0, 100]
func ClampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// MergeMetadata shallow-merges patch onto the job's metadata
func (j *Job) MergeMetadata(patch map[string]interface{}) {
	if len(patch) == 0 {
		return
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		j.Metadata[k] = v
	}
}

// Touch refreshes UpdatedAt
func (j *Job) Touch(now time.Time) {
	j.UpdatedAt = now.UnixMilli()
}

// IsTerminal checks if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsActive checks if the job still has remote work outstanding
func (j *Job) IsActive() bool {
	return !j.Status.IsTerminal()
}

// ErrorMessage returns metadata.errorMessage when present
func (j *Job) ErrorMessage() string {
	if s, ok := j.Metadata[MetaErrorMessage].(string); ok {
		return s
	}
	return ""
}

// OriginalURL returns metadata.originalUrl when present
func (j *Job) OriginalURL() string {
	if s, ok := j.Metadata[MetaOriginalURL].(string); ok {
		return s
	}
	return ""
}

// Clone returns a deep-enough copy so callers can mutate files and metadata
// without touching the original
func (j *Job) Clone() *Job {
	c := *j
	if j.Files != nil {
		c.Files = make([]JobFile, len(j.Files))
		copy(c.Files, j.Files)
	}
	if j.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// JobUpdate describes a partial mutation of a job. Nil fields are left untouched.
type JobUpdate struct {
	Status   *JobStatus
	Progress *float64
	Files    []JobFile
	Metadata map[string]interface{}
}

// JobStats represents job counts per status
type JobStats struct {
	Total       int64 `json:"total"`
	Queued      int64 `json:"queued"`
	Resolving   int64 `json:"resolving"`
	Downloading int64 `json:"downloading"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Cancelled   int64 `json:"cancelled"`
}
