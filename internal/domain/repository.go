package domain

// JobRepository defines the interface for job persistence
type JobRepository interface {
	// Create inserts a new job
	Create(job *Job) error

	// Update replaces an existing job. The write is rejected with a
	// VERSION_CONFLICT error when job.Version no longer matches the stored
	// version; on success job.Version is incremented.
	Update(job *Job) error

	// Delete deletes a job by ID
	Delete(id string) error

	// FindByID finds a job by ID, returning a NOT_FOUND error when absent
	FindByID(id string) (*Job, error)

	// FindAll returns every job, newest first
	FindAll() ([]*Job, error)

	// FindWhere returns jobs matching the filter, newest first
	FindWhere(filter JobFilter) ([]*Job, error)

	// DeleteByStatus deletes every job in one of the given statuses
	DeleteByStatus(statuses ...JobStatus) (int64, error)

	// GetStats returns job counts per status
	GetStats() (*JobStats, error)
}

// JobFilter narrows FindWhere
type JobFilter struct {
	Provider        string
	Statuses        []JobStatus
	ExcludeStatuses []JobStatus
}

// Matches reports whether a job satisfies the filter
func (f JobFilter) Matches(job *Job) bool {
	if f.Provider != "" && job.Provider != f.Provider {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, job.Status) {
		return false
	}
	if containsStatus(f.ExcludeStatuses, job.Status) {
		return false
	}
	return true
}

func containsStatus(list []JobStatus, s JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
