package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/debridget/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormJobRepository implements domain.JobRepository on top of gorm
type GormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository opens the store selected by the database configuration
func NewJobRepository(cfg domain.DatabaseConfig) (*GormJobRepository, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteJobRepository(cfg.Path)
	case "postgres":
		return NewPostgresJobRepository(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewSQLiteJobRepository creates a repository backed by a sqlite file
func NewSQLiteJobRepository(dbPath string) (*GormJobRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return openJobRepository(sqlite.Open(dbPath))
}

// NewPostgresJobRepository creates a repository backed by postgres
func NewPostgresJobRepository(dsn string) (*GormJobRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn not configured")
	}
	return openJobRepository(postgres.Open(dsn))
}

func openJobRepository(dialector gorm.Dialector) (*GormJobRepository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &GormJobRepository{db: db}, nil
}

// Create creates a new job
func (r *GormJobRepository) Create(job *domain.Job) error {
	return r.db.Create(job).Error
}

// Update replaces a job if its version still matches the stored one
func (r *GormJobRepository) Update(job *domain.Job) error {
	expected := job.Version
	job.Version = expected + 1

	res := r.db.Model(job).Where("version = ?", expected).Select("*").Updates(job)
	if res.Error != nil {
		job.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		job.Version = expected
		var count int64
		if err := r.db.Model(&domain.Job{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.NewJobNotFoundError("", job.ID)
		}
		return domain.NewVersionConflictError(job.ID)
	}
	return nil
}

// Delete deletes a job by ID
func (r *GormJobRepository) Delete(id string) error {
	return r.db.Delete(&domain.Job{}, "id = ?", id).Error
}

// FindByID finds a job by ID
func (r *GormJobRepository) FindByID(id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewJobNotFoundError("", id)
		}
		return nil, err
	}
	return &job, nil
}

// FindAll returns every job, newest first
func (r *GormJobRepository) FindAll() ([]*domain.Job, error) {
	return r.FindWhere(domain.JobFilter{})
}

// FindWhere returns jobs matching the filter, newest first
func (r *GormJobRepository) FindWhere(filter domain.JobFilter) ([]*domain.Job, error) {
	var jobs []*domain.Job
	query := r.db

	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.ExcludeStatuses) > 0 {
		query = query.Where("status NOT IN ?", filter.ExcludeStatuses)
	}

	err := query.Order("created_at DESC").Order("id DESC").Find(&jobs).Error
	return jobs, err
}

// DeleteByStatus deletes all jobs in the given statuses
func (r *GormJobRepository) DeleteByStatus(statuses ...domain.JobStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	res := r.db.Where("status IN ?", statuses).Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}

// GetStats returns job statistics
func (r *GormJobRepository) GetStats() (*domain.JobStats, error) {
	stats := &domain.JobStats{}

	statusCounts := []struct {
		Status domain.JobStatus
		Count  int64
	}{}

	if err := r.db.Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		stats.Total += sc.Count
		switch sc.Status {
		case domain.StatusQueued:
			stats.Queued = sc.Count
		case domain.StatusResolving:
			stats.Resolving = sc.Count
		case domain.StatusDownloading:
			stats.Downloading = sc.Count
		case domain.StatusCompleted:
			stats.Completed = sc.Count
		case domain.StatusFailed:
			stats.Failed = sc.Count
		case domain.StatusCancelled:
			stats.Cancelled = sc.Count
		}
	}

	return stats, nil
}

// Ping checks the database connection
func (r *GormJobRepository) Ping() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (r *GormJobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
