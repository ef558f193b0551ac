package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory names one of the structured log streams
type LogCategory string

const (
	CategoryJobs  LogCategory = "jobs"  // Job lifecycle events (JSON)
	CategoryError LogCategory = "error" // Application and provider errors (JSON)
)

var categories = []LogCategory{CategoryJobs, CategoryError}

// Categories lists every category, in display order
func Categories() []LogCategory {
	return append([]LogCategory(nil), categories...)
}

// ParseCategory maps a category name to a LogCategory
func ParseCategory(s string) (LogCategory, bool) {
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CategoryLogPath is the file a category writes to on a given day
func CategoryLogPath(logsDir string, category LogCategory, date time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s-%s.log", category, date.Format("20060102")))
}

// JobRef identifies the job an event belongs to
type JobRef struct {
	ID       string
	Provider string
	Status   string
	Progress float64
}

func (r JobRef) fields() []zap.Field {
	return []zap.Field{
		zap.String("job_id", r.ID),
		zap.String("provider", r.Provider),
		zap.String("status", r.Status),
		zap.Float64("progress", r.Progress),
	}
}

// MultiLoggerConfig contains configuration for category logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string

	// Now picks the day file; defaults to time.Now
	Now func() time.Time
}

// MultiLogger writes JSON logs into one file per category and day. Files
// roll over when the date changes.
type MultiLogger struct {
	dir     string
	loggers map[LogCategory]*zap.Logger
	writers map[LogCategory]*dailyFile
}

// NewMultiLogger opens the category logs under config.LogsDir
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}
	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	ml := &MultiLogger{
		dir:     config.LogsDir,
		loggers: make(map[LogCategory]*zap.Logger, len(categories)),
		writers: make(map[LogCategory]*dailyFile, len(categories)),
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.CallerKey = ""

	for _, category := range categories {
		w := &dailyFile{dir: config.LogsDir, category: category, now: now}
		if err := w.ensureOpen(); err != nil {
			ml.Close()
			return nil, fmt.Errorf("failed to open %s log: %w", category, err)
		}

		categoryLevel := level
		if category == CategoryError && categoryLevel < zapcore.WarnLevel {
			categoryLevel = zapcore.WarnLevel
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, categoryLevel)

		ml.writers[category] = w
		ml.loggers[category] = zap.New(core).With(zap.String("category", string(category)))
	}

	return ml, nil
}

// LogsDir returns the directory the category files live in
func (ml *MultiLogger) LogsDir() string {
	return ml.dir
}

// Jobs returns the job lifecycle logger
func (ml *MultiLogger) Jobs() *zap.Logger {
	return ml.loggers[CategoryJobs]
}

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.loggers[CategoryError]
}

// LogJobEvent records a lifecycle event of one job
func (ml *MultiLogger) LogJobEvent(event string, job JobRef, fields ...zap.Field) {
	ml.Jobs().Info(event, append(job.fields(), fields...)...)
}

// LogEvent records an event on the jobs stream that is not tied to one job
func (ml *MultiLogger) LogEvent(event string, fields ...zap.Field) {
	ml.Jobs().Info(event, fields...)
}

// LogAppError records a failure on the error stream
func (ml *MultiLogger) LogAppError(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ml.Error().Error(msg, fields...)
}

// Sync flushes every category
func (ml *MultiLogger) Sync() error {
	var firstErr error
	for _, l := range ml.loggers {
		if err := l.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and closes every category file
func (ml *MultiLogger) Close() error {
	firstErr := ml.Sync()
	for _, w := range ml.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dailyFile is a WriteSyncer that reopens its file when the day changes
type dailyFile struct {
	dir      string
	category LogCategory
	now      func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

func (d *dailyFile) ensureOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked()
}

func (d *dailyFile) rotateLocked() error {
	now := d.now()
	day := now.Format("20060102")
	if d.file != nil && day == d.day {
		return nil
	}

	f, err := os.OpenFile(CategoryLogPath(d.dir, d.category, now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if d.file != nil {
		d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
