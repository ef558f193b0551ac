package infrastructure

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/yourusername/debridget/internal/domain"
	"go.uber.org/zap"
)

// NotificationService sends desktop notifications about finished jobs
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if n.config == nil || !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(message), escapeAppleScript(title))
		if n.config.Sound {
			script += ` sound name "Glass"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyJobCompleted sends notification when a job completes
func (n *NotificationService) NotifyJobCompleted(job *domain.Job) {
	n.Send("Download Ready", fmt.Sprintf("%s (%s)", jobLabel(job), job.Provider))
}

// NotifyJobFailed sends notification when a job fails
func (n *NotificationService) NotifyJobFailed(job *domain.Job) {
	msg := fmt.Sprintf("%s (%s)", jobLabel(job), job.Provider)
	if reason := job.ErrorMessage(); reason != "" {
		msg += ": " + truncateString(reason, 60)
	}
	n.Send("Download Failed", msg)
}

// NotifyJobCancelled sends notification when a job is cancelled
func (n *NotificationService) NotifyJobCancelled(job *domain.Job) {
	n.Send("Download Cancelled", fmt.Sprintf("%s (%s)", jobLabel(job), job.Provider))
}

// jobLabel picks the most readable name for a job
func jobLabel(job *domain.Job) string {
	if name, ok := job.Metadata["name"].(string); ok && name != "" {
		return truncateString(name, 40)
	}
	if u := job.OriginalURL(); u != "" {
		return truncateString(u, 40)
	}
	return job.ID
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
