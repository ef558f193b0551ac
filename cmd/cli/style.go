package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/yourusername/debridget/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)

	statusStyles = map[domain.JobStatus]lipgloss.Style{
		domain.StatusQueued:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		domain.StatusResolving:   lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		domain.StatusDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		domain.StatusCompleted:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		domain.StatusFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		domain.StatusCancelled:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

func renderStatus(s domain.JobStatus) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// jobName picks the most readable label for a job
func jobName(job *domain.Job) string {
	if name, ok := job.Metadata["name"].(string); ok && name != "" {
		return name
	}
	if u := job.OriginalURL(); u != "" {
		return u
	}
	return job.ID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
