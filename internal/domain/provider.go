package domain

import (
	"context"
	"strings"
)

// Provider is a pluggable adapter to one third-party download/debrid service
type Provider interface {
	// Name returns the registry name of the provider
	Name() string

	// StartJob submits a new remote job
	StartJob(ctx context.Context, payload StartPayload) (*StartResult, error)

	// GetStatus reports the normalized state of a remote job
	GetStatus(ctx context.Context, jobID string) (*StatusResult, error)

	// Cancel asks the vendor to stop a remote job. Already-finished or absent
	// jobs yield Success=false rather than an error.
	Cancel(ctx context.Context, jobID string) (*CancelResult, error)

	// GetFileLinks resolves final download URLs for a completed job
	GetFileLinks(ctx context.Context, jobID string) (*FileLinksResult, error)

	// TestConnection verifies credentials. Auth failures yield Success=false.
	TestConnection(ctx context.Context) (*ConnectionResult, error)
}

// StartPayload describes what to download
type StartPayload struct {
	URL     string                 `json:"url,omitempty"`
	Magnet  string                 `json:"magnet,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// Source returns the url or, failing that, the magnet
func (p StartPayload) Source() string {
	if p.URL != "" {
		return p.URL
	}
	return p.Magnet
}

// HasSource reports whether a url or magnet is present
func (p StartPayload) HasSource() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Magnet) != ""
}

// BoolOption reads a boolean option, defaulting to false
func (p StartPayload) BoolOption(key string) bool {
	v, ok := p.Options[key].(bool)
	return ok && v
}

// StartResult is returned by Provider.StartJob
type StartResult struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// StatusResult is returned by Provider.GetStatus
type StatusResult struct {
	ID       string                 `json:"id"`
	Status   JobStatus              `json:"status"`
	Progress float64                `json:"progress"`
	Files    []JobFile              `json:"files"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CancelResult is returned by Provider.Cancel
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// FileLinksResult is returned by Provider.GetFileLinks
type FileLinksResult struct {
	JobID string    `json:"jobId"`
	Files []JobFile `json:"files"`
}

// ProviderUser describes the account behind a provider token
type ProviderUser struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Plan     string `json:"plan,omitempty"`
	Premium  bool   `json:"premium"`
}

// ConnectionResult is returned by Provider.TestConnection
type ConnectionResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	User    *ProviderUser `json:"user,omitempty"`
}

// NormalizeProgress converts a vendor progress value to the 0-100 scale.
// fractional is true for vendors that report 0..1; a finished flag or a
// COMPLETED status forces exactly 100.
func NormalizeProgress(raw float64, fractional bool, finished bool, status JobStatus) float64 {
	if finished || status == StatusCompleted {
		return 100
	}
	if fractional {
		raw *= 100
	}
	return ClampProgress(raw)
}
