package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies expected failures so callers can branch on them
type ErrorCode string

const (
	ErrCodeInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeJobNotReady       ErrorCode = "JOB_NOT_READY"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeNetwork           ErrorCode = "NETWORK_ERROR"
	ErrCodeAPI               ErrorCode = "API_ERROR"
	ErrCodeUnknown           ErrorCode = "UNKNOWN_ERROR"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeJobTerminal       ErrorCode = "JOB_TERMINAL"
	ErrCodeVersionConflict   ErrorCode = "VERSION_CONFLICT"
	ErrCodeAlreadyRegistered ErrorCode = "ALREADY_REGISTERED"
	ErrCodeProviderMismatch  ErrorCode = "PROVIDER_MISMATCH"
)

// ProviderError is the single error type for every expected failure of the
// provider layer and the job orchestrator. Message is safe to show to users.
type ProviderError struct {
	Provider   string    `json:"provider,omitempty"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code name; used by the retry policy to match
// retryable errors by name
func (e *ProviderError) ErrorCode() string {
	return string(e.Code)
}

// IsRetryable reports whether the failure is transient
func (e *ProviderError) IsRetryable() bool {
	return e.Code == ErrCodeTimeout || e.Code == ErrCodeNetwork
}

// NewProviderError creates a ProviderError
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message}
}

// WithStatus attaches the HTTP status code
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.StatusCode = status
	return e
}

// WithCause attaches the underlying error
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

// CodeOf extracts the ErrorCode of err, or "" when err carries none
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Common error constructors

// NewInvalidPayloadError creates an error for a rejected start payload
func NewInvalidPayloadError(provider, reason string) *ProviderError {
	return NewProviderError(provider, ErrCodeInvalidPayload, reason)
}

// NewJobNotFoundError creates an error for a job unknown locally or remotely
func NewJobNotFoundError(provider, id string) *ProviderError {
	return NewProviderError(provider, ErrCodeNotFound, fmt.Sprintf("job %s not found", id)).
		WithStatus(404)
}

// NewProviderNotFoundError creates an error for an unregistered provider name
func NewProviderNotFoundError(name string) *ProviderError {
	return NewProviderError("", ErrCodeProviderNotFound, fmt.Sprintf("provider %q is not registered", name))
}

// NewJobNotReadyError creates an error for links requested before completion
func NewJobNotReadyError(provider, id string, status string) *ProviderError {
	return NewProviderError(provider, ErrCodeJobNotReady,
		fmt.Sprintf("job %s is not ready (status: %s)", id, status))
}

// NewInvalidTransitionError creates an error for an illegal status change
func NewInvalidTransitionError(id string, from, to JobStatus) *ProviderError {
	return NewProviderError("", ErrCodeInvalidTransition,
		fmt.Sprintf("invalid status transition for job %s: %s -> %s", id, from, to))
}

// NewJobTerminalError creates an error for operations on finished jobs
func NewJobTerminalError(id string, status JobStatus) *ProviderError {
	return NewProviderError("", ErrCodeJobTerminal, fmt.Sprintf("Job is already %s", status))
}

// NewVersionConflictError creates an error for a stale write
func NewVersionConflictError(id string) *ProviderError {
	return NewProviderError("", ErrCodeVersionConflict,
		fmt.Sprintf("job %s was modified concurrently, reload and retry", id))
}
