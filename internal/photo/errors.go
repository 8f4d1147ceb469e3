package photo

import (
	"errors"
	"fmt"
)

// AuthInvalidError means the session credentials cannot authorize any download.
// It is fatal to the whole run.
type AuthInvalidError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthInvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication invalid during %s: %v", e.Operation, e.Err)
	}

	return fmt.Sprintf("authentication invalid during %s", e.Operation)
}

func (e *AuthInvalidError) Unwrap() error {
	return e.Err
}

// ResolutionError is returned when the remote API refuses to produce a download URL.
type ResolutionError struct {
	RemoteID   string // Identifier that failed to resolve
	APICode    int    // Error code reported by the API, 0 when unknown
	APIMessage string // Error message from the API
	Err        error  // Underlying error, if any
}

func (e *ResolutionError) Error() string {
	if e.APICode != 0 {
		return fmt.Sprintf("failed to resolve download url for %s (code %d): %s", e.RemoteID, e.APICode, e.APIMessage)
	}

	return fmt.Sprintf("failed to resolve download url for %s: %s", e.RemoteID, e.APIMessage)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransferError represents network, HTTP and disk failures while fetching a file.
type TransferError struct {
	Path       string // Destination path of the transfer
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Reason     string // Human-readable explanation
	Err        error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transfer of %s failed (HTTP %d): %s", e.Path, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("transfer of %s failed: %s", e.Path, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// SizeLimitError is returned when the remote resource is larger than the configured cap.
type SizeLimitError struct {
	Path      string
	TotalSize int64
	Limit     int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file %s exceeds size limit: %d > %d bytes", e.Path, e.TotalSize, e.Limit)
}

// IntegrityError means a transferred file does not match what was expected of it.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s", e.Path, e.Reason)
}

// ConfigError represents missing or invalid external configuration.
type ConfigError struct {
	Field  string // Configuration field or file at fault
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an item-level error may succeed in a later round.
// Size limit violations are policy failures and are never retried in the same run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sizeErr *SizeLimitError
	if errors.As(err, &sizeErr) {
		return false
	}

	return !IsFatal(err)
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	var authErr *AuthInvalidError
	if errors.As(err, &authErr) {
		return true
	}

	var cfgErr *ConfigError

	return errors.As(err, &cfgErr)
}
