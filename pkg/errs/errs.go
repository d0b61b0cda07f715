// Package errs holds the error taxonomy shared by the session, ingestion,
// media and reply components. Callers wrap these sentinels with %w and test
// them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks connection drops and provider timeouts. Recovered locally.
	ErrTransient = errors.New("transient provider error")
	// ErrPermanentAuth marks a session the network revoked; the tenant must re-link.
	ErrPermanentAuth = errors.New("permanent auth error")
	// ErrValidation marks a malformed or incomplete inbound payload.
	ErrValidation = errors.New("validation error")
	// ErrDuplicate marks a dedup-key collision. Always treated as success.
	ErrDuplicate = errors.New("duplicate")
	// ErrDegradedExtraction marks a media extraction that fell back to a placeholder.
	ErrDegradedExtraction = errors.New("degraded extraction")
	// ErrNotReady marks a send attempted while the tenant session is not connected.
	ErrNotReady = errors.New("session not ready")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

// Capability provider failures. Media placeholders and reply fallbacks are
// chosen from these.
var (
	ErrTimeout    = errors.New("provider timeout")
	ErrQuota      = errors.New("provider quota exhausted")
	ErrInvalidKey = errors.New("provider rejected credentials")
	ErrTooLarge   = errors.New("input too large")
	ErrFormat     = errors.New("unsupported format")
)

// RateLimitError is returned when a tenant exhausted its window.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// IsDuplicate reports whether err is a dedup collision.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
