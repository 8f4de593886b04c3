// Copyright 2025 James Ross
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
)

var (
	// ErrTransient marks backend timeouts, connection loss and transient
	// command failures. Subject to retry per the adapter's policy and
	// surfaced after exhaustion.
	ErrTransient = errors.New("transient storage failure")

	// ErrPermanent marks serialization failures, schema mismatches and
	// integrity violations. Surfaced immediately.
	ErrPermanent = errors.New("permanent storage failure")

	// ErrLockUnavailable is returned when a lock is held by another writer
	// and not stale. Callers downgrade it to a warning and proceed.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrAdapterNotFound is returned when a manager lookup names an
	// unregistered adapter.
	ErrAdapterNotFound = errors.New("adapter not registered")

	// ErrNotConnected is returned when a networked adapter cannot establish
	// its connection within the retry budget.
	ErrNotConnected = errors.New("backend connection failed")
)

// AdapterError wraps backend-specific errors with operation context.
type AdapterError struct {
	Adapter   string
	Operation string
	ChunkID   string
	Err       error
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("adapter %s: operation %s failed", e.Adapter, e.Operation)
	if e.ChunkID != "" {
		msg += fmt.Sprintf(" (chunk: %s)", e.ChunkID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new adapter error.
func NewAdapterError(adapter, operation, chunkID string, err error) *AdapterError {
	return &AdapterError{
		Adapter:   adapter,
		Operation: operation,
		ChunkID:   chunkID,
		Err:       err,
	}
}

// IsRetryable returns true if the error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrTransient):
		return true
	case errors.Is(err, ErrNotConnected):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, ErrLockUnavailable):
		return false // Downgraded to a warning, never retried.
	default:
		var adapterErr *AdapterError
		if errors.As(err, &adapterErr) {
			return IsRetryable(adapterErr.Err)
		}
		return false
	}
}

// IsPermanent returns true if the error indicates a permanent failure.
func IsPermanent(err error) bool {
	switch {
	case errors.Is(err, ErrPermanent):
		return true
	case errors.Is(err, chunk.ErrInvalidInput):
		return true
	case errors.Is(err, ErrAdapterNotFound):
		return true
	default:
		var adapterErr *AdapterError
		if errors.As(err, &adapterErr) {
			return IsPermanent(adapterErr.Err)
		}
		return false
	}
}

// ErrorCode returns a stable error code for the error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTransient):
		return "STORAGE_TRANSIENT"
	case errors.Is(err, ErrPermanent):
		return "STORAGE_PERMANENT"
	case errors.Is(err, ErrLockUnavailable):
		return "LOCK_UNAVAILABLE"
	case errors.Is(err, ErrAdapterNotFound):
		return "ADAPTER_NOT_FOUND"
	case errors.Is(err, ErrNotConnected):
		return "CONNECTION_FAILED"
	case errors.Is(err, chunk.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, chunk.ErrNoStrategy):
		return "NO_STRATEGY"
	case errors.Is(err, chunk.ErrDepthExceeded):
		return "DEPTH_EXCEEDED"
	default:
		var adapterErr *AdapterError
		if errors.As(err, &adapterErr) {
			return "ADAPTER_ERROR"
		}
		return "UNKNOWN_ERROR"
	}
}
