package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NetworkError represents a structured network error
type NetworkError struct {
	Operation string
	Address   string
	Err       error
}

func (ne *NetworkError) Error() string {
	if ne.Address != "" {
		return fmt.Sprintf("network error during %s to %s: %v", ne.Operation, ne.Address, ne.Err)
	}
	return fmt.Sprintf("network error during %s: %v", ne.Operation, ne.Err)
}

func (ne *NetworkError) Unwrap() error {
	return ne.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(operation, address string, err error) *NetworkError {
	return &NetworkError{
		Operation: operation,
		Address:   address,
		Err:       err,
	}
}

// IsNetworkError checks if an error is a network error, including the
// resumable error sent to connections interrupted by a pool clear.
func IsNetworkError(err error) bool {
	var target *NetworkError
	if errors.As(err, &target) {
		return true
	}
	var marker interface{ NetworkError() bool }
	return errors.As(err, &marker) && marker.NetworkError()
}

// IsRetryableError reports whether an error tells the caller to retry
// server selection.
func IsRetryableError(err error) bool {
	var marker interface{ Retryable() bool }
	return errors.As(err, &marker) && marker.Retryable()
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrWaitQueueTimeout) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsConnectionError checks if an error is a connection error
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if IsConnectionPoolError(err) || IsNetworkError(err) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

// IsReauthenticationRequired reports whether a unit of work failed because the
// server wants the connection to authenticate again.
func IsReauthenticationRequired(err error) bool {
	return errors.Is(err, ErrReauthenticationRequired)
}

// WrapError wraps an error with additional context
func WrapError(err error, msg string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), err)
}
