package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionPoolError represents errors specific to connection pool operations
type ConnectionPoolError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionPoolError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("connection pool %s: error during %s: %v", e.Address, e.Op, e.Err)
	}
	return fmt.Sprintf("connection pool error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionPoolError) Unwrap() error {
	return e.Err
}

// IsConnectionPoolError checks if an error is a connection pool error
func IsConnectionPoolError(err error) bool {
	var target *ConnectionPoolError
	return errors.As(err, &target)
}

var (
	ErrPoolClosed               = errors.New("attempted to check out a connection from closed connection pool")
	ErrPoolCleared              = errors.New("connection pool was cleared")
	ErrWaitQueueTimeout         = errors.New("timed out while checking out a connection from connection pool")
	ErrInvalidPoolOptions       = errors.New("invalid connection pool options")
	ErrServiceIDRequired        = errors.New("clear called in load balanced mode without a service id")
	ErrUnknownService           = errors.New("no generation is tracked for service")
	ErrConnectionNotCheckedOut  = errors.New("connection is not checked out from this pool")
	ErrNoAuthContext            = errors.New("no auth context found on connection")
	ErrMissingCredentials       = errors.New("no credentials or auth provider available for reauthentication")
	ErrReauthenticationRequired = errors.New("server requires reauthentication")
	ErrPoolExists               = errors.New("a pool for this address is already registered")
)

// WaitQueueTimeoutError is returned when a checkout waited longer than the
// pool's wait queue timeout. The counts are a snapshot taken when the timer
// fired.
type WaitQueueTimeoutError struct {
	Address     string
	Wait        time.Duration
	MaxPoolSize uint64
	Available   int
	Pending     int
	CheckedOut  int

	LoadBalanced      bool
	PinnedCursor      int
	PinnedTransaction int
}

func (e *WaitQueueTimeoutError) Error() string {
	if e.LoadBalanced {
		other := e.CheckedOut - e.PinnedCursor - e.PinnedTransaction
		return fmt.Sprintf("%v (%s): maxPoolSize: %d, connections in use by cursors: %d, "+
			"connections in use by transactions: %d, connections in use by other operations: %d",
			ErrWaitQueueTimeout, e.Address, e.MaxPoolSize, e.PinnedCursor, e.PinnedTransaction, other)
	}
	return fmt.Sprintf("%v (%s) after %s: maxPoolSize: %d, available: %d, pending: %d, checked out: %d",
		ErrWaitQueueTimeout, e.Address, e.Wait, e.MaxPoolSize, e.Available, e.Pending, e.CheckedOut)
}

func (e *WaitQueueTimeoutError) Unwrap() error {
	return ErrWaitQueueTimeout
}

// PoolClearedError is returned to checkouts that were queued when the pool was
// cleared, and delivered to in-use connections interrupted by a clear. Callers
// should go back to server selection and retry.
type PoolClearedError struct {
	Address    string
	Generation uint64
	ServiceID  *uuid.UUID

	// Interrupted is set on the error handed to a checked-out connection that
	// was forcibly checked in by the clear.
	Interrupted bool
}

func (e *PoolClearedError) Error() string {
	if e.Interrupted {
		return fmt.Sprintf("connection to %s interrupted because the pool was cleared (generation %d)", e.Address, e.Generation)
	}
	return fmt.Sprintf("connection pool for %s was cleared because another operation failed", e.Address)
}

func (e *PoolClearedError) Unwrap() error {
	return ErrPoolCleared
}

// Retryable reports that the operation may be retried after server selection.
func (e *PoolClearedError) Retryable() bool {
	return true
}

// NetworkError reports whether the error stands for a lost network link.
func (e *PoolClearedError) NetworkError() bool {
	return e.Interrupted
}
