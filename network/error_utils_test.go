package network

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNetworkError(t *testing.T) {
	origErr := errors.New("connection refused")
	netErr := NewNetworkError("connect", "localhost:5432", origErr)

	if netErr == nil {
		t.Fatal("NewNetworkError returned nil")
	}

	if netErr.Operation != "connect" {
		t.Errorf("Expected operation 'connect', got '%s'", netErr.Operation)
	}

	if netErr.Address != "localhost:5432" {
		t.Errorf("Expected address 'localhost:5432', got '%s'", netErr.Address)
	}

	if !errors.Is(netErr, origErr) {
		t.Error("NetworkError should wrap the original error")
	}

	if !IsNetworkError(netErr) {
		t.Error("IsNetworkError should return true for NetworkError")
	}

	if IsNetworkError(origErr) {
		t.Error("IsNetworkError should return false for non-NetworkError")
	}
}

func TestErrorTypeChecking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !IsTimeoutError(ctx.Err()) {
		t.Error("IsTimeoutError should return true for cancelled context")
	}

	wqErr := &WaitQueueTimeoutError{Address: "db:5432", Wait: time.Second, MaxPoolSize: 2}
	if !IsTimeoutError(wqErr) {
		t.Error("IsTimeoutError should return true for a wait queue timeout")
	}
	if !errors.Is(wqErr, ErrWaitQueueTimeout) {
		t.Error("WaitQueueTimeoutError should match ErrWaitQueueTimeout")
	}

	connRefused := errors.New("connection refused")
	if !IsConnectionError(connRefused) {
		t.Error("IsConnectionError should return true for 'connection refused'")
	}

	brokenPipe := errors.New("broken pipe")
	if !IsConnectionError(brokenPipe) {
		t.Error("IsConnectionError should return true for 'broken pipe'")
	}

	poolErr := &ConnectionPoolError{Op: "check_out", Err: ErrPoolClosed}
	if !IsConnectionError(poolErr) || !errors.Is(poolErr, ErrPoolClosed) {
		t.Error("ConnectionPoolError should be a connection error wrapping ErrPoolClosed")
	}
}

func TestPoolClearedErrorClassification(t *testing.T) {
	queued := &PoolClearedError{Address: "db:5432", Generation: 1}
	if !errors.Is(queued, ErrPoolCleared) {
		t.Error("PoolClearedError should match ErrPoolCleared")
	}
	if !IsRetryableError(queued) {
		t.Error("PoolClearedError should be retryable")
	}
	if IsNetworkError(queued) {
		t.Error("a queued checkout failure is not a network error")
	}

	interrupted := &PoolClearedError{Address: "db:5432", Generation: 1, Interrupted: true}
	if !IsNetworkError(interrupted) {
		t.Error("an interrupted connection error should be a network error")
	}

	wrapped := WrapError(ErrReauthenticationRequired, "find")
	if !IsReauthenticationRequired(wrapped) {
		t.Error("wrapped reauthentication errors should be detected")
	}
}

func TestWrapError(t *testing.T) {
	origErr := errors.New("original error")
	wrapped := WrapError(origErr, "additional context: %s", "test")

	if wrapped == nil {
		t.Fatal("WrapError returned nil")
	}

	if !errors.Is(wrapped, origErr) {
		t.Error("Wrapped error should contain original error")
	}

	expectedMsg := "additional context: test: original error"
	if wrapped.Error() != expectedMsg {
		t.Errorf("Expected message '%s', got '%s'", expectedMsg, wrapped.Error())
	}
}
