package network

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthPool(t *testing.T, mechanism string) (*Pool, *int64) {
	t.Helper()

	var reauths int64
	RegisterAuthProvider(mechanism, AuthProviderFunc(func(ctx context.Context, conn *PooledConnection, auth *AuthContext) error {
		atomic.AddInt64(&reauths, 1)
		return nil
	}))
	t.Cleanup(func() { RegisterAuthProvider(mechanism, nil) })

	est := &fakeEstablisher{auth: &AuthContext{
		Credentials: &Credentials{Username: "app", Password: "secret", Mechanism: mechanism},
	}}
	p, _ := newTestPool(t, est, PoolOptions{})
	p.Ready()
	return p, &reauths
}

func TestWithConnectionChecksInOnEveryPath(t *testing.T) {
	p, _ := newAuthPool(t, "TEST-CHECKIN")
	ctx := context.Background()

	err := p.WithConnection(ctx, nil, func(ctx context.Context, conn *PooledConnection) error {
		assert.Equal(t, 1, p.Stats().CheckedOut)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stats().CheckedOut)

	errQuery := errors.New("syntax error")
	err = p.WithConnection(ctx, nil, func(ctx context.Context, conn *PooledConnection) error {
		return errQuery
	})
	assert.Equal(t, errQuery, err)
	assert.Equal(t, 0, p.Stats().CheckedOut)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestWithConnectionReauthenticatesOnce(t *testing.T) {
	p, reauths := newAuthPool(t, "TEST-ONCE")

	calls := 0
	var seen []*PooledConnection
	err := p.WithConnection(context.Background(), nil, func(ctx context.Context, conn *PooledConnection) error {
		calls++
		seen = append(seen, conn)
		if calls == 1 {
			return fmt.Errorf("execute: %w", ErrReauthenticationRequired)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), atomic.LoadInt64(reauths))
	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1])
}

func TestWithConnectionSurfacesSecondFailure(t *testing.T) {
	p, reauths := newAuthPool(t, "TEST-TWICE")

	calls := 0
	err := p.WithConnection(context.Background(), nil, func(ctx context.Context, conn *PooledConnection) error {
		calls++
		return ErrReauthenticationRequired
	})

	assert.ErrorIs(t, err, ErrReauthenticationRequired)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), atomic.LoadInt64(reauths))
	assert.Equal(t, 0, p.Stats().CheckedOut)
}

func TestWithConnectionPinnedIsNotCheckedIn(t *testing.T) {
	p, reauths := newAuthPool(t, "TEST-PINNED")
	ctx := context.Background()

	pinned, err := p.CheckOut(ctx)
	require.NoError(t, err)

	calls := 0
	err = p.WithConnection(ctx, pinned, func(ctx context.Context, conn *PooledConnection) error {
		calls++
		assert.Same(t, pinned, conn)
		if calls == 1 {
			return ErrReauthenticationRequired
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(reauths))
	assert.Equal(t, 1, p.Stats().CheckedOut)

	p.CheckIn(pinned)
	assert.Equal(t, 0, p.Stats().CheckedOut)
}

func TestWithConnectionWithoutAuthContext(t *testing.T) {
	p, _ := newTestPool(t, &fakeEstablisher{}, PoolOptions{})
	p.Ready()

	calls := 0
	err := p.WithConnection(context.Background(), nil, func(ctx context.Context, conn *PooledConnection) error {
		calls++
		return ErrReauthenticationRequired
	})
	assert.ErrorIs(t, err, ErrNoAuthContext)
	assert.Equal(t, 1, calls)
}

func TestWithConnectionWithoutProvider(t *testing.T) {
	est := &fakeEstablisher{auth: &AuthContext{
		Credentials: &Credentials{Username: "app", Mechanism: "UNREGISTERED"},
	}}
	p, _ := newTestPool(t, est, PoolOptions{})
	p.Ready()

	err := p.WithConnection(context.Background(), nil, func(ctx context.Context, conn *PooledConnection) error {
		return ErrReauthenticationRequired
	})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestWithConnectionCheckOutFailure(t *testing.T) {
	p, _ := newTestPool(t, &fakeEstablisher{}, PoolOptions{})

	called := false
	err := p.WithConnection(context.Background(), nil, func(ctx context.Context, conn *PooledConnection) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrPoolCleared)
	assert.False(t, called)
}
