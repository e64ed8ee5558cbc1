package network

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport is an established, bidirectional link to one server endpoint, as
// produced by an Establisher. The pool treats it as opaque.
type Transport interface {
	io.Closer
	// Closed reports whether the link has failed or been closed.
	Closed() bool
}

// ServiceIdentifier is implemented by transports whose handshake reported the
// identity of the backend service behind a load balancer.
type ServiceIdentifier interface {
	ServiceID() (uuid.UUID, bool)
}

// Terminator is implemented by transports that can end the session politely
// before closing the socket.
type Terminator interface {
	Terminate() error
}

// Authenticated is implemented by transports that keep the auth context they
// were established with.
type Authenticated interface {
	AuthContext() *AuthContext
}

// PinKind records why a checked-out connection is held for a long time.
type PinKind int

const (
	PinNone PinKind = iota
	PinCursor
	PinTransaction
)

// PooledConnection wraps a Transport with pool lifecycle management
type PooledConnection struct {
	transport  Transport
	pool       *Pool
	id         uint64
	generation uint64
	serviceID  *uuid.UUID
	createdAt  time.Time
	destroyed  int32 // atomic flag

	// guarded by pool.mu
	pinned PinKind

	mu         sync.RWMutex
	lastUsedAt time.Time
	err        error
}

func newPooledConnection(p *Pool, id, generation uint64, tr Transport) *PooledConnection {
	now := time.Now()
	return &PooledConnection{
		transport:  tr,
		pool:       p,
		id:         id,
		generation: generation,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// ID returns the connection id, unique within its pool
func (pc *PooledConnection) ID() uint64 { return pc.id }

// Generation returns the pool (or service) generation the connection was created in
func (pc *PooledConnection) Generation() uint64 { return pc.generation }

// ServiceID returns the backend service identity in load-balanced mode, or nil
func (pc *PooledConnection) ServiceID() *uuid.UUID { return pc.serviceID }

// Transport returns the underlying transport
func (pc *PooledConnection) Transport() Transport { return pc.transport }

// CreatedAt returns when the connection finished establishing
func (pc *PooledConnection) CreatedAt() time.Time { return pc.createdAt }

// IsClosed reports whether the connection was destroyed or its transport failed
func (pc *PooledConnection) IsClosed() bool {
	return atomic.LoadInt32(&pc.destroyed) == 1 || pc.transport.Closed()
}

// IdleTime returns how long the connection has been available without use
func (pc *PooledConnection) IdleTime() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return time.Since(pc.lastUsedAt)
}

// Err returns the error delivered to the connection when a pool clear
// interrupted it, or nil.
func (pc *PooledConnection) Err() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.err
}

// AuthContext returns the auth context retained by the transport, if any
func (pc *PooledConnection) AuthContext() *AuthContext {
	if a, ok := pc.transport.(Authenticated); ok {
		return a.AuthContext()
	}
	return nil
}

// Close returns the connection to its pool
func (pc *PooledConnection) Close() error {
	if pc.pool != nil {
		pc.pool.CheckIn(pc)
	}
	return nil
}

func (pc *PooledConnection) markAvailable() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.lastUsedAt = time.Now()
}

func (pc *PooledConnection) setErr(err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.err = err
}

// markDestroyed flips the connection to closed and reports whether this call
// did so. The transport is released separately by release.
func (pc *PooledConnection) markDestroyed() bool {
	return atomic.CompareAndSwapInt32(&pc.destroyed, 0, 1)
}

func (pc *PooledConnection) release(force bool) error {
	if !force {
		if t, ok := pc.transport.(Terminator); ok {
			return t.Terminate()
		}
	}
	return pc.transport.Close()
}
