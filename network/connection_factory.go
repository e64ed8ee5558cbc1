package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// ConnectionParams describes the connection an Establisher is asked to open
type ConnectionParams struct {
	ID           uint64
	Address      string
	Generation   uint64
	LoadBalanced bool
}

// Establisher opens new transports for a pool. Establish must honor ctx: the
// pool cancels it on close and may discard a late result.
type Establisher interface {
	Establish(ctx context.Context, params ConnectionParams) (Transport, error)
}

// EstablisherFunc adapts a function to an Establisher
type EstablisherFunc func(ctx context.Context, params ConnectionParams) (Transport, error)

// Establish implements Establisher.
func (f EstablisherFunc) Establish(ctx context.Context, params ConnectionParams) (Transport, error) {
	return f(ctx, params)
}

// NetConn is a Transport over a net.Conn that reports itself closed after
// Close or after the first I/O error that is not a timeout.
type NetConn struct {
	net.Conn
	closed int32 // atomic flag
}

// NewNetConn wraps c
func NewNetConn(c net.Conn) *NetConn {
	return &NetConn{Conn: c}
}

// Read implements io.Reader
func (nc *NetConn) Read(b []byte) (int, error) {
	n, err := nc.Conn.Read(b)
	nc.observe(err)
	return n, err
}

// Write implements io.Writer
func (nc *NetConn) Write(b []byte) (int, error) {
	n, err := nc.Conn.Write(b)
	nc.observe(err)
	return n, err
}

// Close closes the underlying connection once
func (nc *NetConn) Close() error {
	if !atomic.CompareAndSwapInt32(&nc.closed, 0, 1) {
		return nil
	}
	return nc.Conn.Close()
}

// Closed implements Transport.
func (nc *NetConn) Closed() bool {
	return atomic.LoadInt32(&nc.closed) == 1
}

func (nc *NetConn) observe(err error) {
	if err == nil {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	atomic.StoreInt32(&nc.closed, 1)
}

// DialEstablisher dials raw stream connections (tcp or unix)
type DialEstablisher struct {
	network string
	timeout time.Duration
	dialer  net.Dialer
}

// NewTCPEstablisher creates an establisher that dials TCP addresses
func NewTCPEstablisher(timeout time.Duration) *DialEstablisher {
	return newDialEstablisher("tcp", timeout)
}

// NewUnixEstablisher creates an establisher that dials Unix socket paths
func NewUnixEstablisher(timeout time.Duration) *DialEstablisher {
	return newDialEstablisher("unix", timeout)
}

func newDialEstablisher(network string, timeout time.Duration) *DialEstablisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DialEstablisher{network: network, timeout: timeout}
}

// Dial opens a NetConn to address, bounded by the establisher timeout and ctx
func (d *DialEstablisher) Dial(ctx context.Context, address string) (*NetConn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dialer.DialContext(ctx, d.network, address)
	if err != nil {
		return nil, NewNetworkError("dial", address, fmt.Errorf("failed to dial %s %s: %w", d.network, address, err))
	}
	return NewNetConn(conn), nil
}

// Establish implements Establisher.
func (d *DialEstablisher) Establish(ctx context.Context, params ConnectionParams) (Transport, error) {
	return d.Dial(ctx, params.Address)
}
