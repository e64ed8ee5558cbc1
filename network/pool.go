// Package network manages the supply of ready connections to one server
// endpoint: a bounded pool with a FIFO wait queue, generation-based
// invalidation, and a background maintainer that keeps a minimum number of
// connections warm.
package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guileen/pglitepool/logger"
)

type poolState int

const (
	poolPaused poolState = iota
	poolReady
	poolClosed
)

func (s poolState) String() string {
	switch s {
	case poolPaused:
		return "paused"
	case poolReady:
		return "ready"
	case poolClosed:
		return "closed"
	}
	return "unknown"
}

// ClearOptions controls a pool clear
type ClearOptions struct {
	// ServiceID selects the backend service to invalidate; required in
	// load-balanced mode and ignored otherwise.
	ServiceID *uuid.UUID
	// InterruptInUseConnections forcibly checks in every checked-out
	// connection from the invalidated generation and hands it a resumable
	// network error.
	InterruptInUseConnections bool
}

// CloseOptions controls a pool close
type CloseOptions struct {
	// Force closes sockets without letting transports say goodbye.
	Force bool
}

// PoolStats contains a snapshot of the pool's state and counters
type PoolStats struct {
	Address            string            `json:"address"`
	State              string            `json:"state"`
	Generation         uint64            `json:"generation"`
	ServiceGenerations map[string]uint64 `json:"service_generations,omitempty"`

	Available  int `json:"available"`
	Pending    int `json:"pending"`
	CheckedOut int `json:"checked_out"`
	Total      int `json:"total"`
	WaitQueue  int `json:"wait_queue"`

	Hits             uint64 `json:"hits"`   // checkouts served from available connections
	Misses           uint64 `json:"misses"` // checkouts that started an establishment
	Timeouts         uint64 `json:"timeouts"`
	CheckOutFailures uint64 `json:"check_out_failures"`
	Created          uint64 `json:"created"`
	Closed           uint64 `json:"closed"`
	ConnectionErrors uint64 `json:"connection_errors"`
}

type poolCounters struct {
	hits, misses, timeouts, checkOutFailures uint64
	created, closed, connectionErrors        uint64
}

// Pool owns, bounds, and arbitrates access to the connections toward one
// server endpoint.
type Pool struct {
	id          uuid.UUID
	address     string
	opts        PoolOptions
	establisher Establisher
	sink        EventSink
	log         *slog.Logger

	mu                 sync.Mutex
	state              poolState
	generation         uint64
	serviceGenerations map[uuid.UUID]uint64
	// available is a stack: the warmest connection is at the end.
	available  []*PooledConnection
	checkedOut map[*PooledConnection]struct{}
	pending    int
	queue      *waitQueue
	nextID     uint64
	counters   poolCounters

	establishCtx    context.Context
	cancelEstablish context.CancelFunc
	establishing    sync.WaitGroup

	minSizeTimer    *time.Timer
	minSizeInFlight bool
}

// NewPool creates a paused pool for address. Connections are opened by
// establisher once the pool is made ready.
func NewPool(address string, establisher Establisher, opts PoolOptions) (*Pool, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, &ConnectionPoolError{Op: "new_pool", Address: address, Err: err}
	}

	log := opts.Logger
	if log == nil {
		log = logger.With(logger.Component("pool"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		id:                 uuid.New(),
		address:            address,
		opts:               opts,
		establisher:        establisher,
		sink:               opts.EventSink,
		log:                log.With(logger.Address(address)),
		state:              poolPaused,
		serviceGenerations: make(map[uuid.UUID]uint64),
		checkedOut:         make(map[*PooledConnection]struct{}),
		queue:              newWaitQueue(),
		establishCtx:       ctx,
		cancelEstablish:    cancel,
	}

	p.mu.Lock()
	p.emit(&PoolEvent{Type: PoolCreated, Options: monitorOptions(opts)})
	p.mu.Unlock()

	return p, nil
}

// ID returns the pool's instance id
func (p *Pool) ID() uuid.UUID { return p.id }

// Address returns the server endpoint the pool connects to
func (p *Pool) Address() string { return p.address }

// Options returns the pool's effective options
func (p *Pool) Options() PoolOptions { return p.opts }

// Generation returns the pool's current generation
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// ServiceGeneration returns the generation tracked for a backend service
func (p *Pool) ServiceGeneration(serviceID uuid.UUID) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen, ok := p.serviceGenerations[serviceID]
	return gen, ok
}

// Ready moves a paused pool to ready and starts min-size maintenance. It is a
// no-op in any other state.
func (p *Pool) Ready() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolPaused {
		return
	}
	p.state = poolReady
	p.emit(&PoolEvent{Type: PoolReady})
	p.stopMinSizeTimer()
	p.ensureMinPoolSize()
}

// Clear invalidates the current generation. In load-balanced mode only the
// given service's generation is bumped and the pool stays ready; otherwise
// the pool pauses and every queued checkout fails with a PoolClearedError.
func (p *Pool) Clear(opts ClearOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == poolClosed {
		return nil
	}

	if p.opts.LoadBalanced {
		if opts.ServiceID == nil {
			return &ConnectionPoolError{Op: "clear", Address: p.address, Err: ErrServiceIDRequired}
		}
		sid := *opts.ServiceID
		gen, ok := p.serviceGenerations[sid]
		if !ok {
			return &ConnectionPoolError{Op: "clear", Address: p.address, Err: ErrUnknownService}
		}
		p.serviceGenerations[sid] = gen + 1
		p.emit(&PoolEvent{Type: PoolCleared, ServiceID: &sid})
		p.log.Info("service generation cleared", "service_id", sid.String(), "generation", gen+1)
		return nil
	}

	oldGeneration := p.generation
	p.generation++
	alreadyPaused := p.state == poolPaused
	p.state = poolPaused
	p.stopMinSizeTimer()

	if !alreadyPaused {
		p.emit(&PoolEvent{Type: PoolCleared, Interruption: opts.InterruptInUseConnections})
		p.log.Info("pool cleared", "generation", p.generation,
			"interrupt_in_use", opts.InterruptInUseConnections)
	}

	if opts.InterruptInUseConnections {
		p.interruptInUseConnections(oldGeneration)
	}

	p.processWaitQueue()
	return nil
}

func (p *Pool) interruptInUseConnections(minGeneration uint64) {
	var victims []*PooledConnection
	for c := range p.checkedOut {
		if c.generation <= minGeneration {
			victims = append(victims, c)
		}
	}
	for _, c := range victims {
		c.setErr(&PoolClearedError{Address: p.address, Generation: minGeneration, Interrupted: true})
		p.checkIn(c)
	}
}

// Close closes the pool: queued checkouts fail, available connections are
// destroyed, and in-flight establishments are cancelled. Close waits for those
// establishments to finish until ctx is done. Closing a closed pool is a no-op.
func (p *Pool) Close(ctx context.Context, opts CloseOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.state == poolClosed {
		p.mu.Unlock()
		return nil
	}
	p.cancelEstablish()
	p.state = poolClosed
	p.stopMinSizeTimer()
	p.processWaitQueue()

	conns := p.available
	p.available = nil
	for _, c := range conns {
		p.destroyConnection(c, ReasonPoolClosed)
	}
	p.mu.Unlock()

	for _, c := range conns {
		if err := c.release(opts.Force); err != nil {
			p.log.Debug("release connection", "connection_id", c.id, logger.ErrorField(err))
		}
	}

	done := make(chan struct{})
	go func() {
		p.establishing.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = &ConnectionPoolError{Op: "close", Address: p.address, Err: ctx.Err()}
	}

	p.mu.Lock()
	p.emit(&PoolEvent{Type: PoolClosedEvent})
	p.mu.Unlock()

	return err
}

// Stats returns a snapshot of pool counts and counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Address:          p.address,
		State:            p.state.String(),
		Generation:       p.generation,
		Available:        len(p.available),
		Pending:          p.pending,
		CheckedOut:       len(p.checkedOut),
		Total:            p.totalConnectionCount(),
		WaitQueue:        p.queue.len(),
		Hits:             p.counters.hits,
		Misses:           p.counters.misses,
		Timeouts:         p.counters.timeouts,
		CheckOutFailures: p.counters.checkOutFailures,
		Created:          p.counters.created,
		Closed:           p.counters.closed,
		ConnectionErrors: p.counters.connectionErrors,
	}
	if len(p.serviceGenerations) > 0 {
		stats.ServiceGenerations = make(map[string]uint64, len(p.serviceGenerations))
		for sid, gen := range p.serviceGenerations {
			stats.ServiceGenerations[sid.String()] = gen
		}
	}
	return stats
}

// Pin marks a checked-out connection as held by a cursor or a transaction.
// Pins only feed the wait-queue timeout diagnostics.
func (p *Pool) Pin(c *PooledConnection, kind PinKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.checkedOut[c]; !ok {
		return &ConnectionPoolError{Op: "pin", Address: p.address, Err: ErrConnectionNotCheckedOut}
	}
	c.pinned = kind
	return nil
}

// Unpin clears a pin set by Pin
func (p *Pool) Unpin(c *PooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.pinned = PinNone
}

// requires p.mu
func (p *Pool) totalConnectionCount() int {
	return len(p.available) + p.pending + len(p.checkedOut)
}

// requires p.mu
func (p *Pool) isStale(c *PooledConnection) bool {
	if p.opts.LoadBalanced && c.serviceID != nil {
		return c.generation != p.serviceGenerations[*c.serviceID]
	}
	return c.generation != p.generation
}

// destroyIfPerished destroys c if it is stale, idle past MaxIdleTime, or
// closed, and reports whether it did. requires p.mu
func (p *Pool) destroyIfPerished(c *PooledConnection) bool {
	stale := p.isStale(c)
	idle := p.opts.MaxIdleTime > 0 && c.IdleTime() > p.opts.MaxIdleTime
	closed := c.IsClosed()
	if !stale && !idle && !closed {
		return false
	}

	reason := ReasonIdle
	switch {
	case closed:
		reason = ReasonError
	case stale:
		reason = ReasonStale
	}
	if p.destroyConnection(c, reason) {
		go p.release(c, false)
	}
	return true
}

// destroyConnection emits ConnectionClosed and marks c destroyed. The caller
// releases the transport. requires p.mu
func (p *Pool) destroyConnection(c *PooledConnection, reason string) bool {
	if !c.markDestroyed() {
		return false
	}
	p.counters.closed++
	p.emit(&PoolEvent{Type: ConnectionClosed, ConnectionID: c.id, ServiceID: c.serviceID, Reason: reason})
	return true
}

func (p *Pool) release(c *PooledConnection, force bool) {
	if err := c.release(force); err != nil {
		p.log.Debug("release connection", "connection_id", c.id, logger.ErrorField(err))
	}
}

// requires p.mu
func (p *Pool) emit(evt *PoolEvent) {
	evt.Time = time.Now()
	evt.Address = p.address
	evt.PoolID = p.id
	if evt.Error != nil {
		evt.ErrorMessage = evt.Error.Error()
	}

	if p.log.Enabled(context.Background(), slog.LevelDebug) {
		args := []any{"event", evt.Type}
		if evt.ConnectionID != 0 {
			args = append(args, "connection_id", evt.ConnectionID)
		}
		if evt.Reason != "" {
			args = append(args, "reason", evt.Reason)
		}
		if evt.Error != nil {
			args = append(args, logger.ErrorField(evt.Error))
		}
		p.log.Debug("pool event", args...)
	}

	if p.sink != nil {
		p.sink.HandleEvent(evt)
	}
}

// requires p.mu
func (p *Pool) closedError(op string) error {
	return &ConnectionPoolError{Op: op, Address: p.address, Err: ErrPoolClosed}
}

// requires p.mu
func (p *Pool) clearedError() error {
	return &PoolClearedError{Address: p.address, Generation: p.generation}
}
