package network

import (
	"context"
	"errors"
	"time"

	"github.com/guileen/pglitepool/logger"
)

// CheckOut obtains exclusive use of a connection. It waits in FIFO order
// behind earlier checkouts until a connection is available or can be
// established, the wait queue timeout elapses, or ctx is done.
//
// CheckOut fails with a *WaitQueueTimeoutError on timeout, a
// *PoolClearedError if the pool was cleared while waiting, a
// *ConnectionPoolError wrapping ErrPoolClosed or the context error, or the
// establisher's own error.
func (p *Pool) CheckOut(ctx context.Context) (*PooledConnection, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	w := newWaitQueueEntry()

	p.mu.Lock()
	p.emit(&PoolEvent{Type: CheckOutStarted})
	if p.opts.WaitQueueTimeout > 0 {
		w.timer = time.AfterFunc(p.opts.WaitQueueTimeout, func() {
			p.expire(w)
		})
	}
	p.queue.push(w)
	p.processWaitQueue()
	p.mu.Unlock()

	select {
	case res := <-w.ready:
		return res.conn, res.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if !w.settled {
		w.cancelled = true
		p.failCheckOut(w, ReasonTimeout,
			&ConnectionPoolError{Op: "check_out", Address: p.address, Err: ctx.Err()})
	}
	p.mu.Unlock()

	res := <-w.ready
	return res.conn, res.err
}

// expire fails an entry whose wait queue timeout elapsed
func (p *Pool) expire(w *waitQueueEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w.settled {
		return
	}
	w.cancelled = true
	p.counters.timeouts++
	p.failCheckOut(w, ReasonTimeout, p.waitQueueTimeoutError(time.Since(w.enqueuedAt)))
}

// requires p.mu
func (p *Pool) waitQueueTimeoutError(wait time.Duration) *WaitQueueTimeoutError {
	err := &WaitQueueTimeoutError{
		Address:      p.address,
		Wait:         wait,
		MaxPoolSize:  p.opts.MaxPoolSize,
		Available:    len(p.available),
		Pending:      p.pending,
		CheckedOut:   len(p.checkedOut),
		LoadBalanced: p.opts.LoadBalanced,
	}
	for c := range p.checkedOut {
		switch c.pinned {
		case PinCursor:
			err.PinnedCursor++
		case PinTransaction:
			err.PinnedTransaction++
		}
	}
	return err
}

// failCheckOut settles w with err and emits the terminal CheckOutFailed event.
// requires p.mu
func (p *Pool) failCheckOut(w *waitQueueEntry, reason string, err error) {
	if !w.settle(nil, err) {
		return
	}
	p.counters.checkOutFailures++
	p.emit(&PoolEvent{
		Type:     CheckOutFailed,
		Reason:   reason,
		Error:    err,
		Duration: time.Since(w.enqueuedAt),
	})
}

// handOut lends c to w. requires p.mu
func (p *Pool) handOut(w *waitQueueEntry, c *PooledConnection) {
	p.checkedOut[c] = struct{}{}
	p.emit(&PoolEvent{
		Type:         ConnectionCheckedOut,
		ConnectionID: c.id,
		ServiceID:    c.serviceID,
		Duration:     time.Since(w.enqueuedAt),
	})
	w.settle(c, nil)
}

// processWaitQueue is the admission pass. It first serves queued checkouts
// from available connections, then starts establishments for the remaining
// demand within the maxPoolSize and maxConnecting bounds. It never blocks.
// requires p.mu
func (p *Pool) processWaitQueue() {
	for p.queue.len() > 0 {
		w := p.queue.front()
		if w.dead() {
			p.queue.popFront()
			continue
		}

		if p.state != poolReady {
			p.queue.popFront()
			if p.state == poolClosed {
				p.failCheckOut(w, ReasonPoolClosed, p.closedError("check_out"))
			} else {
				p.failCheckOut(w, ReasonConnectionError, p.clearedError())
			}
			continue
		}

		c := p.popAvailable()
		if c == nil {
			break
		}
		p.queue.popFront()
		p.counters.hits++
		p.handOut(w, c)
	}

	for p.queue.len() > 0 && uint64(p.pending) < p.opts.MaxConnecting &&
		(p.opts.MaxPoolSize == 0 || uint64(p.totalConnectionCount()) < p.opts.MaxPoolSize) {
		w := p.queue.popFront()
		if w.dead() {
			continue
		}
		p.counters.misses++
		p.createConnection(func(c *PooledConnection, err error) {
			switch {
			case w.dead():
				if c != nil {
					c.markAvailable()
					p.available = append([]*PooledConnection{c}, p.available...)
				}
			case err != nil:
				reason := ReasonConnectionError
				if errors.Is(err, ErrPoolClosed) {
					reason = ReasonPoolClosed
				}
				p.failCheckOut(w, reason, err)
			default:
				p.handOut(w, c)
			}
			p.processWaitQueue()
		})
	}
}

// popAvailable pops the warmest healthy connection, destroying perished ones
// on the way. requires p.mu
func (p *Pool) popAvailable() *PooledConnection {
	for len(p.available) > 0 {
		last := len(p.available) - 1
		c := p.available[last]
		p.available[last] = nil
		p.available = p.available[:last]
		if p.destroyIfPerished(c) {
			continue
		}
		return c
	}
	return nil
}

// CheckIn returns a checked-out connection to the pool. Stale or broken
// connections, and all connections of a closed pool, are destroyed instead.
// Checking in a connection that is not checked out is a no-op.
func (p *Pool) CheckIn(c *PooledConnection) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkIn(c)
}

// requires p.mu
func (p *Pool) checkIn(c *PooledConnection) {
	if _, ok := p.checkedOut[c]; !ok {
		return
	}

	closed := c.IsClosed()
	stale := p.isStale(c)
	poolClosed := p.state == poolClosed
	willDestroy := poolClosed || stale || closed

	if !willDestroy {
		c.markAvailable()
		p.available = append(p.available, c)
	}

	delete(p.checkedOut, c)
	c.pinned = PinNone
	p.emit(&PoolEvent{Type: ConnectionCheckedIn, ConnectionID: c.id, ServiceID: c.serviceID})

	if willDestroy {
		reason := ReasonStale
		switch {
		case closed:
			reason = ReasonError
		case poolClosed:
			reason = ReasonPoolClosed
		}
		if p.destroyConnection(c, reason) {
			go p.release(c, false)
		}
	}

	p.processWaitQueue()
}

// createConnection starts one establishment in its own goroutine. done is
// called with p.mu held once the attempt settles; on failure c is nil.
// requires p.mu
func (p *Pool) createConnection(done func(c *PooledConnection, err error)) {
	p.nextID++
	id := p.nextID
	params := ConnectionParams{
		ID:           id,
		Address:      p.address,
		Generation:   p.generation,
		LoadBalanced: p.opts.LoadBalanced,
	}
	p.pending++
	p.emit(&PoolEvent{Type: ConnectionCreated, ConnectionID: id})

	ctx := p.establishCtx
	p.establishing.Add(1)
	go func() {
		defer p.establishing.Done()

		start := time.Now()
		tr, err := p.establisher.Establish(ctx, params)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.pending--

		if err != nil {
			p.counters.connectionErrors++
			p.emit(&PoolEvent{Type: ConnectionClosed, ConnectionID: id, Reason: ReasonError, Error: err})
			if p.state == poolClosed {
				err = p.closedError("establish")
			}
			done(nil, err)
			return
		}

		if p.state != poolReady || (!p.opts.LoadBalanced && params.Generation != p.generation) {
			reason := ReasonStale
			err := p.clearedError()
			if p.state == poolClosed {
				reason = ReasonPoolClosed
				err = p.closedError("establish")
			}
			p.counters.closed++
			p.emit(&PoolEvent{Type: ConnectionClosed, ConnectionID: id, Reason: reason})
			go func() {
				if cerr := tr.Close(); cerr != nil {
					p.log.Debug("close abandoned transport", "connection_id", id, logger.ErrorField(cerr))
				}
			}()
			done(nil, err)
			return
		}

		c := newPooledConnection(p, id, params.Generation, tr)
		if p.opts.LoadBalanced {
			if si, ok := tr.(ServiceIdentifier); ok {
				if sid, ok := si.ServiceID(); ok {
					gen, known := p.serviceGenerations[sid]
					if !known {
						p.serviceGenerations[sid] = 0
					}
					c.serviceID = &sid
					c.generation = gen
				}
			}
		}

		p.counters.created++
		p.emit(&PoolEvent{
			Type:         ConnectionReady,
			ConnectionID: id,
			ServiceID:    c.serviceID,
			Duration:     time.Since(start),
		})
		done(c, nil)
	}()
}
