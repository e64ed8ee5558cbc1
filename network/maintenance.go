package network

import (
	"errors"
	"time"

	"github.com/guileen/pglitepool/logger"
)

// ensureMinPoolSize is one tick of the min-size maintainer. It prunes
// perished connections and starts at most one establishment toward
// MinPoolSize, then schedules the next tick. requires p.mu
func (p *Pool) ensureMinPoolSize() {
	if p.state != poolReady || p.opts.MinPoolSize == 0 || p.minSizeInFlight {
		return
	}

	kept := p.available[:0]
	for _, c := range p.available {
		if !p.destroyIfPerished(c) {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(p.available); i++ {
		p.available[i] = nil
	}
	p.available = kept

	if uint64(p.totalConnectionCount()) >= p.opts.MinPoolSize ||
		uint64(p.pending) >= p.opts.MaxConnecting {
		p.scheduleMinPoolSize()
		return
	}

	p.minSizeInFlight = true
	p.createConnection(func(c *PooledConnection, err error) {
		p.minSizeInFlight = false

		switch {
		case errors.Is(err, ErrPoolCleared) || errors.Is(err, ErrPoolClosed):
		case err != nil:
			p.log.Warn("min pool size establishment failed", logger.ErrorField(err))
			if h := p.opts.ErrorHandler; h != nil {
				go h(err)
			}
		default:
			c.markAvailable()
			p.available = append([]*PooledConnection{c}, p.available...)
			p.processWaitQueue()
		}

		p.scheduleMinPoolSize()
	})
}

// scheduleMinPoolSize arms the next maintainer tick while the pool is ready.
// requires p.mu
func (p *Pool) scheduleMinPoolSize() {
	if p.state != poolReady {
		return
	}
	p.stopMinSizeTimer()
	var t *time.Timer
	t = time.AfterFunc(p.opts.MinPoolSizeCheckFrequency, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.minSizeTimer != t {
			return
		}
		p.minSizeTimer = nil
		p.ensureMinPoolSize()
	})
	p.minSizeTimer = t
}

// requires p.mu
func (p *Pool) stopMinSizeTimer() {
	if p.minSizeTimer != nil {
		p.minSizeTimer.Stop()
		p.minSizeTimer = nil
	}
}
