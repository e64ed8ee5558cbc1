package network

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	closed     int32
	terminated int32
	serviceID  *uuid.UUID
	auth       *AuthContext
}

func (t *fakeTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	return nil
}

func (t *fakeTransport) Closed() bool { return atomic.LoadInt32(&t.closed) == 1 }

func (t *fakeTransport) Terminate() error {
	atomic.StoreInt32(&t.terminated, 1)
	return t.Close()
}

func (t *fakeTransport) ServiceID() (uuid.UUID, bool) {
	if t.serviceID == nil {
		return uuid.UUID{}, false
	}
	return *t.serviceID, true
}

func (t *fakeTransport) AuthContext() *AuthContext { return t.auth }

// fakeEstablisher hands out fakeTransports. With a gate, each establishment
// blocks until the test sends on it.
type fakeEstablisher struct {
	gate     chan struct{}
	err      error
	services []uuid.UUID
	auth     *AuthContext

	calls       int64
	inFlight    int64
	maxInFlight int64

	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeEstablisher) Establish(ctx context.Context, params ConnectionParams) (Transport, error) {
	n := atomic.AddInt64(&f.calls, 1)
	cur := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		max := atomic.LoadInt64(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt64(&f.maxInFlight, max, cur) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	tr := &fakeTransport{auth: f.auth}
	if len(f.services) > 0 {
		sid := f.services[int(n-1)%len(f.services)]
		tr.serviceID = &sid
	}
	f.mu.Lock()
	f.transports = append(f.transports, tr)
	f.mu.Unlock()
	return tr, nil
}

func (f *fakeEstablisher) release(t *testing.T) {
	t.Helper()
	select {
	case f.gate <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no establishment waiting on the gate")
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []PoolEvent
	check  func(evt *PoolEvent)
}

func (r *eventRecorder) HandleEvent(evt *PoolEvent) {
	if r.check != nil {
		r.check(evt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *evt)
}

func (r *eventRecorder) ofType(typ string) []PoolEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PoolEvent
	for _, evt := range r.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

func (r *eventRecorder) count(typ string) int {
	return len(r.ofType(typ))
}

func newTestPool(t *testing.T, est Establisher, opts PoolOptions) (*Pool, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	if opts.EventSink == nil {
		opts.EventSink = rec
	}
	p, err := NewPool("db.test:5432", est, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Close(ctx, CloseOptions{Force: true})
	})
	return p, rec
}

type checkOutResultAsync struct {
	conn *PooledConnection
	err  error
}

func checkOutAsync(ctx context.Context, p *Pool) <-chan checkOutResultAsync {
	ch := make(chan checkOutResultAsync, 1)
	go func() {
		c, err := p.CheckOut(ctx)
		ch <- checkOutResultAsync{conn: c, err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan checkOutResultAsync) checkOutResultAsync {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("checkout did not settle")
		return checkOutResultAsync{}
	}
}

func queued(p *Pool, n int) func() bool {
	return func() bool { return p.Stats().WaitQueue == n }
}
