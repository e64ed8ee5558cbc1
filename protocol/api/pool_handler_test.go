package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pglitepool/network"
)

type stubTransport struct{ closed atomic.Bool }

func (s *stubTransport) Close() error { s.closed.Store(true); return nil }
func (s *stubTransport) Closed() bool { return s.closed.Load() }

type stubReplayer struct {
	events []network.PoolEvent
}

func (s *stubReplayer) Replay(address string, fn func(evt network.PoolEvent) error) error {
	for _, evt := range s.events {
		if evt.Address != address {
			continue
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	return nil
}

func setupTestPoolHandler(t *testing.T, opts network.PoolOptions, addresses ...string) (http.Handler, *network.PoolSet) {
	t.Helper()

	set := network.NewPoolSet()
	est := network.EstablisherFunc(func(ctx context.Context, params network.ConnectionParams) (network.Transport, error) {
		return &stubTransport{}, nil
	})
	for _, addr := range addresses {
		p, err := network.NewPool(addr, est, opts)
		require.NoError(t, err)
		require.NoError(t, set.Add(p))
	}
	t.Cleanup(func() { _ = set.CloseAll(context.Background(), network.CloseOptions{}) })

	replayer := &stubReplayer{events: []network.PoolEvent{
		{Type: network.PoolCreated, Address: "db1.test:5432"},
		{Type: network.CheckOutStarted, Address: "db1.test:5432"},
		{Type: network.ConnectionCheckedOut, Address: "db1.test:5432"},
		{Type: network.CheckOutStarted, Address: "db1.test:5432"},
		{Type: network.PoolCreated, Address: "db2.test:5432"},
	}}

	router := chi.NewRouter()
	NewPoolHandler(set, replayer).RegisterRoutes(router)
	return router, set
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPoolHandler_ListPools(t *testing.T) {
	h, _ := setupTestPoolHandler(t, network.PoolOptions{}, "db2.test:5432", "db1.test:5432")

	rec := do(t, h, http.MethodGet, "/pools/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListPoolsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "db1.test:5432", resp.Pools[0].Address)
	assert.Equal(t, "paused", resp.Pools[0].State)
}

func TestPoolHandler_ReadyAndStats(t *testing.T) {
	h, set := setupTestPoolHandler(t, network.PoolOptions{}, "db1.test:5432")

	rec := do(t, h, http.MethodPost, "/pools/db1.test:5432/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	p, _ := set.Get("db1.test:5432")
	c, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	defer p.CheckIn(c)

	rec = do(t, h, http.MethodGet, "/pools/db1.test:5432/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats network.PoolStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, 1, stats.CheckedOut)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestPoolHandler_UnknownPool(t *testing.T) {
	h, _ := setupTestPoolHandler(t, network.PoolOptions{}, "db1.test:5432")

	rec := do(t, h, http.MethodGet, "/pools/nowhere:5432/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "nowhere:5432")
}

func TestPoolHandler_UnixSocketAddress(t *testing.T) {
	h, _ := setupTestPoolHandler(t, network.PoolOptions{}, "/var/run/postgresql/.s.PGSQL.5432")

	target := "/pools/" + url.PathEscape("/var/run/postgresql/.s.PGSQL.5432") + "/stats"
	rec := do(t, h, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPoolHandler_Clear(t *testing.T) {
	h, set := setupTestPoolHandler(t, network.PoolOptions{}, "db1.test:5432")
	do(t, h, http.MethodPost, "/pools/db1.test:5432/ready", nil)

	rec := do(t, h, http.MethodPost, "/pools/db1.test:5432/clear", ClearRequest{InterruptInUseConnections: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var stats network.PoolStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, "paused", stats.State)
	assert.Equal(t, uint64(1), stats.Generation)

	p, _ := set.Get("db1.test:5432")
	assert.Equal(t, uint64(1), p.Generation())

	// empty body is accepted
	rec = do(t, h, http.MethodPost, "/pools/db1.test:5432/clear", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPoolHandler_ClearLoadBalanced(t *testing.T) {
	h, _ := setupTestPoolHandler(t, network.PoolOptions{LoadBalanced: true}, "lb.test:5432")

	rec := do(t, h, http.MethodPost, "/pools/lb.test:5432/clear", ClearRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/pools/lb.test:5432/clear", ClearRequest{ServiceID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/pools/lb.test:5432/clear", ClearRequest{ServiceID: uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Error, network.ErrUnknownService.Error())
}

func TestPoolHandler_ListEvents(t *testing.T) {
	h, _ := setupTestPoolHandler(t, network.PoolOptions{}, "db1.test:5432")

	rec := do(t, h, http.MethodGet, "/pools/db1.test:5432/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 4, resp.Count)

	rec = do(t, h, http.MethodGet, "/pools/db1.test:5432/events?type=ConnectionCheckOutStarted&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = EventsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, network.CheckOutStarted, resp.Events[0].Type)
}
