package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/guileen/pglitepool/logger"
	"github.com/guileen/pglitepool/network"
)

// EventReplayer reads back recorded pool events
type EventReplayer interface {
	Replay(address string, fn func(evt network.PoolEvent) error) error
}

// PoolHandler serves the admin API over a pool set
type PoolHandler struct {
	pools  *network.PoolSet
	events EventReplayer
}

// NewPoolHandler creates a handler. events may be nil, which disables the
// events route.
func NewPoolHandler(pools *network.PoolSet, events EventReplayer) *PoolHandler {
	return &PoolHandler{pools: pools, events: events}
}

func (h *PoolHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pools", func(r chi.Router) {
		r.Get("/", h.ListPools)
		r.Route("/{address}", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Post("/ready", h.Ready)
			r.Post("/clear", h.Clear)
			r.Get("/events", h.ListEvents)
		})
	})
}

type ListPoolsResponse struct {
	Pools []network.PoolStats `json:"pools"`
	Count int                 `json:"count"`
}

type ClearRequest struct {
	ServiceID                 string `json:"service_id,omitempty"`
	InterruptInUseConnections bool   `json:"interrupt_in_use_connections,omitempty"`
}

type EventsResponse struct {
	Events []network.PoolEvent `json:"events"`
	Count  int                 `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	resp := ListPoolsResponse{Pools: []network.PoolStats{}}
	for _, addr := range h.pools.Addresses() {
		if p, ok := h.pools.Get(addr); ok {
			resp.Pools = append(resp.Pools, p.Stats())
		}
	}
	resp.Count = len(resp.Pools)
	writeJSON(w, http.StatusOK, resp)
}

func (h *PoolHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

func (h *PoolHandler) Ready(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	p.Ready()
	writeJSON(w, http.StatusOK, p.Stats())
}

func (h *PoolHandler) Clear(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	opts := network.ClearOptions{InterruptInUseConnections: req.InterruptInUseConnections}
	if req.ServiceID != "" {
		sid, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid service_id: %w", err))
			return
		}
		opts.ServiceID = &sid
	}

	if err := p.Clear(opts); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, network.ErrServiceIDRequired) || errors.Is(err, network.ErrUnknownService) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	logger.InfoContext(r.Context(), "pool cleared via admin api",
		logger.Address(p.Address()), "service_id", req.ServiceID)
	writeJSON(w, http.StatusOK, p.Stats())
}

func (h *PoolHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event journal is not enabled"))
		return
	}
	address, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := getIntQueryParam(r, "limit", 100)
	typ := r.URL.Query().Get("type")

	// keep the most recent limit events
	resp := EventsResponse{Events: []network.PoolEvent{}}
	err = h.events.Replay(address, func(evt network.PoolEvent) error {
		if typ != "" && evt.Type != typ {
			return nil
		}
		resp.Events = append(resp.Events, evt)
		if limit > 0 && len(resp.Events) > limit {
			resp.Events = resp.Events[1:]
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp.Count = len(resp.Events)
	writeJSON(w, http.StatusOK, resp)
}

func (h *PoolHandler) lookup(w http.ResponseWriter, r *http.Request) (*network.Pool, bool) {
	address, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	p, ok := h.pools.Get(address)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no pool for address %q", address))
		return nil, false
	}
	return p, true
}

// addressParam decodes the address path segment; unix socket paths arrive
// percent-encoded.
func addressParam(r *http.Request) (string, error) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	return address, nil
}

// Helper functions
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
