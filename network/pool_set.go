package network

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// PoolSet holds one pool per server address
type PoolSet struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewPoolSet creates an empty pool set
func NewPoolSet() *PoolSet {
	return &PoolSet{pools: make(map[string]*Pool)}
}

// Add registers a pool under its address
func (s *PoolSet) Add(p *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.Address()]; exists {
		return &ConnectionPoolError{Op: "add_pool", Address: p.Address(), Err: ErrPoolExists}
	}
	s.pools[p.Address()] = p
	return nil
}

// Get returns the pool for address
func (s *PoolSet) Get(address string) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[address]
	return p, ok
}

// Addresses returns the registered addresses in sorted order
func (s *PoolSet) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]string, 0, len(s.pools))
	for addr := range s.pools {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Remove unregisters and returns the pool for address without closing it
func (s *PoolSet) Remove(address string) (*Pool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[address]
	delete(s.pools, address)
	return p, ok
}

// CloseAll closes and unregisters every pool
func (s *PoolSet) CloseAll(ctx context.Context, opts CloseOptions) error {
	s.mu.Lock()
	pools := s.pools
	s.pools = make(map[string]*Pool)
	s.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Close(ctx, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
