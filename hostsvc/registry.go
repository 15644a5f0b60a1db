package hostsvc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ewal-lang/ewal/pkg/bytecode"
)

// moduleHandle is a server-side reference to a loaded module.
type moduleHandle struct {
	id       string
	module   *bytecode.Module
	created  time.Time
	lastUsed time.Time
}

// ModuleStore maps opaque handle IDs to loaded modules, so a Load call and
// the Run calls that follow it can run against a module without resending
// its bytecode every time.
type ModuleStore struct {
	mu      sync.RWMutex
	modules map[string]*moduleHandle
	nextID  atomic.Uint64
}

// NewModuleStore creates an empty module store.
func NewModuleStore() *ModuleStore {
	return &ModuleStore{modules: make(map[string]*moduleHandle)}
}

// Create registers a decoded module and returns its opaque handle ID.
func (s *ModuleStore) Create(m *bytecode.Module) string {
	id := fmt.Sprintf("mod-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.modules[id] = &moduleHandle{id: id, module: m, created: now, lastUsed: now}
	return id
}

// Lookup retrieves the module for a handle.
func (s *ModuleStore) Lookup(id string) (*bytecode.Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.modules[id]
	if !ok {
		return nil, false
	}
	h.lastUsed = time.Now()
	return h.module, true
}

// Release removes a handle.
func (s *ModuleStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.modules, id)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *ModuleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, h := range s.modules {
		if h.lastUsed.Before(cutoff) {
			delete(s.modules, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background. Returns a stop
// function.
func (s *ModuleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
