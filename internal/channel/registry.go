package channel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Factory builds the Manager for a scope the first time it is acquired.
type Factory func(sess Session) (*Manager, error)

type registryEntry struct {
	mgr  *Manager
	refs int
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithEvict registers fn to run after the last owner of a scope releases it
// and its manager has been disconnected. It also runs for every scope on
// Close.
func WithEvict(fn func(scopeID string)) RegistryOption {
	return func(r *Registry) {
		r.evict = fn
	}
}

// Registry shares one Manager per scope between independent owners. The
// first Acquire creates and connects the manager; the last release
// disconnects it and forgets the scope.
type Registry struct {
	factory Factory
	logger  *zap.Logger
	evict   func(scopeID string)

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry constructs a Registry around factory.
func NewRegistry(factory Factory, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factory: factory,
		logger:  logger,
		evict:   func(string) {},
		entries: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the shared Manager for sess.ScopeID and a release func. The
// manager is reconciled with sess, so a refreshed credential replaces the
// live connection. Release is safe to call more than once.
func (r *Registry) Acquire(sess Session) (*Manager, func(), error) {
	if !sess.Valid() {
		return nil, nil, ErrNoSession
	}
	r.mu.Lock()
	entry, ok := r.entries[sess.ScopeID]
	if !ok {
		mgr, err := r.factory(sess)
		if err != nil {
			r.mu.Unlock()
			return nil, nil, fmt.Errorf("create manager for scope %s: %w", sess.ScopeID, err)
		}
		entry = &registryEntry{mgr: mgr}
		r.entries[sess.ScopeID] = entry
	}
	entry.refs++
	refs := entry.refs
	r.mu.Unlock()

	r.logger.Debug("status channel acquired", zap.String("scope_id", sess.ScopeID), zap.Int("refs", refs))
	entry.mgr.Reconcile(sess)

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(sess.ScopeID, entry) })
	}
	return entry.mgr, release, nil
}

func (r *Registry) release(scopeID string, entry *registryEntry) {
	r.mu.Lock()
	entry.refs--
	last := entry.refs == 0
	owned := last && r.entries[scopeID] == entry
	if owned {
		delete(r.entries, scopeID)
	}
	r.mu.Unlock()

	if last {
		r.logger.Debug("last owner released status channel", zap.String("scope_id", scopeID))
		entry.mgr.Disconnect()
	}
	if !owned {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// A scope re-acquired while disconnecting keeps its state.
	if _, reacquired := r.entries[scopeID]; !reacquired {
		r.evict(scopeID)
	}
}

// Len returns the number of scopes with live owners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close disconnects every managed scope regardless of outstanding owners.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()
	for scopeID, entry := range entries {
		entry.mgr.Disconnect()
		r.evict(scopeID)
	}
}
