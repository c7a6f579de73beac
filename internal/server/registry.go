package server

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the process-wide session table. Insert and lookup are
// atomic with respect to "does this id already have a manager", so two
// connections racing on the same id resolve to one manager.
type Registry struct {
	mu       sync.Mutex
	managers map[string]Manager

	timeout    time.Duration
	checkDelay time.Duration
	logger     *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		managers:   make(map[string]Manager),
		timeout:    idleTimeout,
		checkDelay: checkTimeoutDelay,
		logger:     logger,
	}
}

// Resolve returns the manager for id, creating it with create when the
// id is unseen. The created flag tells callers whether they own
// first-connection initialization.
func (r *Registry) Resolve(id string, create func() (Manager, error)) (Manager, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[id]; ok {
		return m, false, nil
	}
	m, err := create()
	if err != nil {
		return nil, false, err
	}
	r.managers[id] = m
	return m, true, nil
}

func (r *Registry) Get(id string) (Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	return m, ok
}

// Put registers a manager under its id, replacing any previous entry.
// Tournaments use it to schedule child matches.
func (r *Registry) Put(m Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[m.ID()] = m
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Snapshot returns the current managers for iteration outside the
// registry lock.
func (r *Registry) Snapshot() []Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	return out
}

// coinFlipResolver is implemented by tournament-linked sessions that
// must pick a winner before an idle teardown, so the bracket never
// stalls on an abandoned match.
type coinFlipResolver interface {
	ResolveByCoinFlip()
}

// StartReaper watches a manager that just lost its last connection and
// removes it after the idle timeout. Exits as soon as a connection
// returns.
func (r *Registry) StartReaper(m Manager) {
	go func() {
		ticker := time.NewTicker(r.checkDelay)
		defer ticker.Stop()
		for {
			if m.ActiveConnections() > 0 {
				return
			}
			if time.Since(m.LastActivity()) > r.timeout {
				if resolver, ok := m.(coinFlipResolver); ok {
					resolver.ResolveByCoinFlip()
				}
				r.Remove(m.ID())
				m.Deactivate()
				r.logger.Info("reaped idle session",
					zap.String("session", m.ID()), zap.String("kind", m.Kind()))
				return
			}
			<-ticker.C
		}
	}()
}
