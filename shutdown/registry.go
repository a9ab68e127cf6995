package shutdown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ShutdownFunc releases one resource. It should honor ctx's deadline and be
// safe to call more than once.
type ShutdownFunc func(ctx context.Context) error

type handlerEntry struct {
	name     string
	priority int
	seq      int
	fn       ShutdownFunc
}

// Registry holds cleanup handlers. Lower priorities run first; handlers with
// equal priority run in registration order.
//
// Priorities used by the worker:
//   - 20: release the engine instance
//   - 40: remove stale temp files
//   - 90: flush the logger
type Registry struct {
	mu      sync.Mutex
	entries []handlerEntry
	closed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler. It is ignored after Run.
func (r *Registry) Register(name string, priority int, fn ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || fn == nil {
		return
	}
	r.entries = append(r.entries, handlerEntry{
		name:     name,
		priority: priority,
		seq:      len(r.entries),
		fn:       fn,
	})
}

// Run calls every handler once, in order, even if some fail. The result
// joins each failure prefixed with its handler name. A second Run is a no-op.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the handlers in the order Run calls them.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sorted must be called with mu held.
func (r *Registry) sorted() []handlerEntry {
	out := slices.Clone(r.entries)
	slices.SortFunc(out, func(a, b handlerEntry) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}
