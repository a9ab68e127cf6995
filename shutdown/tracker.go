// Package shutdown coordinates graceful shutdown: it counts in-flight jobs,
// runs cleanup handlers in priority order and turns SIGINT/SIGTERM into
// context cancellation.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShuttingDown is returned when an operation is refused because shutdown
// has begun.
var ErrShuttingDown = errors.New("shutting down, operation refused")

// OperationTracker counts in-flight operations and lets shutdown wait for
// them. Once closed it refuses new operations.
//
//	if !tracker.Start() {
//	    return ErrShuttingDown
//	}
//	defer tracker.Done()
type OperationTracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active atomic.Int64
	closed bool
}

// NewOperationTracker returns an open tracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{}
}

// Start registers one operation. It returns false once the tracker is
// closed; otherwise the caller must call Done exactly once.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active.Add(1)
	return true
}

// Done marks one operation as finished.
func (t *OperationTracker) Done() {
	t.active.Add(-1)
	t.wg.Done()
}

// Close refuses further operations. Running ones are unaffected.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every operation has called Done or ctx ends, in which
// case ctx.Err() is returned.
func (t *OperationTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of operations in flight.
func (t *OperationTracker) ActiveCount() int64 {
	return t.active.Load()
}

// IsClosed reports whether Close has been called.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
