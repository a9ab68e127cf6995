package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"edit_worker/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 60 * time.Second

// minCleanupTime is left for cleanup handlers even when draining used up
// the timeout.
const minCleanupTime = time.Second

// Manager ties together the operation tracker, the cleanup registry and
// signal handling:
//
//	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	m.Register("engine", 20, func(ctx context.Context) error { return eng.Close() })
//	m.Start()
//	go poller.Run(m.Context())
//	m.Wait()
//	err := m.Shutdown()
//
// The first SIGINT or SIGTERM cancels Context. Jobs already inside
// WrapOperation finish; new ones are refused. A second signal exits the
// process immediately.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager returns a Manager that is not yet listening for signals.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultTimeout,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func(sig os.Signal) {
		m.logger.Warn("second signal received, exiting without cleanup",
			zap.String("signal", sig.String()),
		)
		_ = m.logger.Sync()
		m.exit(1)
	})
	return m
}

// Context is cancelled on the first signal or by Trigger.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup handler; see Registry for ordering.
func (m *Manager) Register(name string, priority int, fn ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Receive(sig) == 1 {
		m.logger.Info("shutdown signal received, draining",
			zap.String("signal", sig.String()),
			zap.Int64("active_jobs", m.tracker.ActiveCount()),
		)
		m.cancel()
	}
}

// Trigger cancels Context without a signal, for example when the worker's
// main loop ends on its own.
func (m *Manager) Trigger() {
	m.cancel()
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	return m.signals.First()
}

// Wait blocks until Context is cancelled.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// Shutdown refuses new operations, waits for in-flight ones and then runs
// the cleanup handlers with whatever time is left (at least one second).
// Only the first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	deadline := start.Add(m.timeout)
	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int64("active_jobs", m.tracker.ActiveCount()),
		zap.Strings("handlers", m.registry.Names()),
	)

	m.tracker.Close()
	drainCtx, cancelDrain := context.WithDeadline(context.Background(), deadline)
	err := m.tracker.Wait(drainCtx)
	cancelDrain()
	if err != nil {
		m.logger.Warn("in-flight jobs did not finish in time",
			zap.Int64("remaining", m.tracker.ActiveCount()),
			zap.Duration("waited", time.Since(start)),
		)
	}

	remaining := time.Until(deadline)
	if remaining < minCleanupTime {
		remaining = minCleanupTime
	}
	cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), remaining)
	defer cancelCleanup()

	cleanupErr := m.registry.Run(cleanupCtx)
	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	if cleanupErr != nil {
		m.logger.Error("shutdown finished with errors",
			zap.Error(cleanupErr),
			zap.Duration("duration", time.Since(start)),
		)
		return errors.Join(err, cleanupErr)
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return err
}

// WrapOperation runs fn as a tracked operation. Once shutdown has begun it
// returns ErrShuttingDown without calling fn. fn's own error is returned
// unchanged.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if m.ctx.Err() != nil || !m.tracker.Start() {
		m.logger.Debug("operation refused", zap.String("operation", name))
		return ErrShuttingDown
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the number of operations in flight.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether a signal, Trigger or Shutdown has begun
// the shutdown.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil || m.tracker.IsClosed()
}
