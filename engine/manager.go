package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"edit_worker/logging"
)

const loadKey = "engine-load"

// Manager owns the process-wide engine instance and its lifecycle.
//
// State machine:
//
//	Uninitialized --load ok--> Ready
//	Uninitialized --load fails--> FailedLastAttempt
//	FailedLastAttempt --EnsureReady--> (load again)
//	Ready --Close--> Uninitialized
//
// Thread Safety:
//   - EnsureReady is safe for concurrent use; concurrent callers that find the
//     engine not ready share one in-flight load.
//   - The Ready path is a read-locked check and does not block on loads.
//   - Load and Close are serialized.
type Manager struct {
	backend Backend
	accel   Accelerator
	opts    LoadOptions
	logger  *logging.Logger

	loadTimeout time.Duration

	group  singleflight.Group
	loadMu sync.Mutex

	mu       sync.RWMutex
	state    State
	instance Instance
	attempts int
	loads    int
	lastErr  error
	lastLoad time.Duration
	loadedAt time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAccelerator sets the accelerator reset before every load.
// Defaults to NoopAccelerator.
func WithAccelerator(a Accelerator) ManagerOption {
	return func(m *Manager) {
		if a != nil {
			m.accel = a
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLoadTimeout bounds a single load attempt. Zero means no bound.
func WithLoadTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.loadTimeout = d
	}
}

// NewManager creates a Manager in the Uninitialized state. Nothing is loaded
// until the first EnsureReady.
func NewManager(backend Backend, opts LoadOptions, options ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		accel:   NoopAccelerator{},
		opts:    opts,
		logger:  logging.NewNop(),
		state:   StateUninitialized,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// EnsureReady returns the loaded instance, loading it first if needed.
//
// Exactly one Backend.Load runs per load attempt no matter how many goroutines
// call EnsureReady concurrently. Failures are returned as *LoadError, which
// satisfies errors.Is(err, ErrEngineUnavailable). A failed attempt is not
// retried; the next call starts a new attempt.
func (m *Manager) EnsureReady(ctx context.Context) (Instance, error) {
	if inst := m.readyInstance(); inst != nil {
		return inst, nil
	}

	v, err, shared := m.group.Do(loadKey, func() (interface{}, error) {
		return m.load(ctx)
	})
	if shared {
		m.logger.Debug("joined in-flight engine load")
	}
	if err != nil {
		return nil, err
	}
	return v.(Instance), nil
}

func (m *Manager) readyInstance() Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateReady {
		return m.instance
	}
	return nil
}

// load runs one attempt: close stale instance, reset accelerator, log memory,
// Backend.Load, log memory.
func (m *Manager) load(ctx context.Context) (Instance, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	// A load that finished between the caller's ready check and this point.
	if inst := m.readyInstance(); inst != nil {
		return inst, nil
	}

	m.mu.Lock()
	stale := m.instance
	m.instance = nil
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	// One caller cancelling must not fail the callers sharing this load.
	loadCtx := context.WithoutCancel(ctx)
	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(loadCtx, m.loadTimeout)
		defer cancel()
	}

	log := m.logger.With(
		zap.Int("attempt", attempt),
		zap.String("backend", m.backend.Name()),
		zap.Object("options", m.opts),
	)
	log.Info("loading engine")

	if stale != nil {
		if err := stale.Close(); err != nil {
			log.Warn("failed to close stale engine instance", zap.Error(err))
		}
	}

	if err := m.accel.ResetCache(loadCtx); err != nil {
		log.Warn("accelerator cache reset failed", zap.String("accelerator", m.accel.Name()), zap.Error(err))
	}
	m.logMemory(loadCtx, log, "before_load")

	start := time.Now()
	inst, err := m.callBackend(loadCtx)
	elapsed := time.Since(start)

	m.logMemory(loadCtx, log, "after_load")

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		loadErr := newLoadError(err)
		m.state = StateFailedLastAttempt
		m.lastErr = loadErr
		log.Error("engine load failed",
			zap.String("reason", string(loadErr.Reason)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, loadErr
	}

	m.state = StateReady
	m.instance = inst
	m.loads++
	m.lastErr = nil
	m.lastLoad = elapsed
	m.loadedAt = time.Now()
	log.Info("engine ready", zap.Duration("elapsed", elapsed))
	return inst, nil
}

// callBackend invokes Backend.Load, converting a panic into an error.
func (m *Manager) callBackend(ctx context.Context) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("backend %s panicked during load: %v", m.backend.Name(), r)
		}
	}()

	inst, err = m.backend.Load(ctx, m.opts)
	if err == nil && inst == nil {
		err = errors.New("backend returned no instance")
	}
	return inst, err
}

// LogMemory logs accelerator memory under event. A failed read is logged at
// debug level only.
func (m *Manager) LogMemory(ctx context.Context, event string) {
	m.logMemory(ctx, m.logger, event)
}

func (m *Manager) logMemory(ctx context.Context, log *logging.Logger, event string) {
	info, err := m.accel.Memory(ctx)
	if err != nil {
		log.Debug("accelerator memory unavailable", zap.String("event", event), zap.Error(err))
		return
	}
	log.Info("accelerator memory", zap.String("event", event), zap.Object("memory", info))
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot for health reporting.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		State:        m.state,
		StateName:    m.state.String(),
		Backend:      m.backend.Name(),
		Attempts:     m.attempts,
		Loads:        m.loads,
		LastLoadTime: m.lastLoad,
		LoadedAt:     m.loadedAt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Close releases the loaded instance and returns to Uninitialized.
// Safe to call more than once.
func (m *Manager) Close() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	inst := m.instance
	m.instance = nil
	m.state = StateUninitialized
	m.mu.Unlock()

	if inst == nil {
		return nil
	}
	m.logger.Info("releasing engine instance", zap.String("backend", m.backend.Name()))
	return inst.Close()
}
