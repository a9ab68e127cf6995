// Package engine owns the image-edit model: the backend contract, the
// backends themselves, and the Manager that loads the model once and hands
// the shared instance to every job.
//
// Composition:
//
//   - Atoms: errors, LoadOptions, EditParams.Validate, MemoryInfo
//   - Molecules: LocalBackend, OpenAIBackend, NvidiaAccelerator
//   - Organism: Manager, the lifecycle state machine
//
// # Quick Start
//
//	mgr, err := engine.New(engine.Config{
//	    Backend: engine.BackendLocal,
//	    Load:    engine.DefaultLoadOptions(),
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	inst, err := mgr.EnsureReady(ctx)
//	if errors.Is(err, engine.ErrEngineUnavailable) {
//	    // report "model not available"
//	}
//	images, err := inst.Edit(ctx, params)
package engine

import (
	"fmt"
	"strings"
	"time"

	"edit_worker/logging"
)

// Config selects and configures a backend and its accelerator.
type Config struct {
	// Backend is "local" or "openai".
	Backend string

	Load   LoadOptions
	Local  LocalConfig
	OpenAI OpenAIConfig

	// Accelerator is "auto", "nvidia" or "none".
	Accelerator   string
	NvidiaSMIPath string

	// LoadTimeout bounds one load attempt. Zero means no bound.
	LoadTimeout time.Duration
}

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(cfg Config, logger *logging.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		return NewLocalBackend(cfg.Local, logger), nil
	case BackendOpenAI:
		return NewOpenAIBackend(cfg.OpenAI, logger)
	default:
		return nil, fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownBackend, cfg.Backend, BackendLocal, BackendOpenAI)
	}
}

// New builds the backend and accelerator from cfg and returns an
// uninitialized Manager over them.
func New(cfg Config, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Named("engine")

	backend, err := NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	accel, err := NewAccelerator(cfg.Accelerator, cfg.NvidiaSMIPath, log)
	if err != nil {
		return nil, err
	}

	return NewManager(backend, cfg.Load,
		WithAccelerator(accel),
		WithLogger(log),
		WithLoadTimeout(cfg.LoadTimeout),
	), nil
}
