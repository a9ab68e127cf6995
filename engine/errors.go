package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for engine operations.
var (
	// ErrEngineUnavailable is satisfied by every *LoadError.
	ErrEngineUnavailable = errors.New("engine: model not available")

	// Load failure causes
	ErrOutOfMemory        = errors.New("engine: out of memory")
	ErrWeightsUnreachable = errors.New("engine: model weights unreachable")
	ErrUnsupportedDevice  = errors.New("engine: unsupported device or precision")

	// Inference errors
	ErrGenerationFailed = errors.New("engine: generation failed")
	ErrNoOutput         = errors.New("engine: engine returned no images")
	ErrInvalidParams    = errors.New("engine: invalid edit parameters")

	ErrUnknownBackend = errors.New("engine: unknown backend")
)

// LoadReason classifies why a load attempt failed.
type LoadReason string

const (
	ReasonOutOfMemory        LoadReason = "out_of_memory"
	ReasonWeightsUnreachable LoadReason = "weights_unreachable"
	ReasonUnsupportedDevice  LoadReason = "unsupported_device"
	ReasonUnknown            LoadReason = "unknown"
)

// LoadError is returned by Manager.EnsureReady when the engine could not be
// brought to the ready state. The manager stays in FailedLastAttempt and the
// next EnsureReady call tries again.
type LoadError struct {
	Reason LoadReason
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: load failed (%s)", e.Reason)
	}
	return fmt.Sprintf("engine: load failed (%s): %v", e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is reports ErrEngineUnavailable for any LoadError so callers can branch on
// availability without knowing the cause.
func (e *LoadError) Is(target error) bool {
	return target == ErrEngineUnavailable
}

// newLoadError wraps err and classifies it.
func newLoadError(err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{Reason: classifyLoadError(err), Err: err}
}

// classifyLoadError maps a backend error to a LoadReason. Sentinels win;
// otherwise the message is matched against the phrases accelerator runtimes
// use for the same conditions.
func classifyLoadError(err error) LoadReason {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, ErrOutOfMemory):
		return ReasonOutOfMemory
	case errors.Is(err, ErrWeightsUnreachable):
		return ReasonWeightsUnreachable
	case errors.Is(err, ErrUnsupportedDevice):
		return ReasonUnsupportedDevice
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory"):
		return ReasonOutOfMemory
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return ReasonWeightsUnreachable
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return ReasonUnsupportedDevice
	}
	return ReasonUnknown
}

// IsOutOfMemory reports whether err is an out-of-memory condition from a load
// or an edit.
func IsOutOfMemory(err error) bool {
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	var le *LoadError
	return errors.As(err, &le) && le.Reason == ReasonOutOfMemory
}
