package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestLoadError_IsEngineUnavailable(t *testing.T) {
	err := fmt.Errorf("startup: %w", &LoadError{Reason: ReasonWeightsUnreachable, Err: ErrWeightsUnreachable})

	if !errors.Is(err, ErrEngineUnavailable) {
		t.Error("LoadError does not satisfy ErrEngineUnavailable")
	}
	if !errors.Is(err, ErrWeightsUnreachable) {
		t.Error("LoadError does not unwrap to its cause")
	}
	if errors.Is(err, ErrOutOfMemory) {
		t.Error("LoadError matched an unrelated sentinel")
	}
}

func TestLoadError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *LoadError
		want string
	}{
		{"without cause", &LoadError{Reason: ReasonUnknown}, "engine: load failed (unknown)"},
		{"with cause", &LoadError{Reason: ReasonOutOfMemory, Err: errors.New("CUDA out of memory")},
			"engine: load failed (out_of_memory): CUDA out of memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyLoadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want LoadReason
	}{
		{"nil", nil, ReasonUnknown},
		{"oom sentinel", fmt.Errorf("load: %w", ErrOutOfMemory), ReasonOutOfMemory},
		{"weights sentinel", ErrWeightsUnreachable, ReasonWeightsUnreachable},
		{"device sentinel", ErrUnsupportedDevice, ReasonUnsupportedDevice},
		{"cuda oom message", errors.New("CUDA error: out of memory"), ReasonOutOfMemory},
		{"missing file", errors.New("open /models/x.safetensors: no such file or directory"), ReasonWeightsUnreachable},
		{"refused", errors.New("dial tcp: connection refused"), ReasonWeightsUnreachable},
		{"unsupported", errors.New("bf16 not supported on this device"), ReasonUnsupportedDevice},
		{"other", errors.New("segmentation fault"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyLoadError(tt.err); got != tt.want {
				t.Errorf("classifyLoadError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLoadError_KeepsExisting(t *testing.T) {
	orig := &LoadError{Reason: ReasonUnsupportedDevice, Err: ErrUnsupportedDevice}
	if got := newLoadError(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Errorf("newLoadError() = %v, want the original LoadError", got)
	}
}

func TestIsOutOfMemory(t *testing.T) {
	if !IsOutOfMemory(fmt.Errorf("edit: %w", ErrOutOfMemory)) {
		t.Error("wrapped ErrOutOfMemory not detected")
	}
	if !IsOutOfMemory(&LoadError{Reason: ReasonOutOfMemory, Err: errors.New("CUDA error: out of memory")}) {
		t.Error("out_of_memory LoadError not detected")
	}
	if IsOutOfMemory(ErrGenerationFailed) {
		t.Error("ErrGenerationFailed detected as OOM")
	}
}
