package engine

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Precision names accepted by LoadOptions.Precision.
const (
	PrecisionFloat32  = "float32"
	PrecisionFloat16  = "float16"
	PrecisionBFloat16 = "bfloat16"
)

// Device names accepted by LoadOptions.Device.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Edit parameter defaults used when the deployment does not override them.
const (
	DefaultGuidanceScale = 7.5
	DefaultSteps         = 20
	DefaultModelID       = "Qwen/Qwen-Image-Edit"

	// DefaultMaxOutputPixels matches the largest input the codec accepts
	// by default, so an unresized edit of any accepted image fits.
	DefaultMaxOutputPixels = 4096 * 4096
)

// Limits enforced by EditParams.Validate.
const (
	MinGuidanceScale = 1.0
	MaxGuidanceScale = 30.0
	MinSteps         = 1
	MaxSteps         = 150
)

// MemoryFlags are the memory-saving options passed to the backend at load.
type MemoryFlags struct {
	LowCPUMemUsage           bool
	SafeTensors              bool
	MemoryEfficientAttention bool
	CPUOffload               bool
}

// DefaultMemoryFlags enables every memory-saving option.
func DefaultMemoryFlags() MemoryFlags {
	return MemoryFlags{
		LowCPUMemUsage:           true,
		SafeTensors:              true,
		MemoryEfficientAttention: true,
		CPUOffload:               true,
	}
}

// LoadOptions describes the model to load and where to place it.
type LoadOptions struct {
	ModelID   string
	Precision string
	Device    string
	Memory    MemoryFlags
}

// DefaultLoadOptions returns half-precision CUDA options for the default model.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		ModelID:   DefaultModelID,
		Precision: PrecisionFloat16,
		Device:    DeviceCUDA,
		Memory:    DefaultMemoryFlags(),
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (o LoadOptions) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("model_id", o.ModelID)
	enc.AddString("precision", o.Precision)
	enc.AddString("device", o.Device)
	enc.AddBool("low_cpu_mem_usage", o.Memory.LowCPUMemUsage)
	enc.AddBool("safetensors", o.Memory.SafeTensors)
	enc.AddBool("memory_efficient_attention", o.Memory.MemoryEfficientAttention)
	enc.AddBool("cpu_offload", o.Memory.CPUOffload)
	return nil
}

// EditParams is one edit call. Mask is single-channel: 0 marks pixels the
// engine may repaint, 255 marks pixels to keep.
type EditParams struct {
	Prompt        string
	Image         image.Image
	Mask          image.Image
	GuidanceScale float64
	Steps         int
}

// Validate checks params before they reach a backend.
// Returns nil if valid, or an error wrapping ErrInvalidParams.
func (p EditParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidParams)
	}
	if p.Image == nil || p.Image.Bounds().Empty() {
		return fmt.Errorf("%w: source image is empty", ErrInvalidParams)
	}
	if p.Mask == nil {
		return fmt.Errorf("%w: mask is required", ErrInvalidParams)
	}
	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f outside [%.1f, %.1f]",
			ErrInvalidParams, p.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d outside [%d, %d]", ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}
	return nil
}

// Instance is a loaded model. It is owned by the Manager; callers must not
// Close an instance obtained from EnsureReady.
type Instance interface {
	Edit(ctx context.Context, params EditParams) ([]image.Image, error)
	Close() error
}

// Backend loads model instances. Load is expensive and is called at most once
// per load attempt by the Manager.
type Backend interface {
	Name() string
	Load(ctx context.Context, opts LoadOptions) (Instance, error)
}

// MemoryInfo is a snapshot of accelerator memory in megabytes.
type MemoryInfo struct {
	Device  string
	UsedMB  int64
	TotalMB int64
}

// FreeMB returns TotalMB - UsedMB, never negative.
func (m MemoryInfo) FreeMB() int64 {
	if m.TotalMB <= m.UsedMB {
		return 0
	}
	return m.TotalMB - m.UsedMB
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m MemoryInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("device", m.Device)
	enc.AddInt64("used_mb", m.UsedMB)
	enc.AddInt64("total_mb", m.TotalMB)
	enc.AddInt64("free_mb", m.FreeMB())
	return nil
}

// Accelerator exposes the cache reset and memory query the Manager performs
// around every load.
type Accelerator interface {
	Name() string
	ResetCache(ctx context.Context) error
	Memory(ctx context.Context) (MemoryInfo, error)
}

// State is the Manager's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailedLastAttempt
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailedLastAttempt:
		return "failed_last_attempt"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of the Manager.
type Status struct {
	State        State         `json:"-"`
	StateName    string        `json:"state"`
	Backend      string        `json:"backend"`
	Attempts     int           `json:"attempts"`
	Loads        int           `json:"loads"`
	LastError    string        `json:"last_error,omitempty"`
	LastLoadTime time.Duration `json:"last_load_ns,omitempty"`
	LoadedAt     time.Time     `json:"loaded_at,omitempty"`
}
