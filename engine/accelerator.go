package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"edit_worker/logging"
)

// Accelerator kinds accepted by NewAccelerator.
const (
	AcceleratorAuto   = "auto"
	AcceleratorNvidia = "nvidia"
	AcceleratorNone   = "none"
)

const defaultSMIPath = "nvidia-smi"

// NoopAccelerator is used when no GPU tooling is available.
type NoopAccelerator struct{}

func (NoopAccelerator) Name() string { return AcceleratorNone }
func (NoopAccelerator) ResetCache(ctx context.Context) error { return nil }

func (NoopAccelerator) Memory(ctx context.Context) (MemoryInfo, error) {
	return MemoryInfo{}, fmt.Errorf("no accelerator configured")
}

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// NvidiaAccelerator queries device memory through nvidia-smi.
type NvidiaAccelerator struct {
	smiPath string
	timeout time.Duration
	logger  *logging.Logger
	run     commandRunner
}

// NewNvidiaAccelerator creates an accelerator backed by the nvidia-smi at
// smiPath. An empty path relies on PATH.
func NewNvidiaAccelerator(smiPath string, logger *logging.Logger) *NvidiaAccelerator {
	if smiPath == "" {
		smiPath = defaultSMIPath
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NvidiaAccelerator{
		smiPath: smiPath,
		timeout: 5 * time.Second,
		logger:  logger,
		run:     runCommand,
	}
}

func (a *NvidiaAccelerator) Name() string { return AcceleratorNvidia }

// ResetCache releases host-side buffers held by the process and logs device
// memory before and after. Device allocations belong to the backend and are
// released when its instance is closed.
func (a *NvidiaAccelerator) ResetCache(ctx context.Context) error {
	before, beforeErr := a.Memory(ctx)

	runtime.GC()
	debug.FreeOSMemory()

	after, err := a.Memory(ctx)
	if err != nil {
		return fmt.Errorf("read memory after reset: %w", err)
	}
	if beforeErr == nil {
		a.logger.Debug("accelerator cache reset",
			zap.Object("before", before),
			zap.Object("after", after))
	}
	return nil
}

// Memory reads used and total memory of the first GPU.
func (a *NvidiaAccelerator) Memory(ctx context.Context) (MemoryInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.run(ctx, a.smiPath,
		"--query-gpu=memory.used,memory.total",
		"--format=csv,noheader,nounits")
	if err != nil {
		return MemoryInfo{}, err
	}
	return parseMemoryCSV(string(out))
}

// parseMemoryCSV parses "used, total" MiB rows; the first row (GPU 0) wins.
func parseMemoryCSV(output string) (MemoryInfo, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return MemoryInfo{}, fmt.Errorf("empty nvidia-smi output")
	}

	reader := csv.NewReader(strings.NewReader(output))
	reader.TrimLeadingSpace = true
	record, err := reader.Read()
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(record) < 2 {
		return MemoryInfo{}, fmt.Errorf("unexpected field count: got %d, expected 2", len(record))
	}

	used, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("failed to parse memory used: %w", err)
	}
	total, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("failed to parse memory total: %w", err)
	}

	return MemoryInfo{Device: DeviceCUDA, UsedMB: int64(used), TotalMB: int64(total)}, nil
}

// NewAccelerator resolves kind to an Accelerator. "auto" picks nvidia when
// nvidia-smi is found, none otherwise.
func NewAccelerator(kind, smiPath string, logger *logging.Logger) (Accelerator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case AcceleratorNvidia:
		return NewNvidiaAccelerator(smiPath, logger), nil
	case AcceleratorNone:
		return NoopAccelerator{}, nil
	case "", AcceleratorAuto:
		path := smiPath
		if path == "" {
			path = defaultSMIPath
		}
		if _, err := exec.LookPath(path); err == nil {
			return NewNvidiaAccelerator(path, logger), nil
		}
		return NoopAccelerator{}, nil
	default:
		return nil, fmt.Errorf("unknown accelerator %q (want auto, nvidia or none)", kind)
	}
}
