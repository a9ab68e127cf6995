// Package worker adapts the job processor to the hosting runtime.
//
// Three front ends share one handler.Processor:
//
//   - Poller: pulls jobs from the job queue and posts results back
//   - Server: local HTTP API (POST /runsync, GET /health)
//   - RunTestInput: one-shot run of a JSON payload, result on stdout
//
// Jobs are processed one at a time in every mode.
package worker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"edit_worker/handler"
)

// Processor runs one job payload to completion.
type Processor interface {
	ProcessPayload(ctx context.Context, raw map[string]any) handler.Response
}

// Operations tracks in-flight jobs so shutdown can wait for them.
// shutdown.Manager implements it.
type Operations interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// ShutdownStatus reports drain progress on /health. Operations that also
// implement it, such as shutdown.Manager, are queried by the Server.
type ShutdownStatus interface {
	IsShuttingDown() bool
	ActiveOperations() int64
}

// untracked runs operations directly.
type untracked struct{}

func (untracked) WrapOperation(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// MsgShuttingDown is reported for jobs rejected during shutdown.
const MsgShuttingDown = "worker shutting down"

// Run modes.
const (
	ModeAuto  = "auto"
	ModeQueue = "queue"
	ModeAPI   = "api"
	ModeTest  = "test"
)

// DefaultTestInputFile is read in test mode when no inline payload is given.
const DefaultTestInputFile = "test_input.json"

// ResolveMode picks the concrete mode for "auto": test when a payload was
// passed or the default test file exists, queue when a take URL is set,
// otherwise the local API.
func ResolveMode(mode, testInput, takeURL string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case ModeQueue, ModeAPI, ModeTest:
		return m, nil
	case "", ModeAuto:
		if testInput != "" {
			return ModeTest, nil
		}
		if _, err := os.Stat(DefaultTestInputFile); err == nil {
			return ModeTest, nil
		}
		if takeURL != "" {
			return ModeQueue, nil
		}
		return ModeAPI, nil
	default:
		return "", fmt.Errorf("unknown worker mode %q (want %s, %s, %s or %s)", mode, ModeAuto, ModeQueue, ModeAPI, ModeTest)
	}
}
