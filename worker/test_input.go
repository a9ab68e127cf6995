package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoTestInput is returned when test mode has neither an inline payload
// nor a readable test input file.
var ErrNoTestInput = errors.New("worker: no test input given")

// TestResult is printed by RunTestInput.
type TestResult struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LoadTestInput returns the payload for test mode: inline JSON when given,
// otherwise the contents of path.
func LoadTestInput(inline, path string) (map[string]any, error) {
	raw := []byte(strings.TrimSpace(inline))
	if len(raw) == 0 {
		if path == "" {
			return nil, ErrNoTestInput
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s not found", ErrNoTestInput, path)
			}
			return nil, fmt.Errorf("read test input: %w", err)
		}
		raw = data
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse test input: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("parse test input: payload must be a JSON object")
	}
	return payload, nil
}

// RunTestInput processes one payload and writes the indented JSON result
// to out. The returned error covers input and output problems only; a
// failed job is reported in the result with status FAILED.
func RunTestInput(ctx context.Context, proc Processor, inline, path string, out io.Writer) (TestResult, error) {
	payload, err := LoadTestInput(inline, path)
	if err != nil {
		return TestResult{}, err
	}

	id, _ := payload["id"].(string)
	resp := proc.ProcessPayload(ctx, payload)

	res := TestResult{ID: id, Status: StatusCompleted, Output: resp}
	if resp.Failed() {
		res = TestResult{ID: id, Status: StatusFailed, Error: resp.Error}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return res, fmt.Errorf("write test result: %w", err)
	}
	return res, nil
}
