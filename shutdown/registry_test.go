package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry_RunOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	r.Register("logger", 90, record("logger"))
	r.Register("server", 10, record("server"))
	r.Register("engine", 20, record("engine"))
	r.Register("engine-cache", 20, record("engine-cache"))

	want := []string{"server", "engine", "engine-cache", "logger"}
	if got := r.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("run order = %v, want %v", order, want)
	}
}

func TestRegistry_RunCollectsErrors(t *testing.T) {
	r := NewRegistry()
	errEngine := errors.New("device busy")
	ran := 0

	r.Register("engine", 10, func(ctx context.Context) error {
		ran++
		return errEngine
	})
	r.Register("logger", 20, func(ctx context.Context) error {
		ran++
		return nil
	})

	err := r.Run(context.Background())
	if !errors.Is(err, errEngine) {
		t.Fatalf("Run() error = %v, want it to wrap %v", err, errEngine)
	}
	if !strings.Contains(err.Error(), "engine: device busy") {
		t.Errorf("Run() error = %q, want handler name prefix", err)
	}
	if ran != 2 {
		t.Errorf("%d handlers ran, want 2", ran)
	}
}

func TestRegistry_RunOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("engine", 10, func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = r.Run(context.Background())
	_ = r.Run(context.Background())
	r.Register("late", 1, func(ctx context.Context) error {
		t.Error("handler registered after Run was called")
		return nil
	})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_IgnoresNilHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("nil", 1, nil)
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}
