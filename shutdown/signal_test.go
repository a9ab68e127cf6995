package shutdown

import (
	"os"
	"syscall"
	"testing"
)

func TestSignalCounter(t *testing.T) {
	var forced []os.Signal
	counter := NewSignalCounter(2, func(sig os.Signal) {
		forced = append(forced, sig)
	})

	if got := counter.Receive(syscall.SIGTERM); got != 1 {
		t.Fatalf("Receive() = %d, want 1", got)
	}
	if len(forced) != 0 {
		t.Fatal("forced on first signal")
	}

	if got := counter.Receive(os.Interrupt); got != 2 {
		t.Fatalf("Receive() = %d, want 2", got)
	}
	if len(forced) != 1 || forced[0] != os.Interrupt {
		t.Errorf("forced = %v, want [interrupt]", forced)
	}
	if counter.First() != syscall.SIGTERM {
		t.Errorf("First() = %v, want SIGTERM", counter.First())
	}
	if counter.Count() != 2 {
		t.Errorf("Count() = %d, want 2", counter.Count())
	}
}

func TestSignalCounter_NilCallback(t *testing.T) {
	counter := NewSignalCounter(1, nil)
	counter.Receive(os.Interrupt)
	if counter.First() != os.Interrupt {
		t.Errorf("First() = %v, want interrupt", counter.First())
	}
}

func TestSignalCounter_NoSignal(t *testing.T) {
	if sig := NewSignalCounter(2, nil).First(); sig != nil {
		t.Errorf("First() = %v, want nil", sig)
	}
}
