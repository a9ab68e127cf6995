package shutdown

import (
	"os"
	"sync"
)

// SignalCounter remembers the first shutdown signal and calls onForce when
// the count reaches forceAfter: the first signal drains, the second exits.
type SignalCounter struct {
	mu         sync.Mutex
	first      os.Signal
	count      int
	forceAfter int
	onForce    func(os.Signal)
}

// NewSignalCounter returns a counter that calls onForce (if non-nil) with
// the signal that reached forceAfter.
func NewSignalCounter(forceAfter int, onForce func(os.Signal)) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Receive counts sig and returns the new count.
func (s *SignalCounter) Receive(sig os.Signal) int {
	s.mu.Lock()
	s.count++
	if s.first == nil {
		s.first = sig
	}
	count := s.count
	force := count >= s.forceAfter && s.onForce != nil
	onForce := s.onForce
	s.mu.Unlock()

	if force {
		onForce(sig)
	}
	return count
}

// Count returns the number of signals received.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// First returns the first signal received, or nil.
func (s *SignalCounter) First() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}
