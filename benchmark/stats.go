package benchmark

import "sync"

// Stats holds the run-level counters. Every worker records its outcome
// under the same lock; the lock is held only for the increment, never
// across I/O.
type Stats struct {
	mu sync.Mutex

	executionErrors int
	timeouts        int
	assertionErrors int
	passed          int
}

// Totals is a read-only snapshot of the counters.
type Totals struct {
	ExecutionErrors int
	Timeouts        int
	AssertionErrors int
	Passed          int
}

func NewStats() *Stats {
	return &Stats{}
}

// Record tallies one terminal outcome.
func (s *Stats) Record(o *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ExecutionError {
		s.executionErrors++
	}
	if o.TimeoutError {
		s.timeouts++
	}
	if o.AssertionError {
		s.assertionErrors++
	}
	if !o.ExecutionError && !o.TimeoutError && !o.AssertionError {
		s.passed++
	}
}

func (s *Stats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Totals{
		ExecutionErrors: s.executionErrors,
		Timeouts:        s.timeouts,
		AssertionErrors: s.assertionErrors,
		Passed:          s.passed,
	}
}

// Errors is the sum of all error counters.
func (t Totals) Errors() int {
	return t.ExecutionErrors + t.Timeouts + t.AssertionErrors
}
