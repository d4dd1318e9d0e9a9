package providers

import (
	"sync"
	"sync/atomic"
	"time"
)

// ewmaAlpha weights the newest latency sample.
const ewmaAlpha = 0.2

// State is the mutable per-adapter health record. The failure counter is
// atomic so filters can read it without taking the latency mutex; everything
// else is guarded by mu. There is no shared state across adapters.
type State struct {
	failureCount atomic.Int64

	mu         sync.Mutex
	healthOK   bool
	sampled    bool
	latencyMS  float64
	lastError  string
	lastPassed time.Time
}

// NewState returns a healthy zero-sample state.
func NewState() *State {
	return &State{healthOK: true}
}

// NoteFailure bumps the monotonic failure counter. Called once per failed
// request attempt, so a generate that exhausts three attempts counts three.
func (s *State) NoteFailure() {
	s.failureCount.Add(1)
}

// FailureCount returns the monotonic failure counter.
func (s *State) FailureCount() int64 {
	return s.failureCount.Load()
}

// Observe records the outcome of one Generate call: the latency sample feeds
// the EWMA (seeded by the first sample), and health flips to the success of
// this outcome. A single success restores health after any run of failures.
func (s *State) Observe(latencyMS float64, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sampled {
		s.latencyMS = latencyMS
		s.sampled = true
	} else {
		s.latencyMS = s.latencyMS*(1-ewmaAlpha) + latencyMS*ewmaAlpha
	}

	s.healthOK = errText == ""
	if errText != "" {
		s.lastError = errText
	}
}

// StampLastPassed records a successful health probe.
func (s *State) StampLastPassed(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPassed = t
}

// SeedLastPassed sets the probe timestamp from persisted descriptor data
// without marking the adapter probed in this process. Zero times are ignored.
func (s *State) SeedLastPassed(t time.Time) {
	if t.IsZero() {
		return
	}
	s.StampLastPassed(t)
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HealthSnapshot{
		OK:              s.healthOK,
		FailureCount:    s.failureCount.Load(),
		RecentLatencyMS: s.latencyMS,
		LastError:       s.lastError,
		LastPassed:      s.lastPassed,
	}
}
