// Package circuitbreaker protects run dispatch from a flapping Temporal
// cluster: consecutive submission failures open the circuit, opened runs
// stay in-process, and after a cooldown a single probe submission decides
// whether the circuit closes again.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the observable breaker position.
type State int

const (
	// Closed lets every dispatch through.
	Closed State = iota
	// Open short-circuits dispatch until the cooldown elapses.
	Open
	// HalfOpen has exactly one probe dispatch in flight.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Run-dispatch defaults: a Temporal worker restart completes well inside
// 30 seconds, and three strikes filter out one-off submission blips.
const (
	defaultThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// Breaker counts consecutive dispatch failures. The position is derived
// from the stored fields rather than kept as a state variable: a zero
// openedAt means closed, the probe flag marks the single half-open slot.
// All methods are safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	limit  int
	wait   time.Duration
	notify func(from, to State)
	clock  func() time.Time

	strikes  int
	openedAt time.Time
	probe    bool
}

// Option tunes a Breaker.
type Option func(*Breaker)

// WithThreshold overrides how many consecutive failures open the circuit.
// Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n >= 1 {
			b.limit = n
		}
	}
}

// WithCooldown overrides how long the circuit stays open before the next
// probe. Non-positive values are ignored.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.wait = d
		}
	}
}

// WithOnStateChange installs a transition hook. The hook runs with the
// breaker locked and must not call back into it.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.notify = fn }
}

// New returns a closed Breaker.
func New(opts ...Option) *Breaker {
	b := &Breaker{limit: defaultThreshold, wait: defaultCooldown, clock: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the next run may dispatch durably. An open circuit
// flips to half-open once the cooldown has passed, admitting exactly one
// probe; further calls are rejected until that probe is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.position() {
	case Closed:
		return true
	case HalfOpen:
		return false
	}
	if !b.clock().After(b.openedAt.Add(b.wait)) {
		return false
	}
	b.transition(HalfOpen)
	return true
}

// RecordSuccess clears the strike count and, after a successful probe,
// closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.strikes = 0
	if b.position() == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure adds a strike. Reaching the threshold opens the circuit; a
// failed probe reopens it and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.position() {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		b.strikes++
		if b.strikes >= b.limit {
			b.transition(Open)
		}
	}
}

// CurrentState reports the position without consuming the probe slot: an
// elapsed cooldown still reads as Open here until Allow admits the probe.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

// position derives the state from the stored fields. Caller holds b.mu.
func (b *Breaker) position() State {
	switch {
	case b.probe:
		return HalfOpen
	case b.openedAt.IsZero():
		return Closed
	default:
		return Open
	}
}

// transition applies the field changes for the target position and fires
// the hook. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.position()
	switch to {
	case Closed:
		b.strikes, b.openedAt, b.probe = 0, time.Time{}, false
	case Open:
		b.openedAt, b.probe = b.clock(), false
	case HalfOpen:
		b.probe = true
	}
	if b.notify != nil && from != to {
		b.notify(from, to)
	}
}
