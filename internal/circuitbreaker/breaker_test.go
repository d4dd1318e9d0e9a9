package circuitbreaker

import (
	"testing"
	"time"
)

// testClock is a manually advanced clock driving cooldown expiry.
type testClock struct{ now time.Time }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) read() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newClockedBreaker(clk *testClock, opts ...Option) *Breaker {
	b := New(opts...)
	b.clock = clk.read
	return b
}

func trip(b *Breaker) {
	for i := 0; i < defaultThreshold; i++ {
		b.RecordFailure()
	}
}

func TestAllowWhileClosed(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker rejected dispatch %d", i)
		}
	}
	if got := b.CurrentState(); got != Closed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestOpensAtThreshold(t *testing.T) {
	b := New(WithThreshold(2))

	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatal("one failure should not open a threshold-2 breaker")
	}
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatal("second failure should open the breaker")
	}
	if b.Allow() {
		t.Fatal("open breaker admitted a dispatch before cooldown")
	}
}

func TestSuccessResetsStrikes(t *testing.T) {
	b := New(WithThreshold(2))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if got := b.CurrentState(); got != Closed {
		t.Fatalf("state = %v, want closed after non-consecutive failures", got)
	}
}

func TestProbeAdmittedAfterCooldown(t *testing.T) {
	clk := newTestClock()
	b := newClockedBreaker(clk)
	trip(b)

	clk.advance(defaultCooldown / 2)
	if b.Allow() {
		t.Fatal("probe admitted before the cooldown elapsed")
	}

	clk.advance(defaultCooldown)
	if !b.Allow() {
		t.Fatal("probe rejected after the cooldown elapsed")
	}
	if got := b.CurrentState(); got != HalfOpen {
		t.Fatalf("state = %v, want half-open while probing", got)
	}
	if b.Allow() {
		t.Fatal("second dispatch admitted while a probe is in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	clk := newTestClock()
	b := newClockedBreaker(clk)
	trip(b)
	clk.advance(defaultCooldown + time.Second)
	if !b.Allow() {
		t.Fatal("probe rejected")
	}

	b.RecordSuccess()
	if got := b.CurrentState(); got != Closed {
		t.Fatalf("state = %v, want closed after probe success", got)
	}
	if !b.Allow() {
		t.Fatal("closed breaker rejected dispatch")
	}
}

func TestProbeFailureRearmsCooldown(t *testing.T) {
	clk := newTestClock()
	b := newClockedBreaker(clk)
	trip(b)
	clk.advance(defaultCooldown + time.Second)
	if !b.Allow() {
		t.Fatal("probe rejected")
	}

	b.RecordFailure()
	if got := b.CurrentState(); got != Open {
		t.Fatalf("state = %v, want open after probe failure", got)
	}
	// The failed probe restarted the clock; the original trip time no
	// longer counts toward the cooldown.
	if b.Allow() {
		t.Fatal("dispatch admitted immediately after a failed probe")
	}
	clk.advance(defaultCooldown + time.Second)
	if !b.Allow() {
		t.Fatal("probe rejected after the re-armed cooldown")
	}
}

func TestTransitionHookSeesEveryEdge(t *testing.T) {
	type edge struct{ from, to State }
	var edges []edge
	clk := newTestClock()
	b := newClockedBreaker(clk, WithOnStateChange(func(from, to State) {
		edges = append(edges, edge{from, to})
	}))

	trip(b)
	clk.advance(defaultCooldown + time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []edge{{Closed, Open}, {Open, HalfOpen}, {HalfOpen, Closed}}
	if len(edges) != len(want) {
		t.Fatalf("saw %d transitions (%v), want %d", len(edges), edges, len(want))
	}
	for i, e := range edges {
		if e != want[i] {
			t.Fatalf("transition %d = %v to %v, want %v to %v",
				i, e.from, e.to, want[i].from, want[i].to)
		}
	}
}

func TestStateNames(t *testing.T) {
	cases := map[State]string{
		Closed:   "closed",
		Open:     "open",
		HalfOpen: "half-open",
		State(9): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestOptionGuards(t *testing.T) {
	b := New(WithThreshold(0), WithThreshold(-3), WithCooldown(0), WithCooldown(-time.Second))
	if b.limit != defaultThreshold {
		t.Errorf("threshold = %d, want default %d", b.limit, defaultThreshold)
	}
	if b.wait != defaultCooldown {
		t.Errorf("cooldown = %v, want default %v", b.wait, defaultCooldown)
	}
}
