package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_BasicTransitions(t *testing.T) {
	b := NewCircuitBreaker("test", CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, OpenTimeout: 5 * time.Second, HalfOpenMaxReq: 1})

	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.Allow(); err != nil {
		t.Fatalf("expected allow in closed state: %v", err)
	}

	b.RecordFailure()
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("expected closed after first failure, got %s", state)
	}

	b.RecordFailure()
	if state := b.State(); state != CircuitStateOpen {
		t.Fatalf("expected open after threshold failures, got %s", state)
	}

	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	now = now.Add(6 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to pass, got %v", err)
	}
	if state := b.State(); state != CircuitStateHalfOpen {
		t.Fatalf("expected half-open state, got %s", state)
	}

	b.RecordSuccess()
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("expected closed after successful half-open probe, got %s", state)
	}
}

func TestCircuitBreaker_ExecuteIgnoresNonFailures(t *testing.T) {
	t.Parallel()

	b := NewCircuitBreaker("test", CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxReq: 1})
	notFound := errors.New("status 404")
	transient := errors.New("connection reset")
	isFailure := func(err error) bool { return errors.Is(err, transient) }

	if err := b.Execute(func() error { return notFound }, isFailure); !errors.Is(err, notFound) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	if state := b.State(); state != CircuitStateClosed {
		t.Fatalf("non-failure error must not trip breaker, got %s", state)
	}

	_ = b.Execute(func() error { return transient }, isFailure)
	if state := b.State(); state != CircuitStateOpen {
		t.Fatalf("expected open after transient failure, got %s", state)
	}

	called := false
	err := b.Execute(func() error { called = true; return nil }, isFailure)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run while open")
	}
}

func TestBreakerSet_OneBreakerPerHost(t *testing.T) {
	t.Parallel()

	set := NewBreakerSet(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1})
	a := set.For("a.example")
	if set.For("a.example") != a {
		t.Fatalf("expected same breaker for same host")
	}
	a.RecordFailure()

	states := set.States()
	if states["a.example"] != CircuitStateOpen {
		t.Fatalf("expected a.example open, got %s", states["a.example"])
	}
	if set.For("b.example").State() != CircuitStateClosed {
		t.Fatalf("expected b.example closed")
	}
}

func TestCircuitBreaker_ReportsTransitions(t *testing.T) {
	t.Parallel()

	b := NewCircuitBreaker("host-a", CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Second, HalfOpenMaxReq: 1})
	now := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	var got []CircuitState
	b.onTransition = func(name string, _, to CircuitState) {
		if name != "host-a" {
			t.Errorf("unexpected breaker name %q", name)
		}
		got = append(got, to)
	}

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe, got %v", err)
	}
	b.RecordFailure()

	want := []CircuitState{CircuitStateOpen, CircuitStateHalfOpen, CircuitStateOpen}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultCircuitBreakerConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if err := ReverseGeoCircuitBreakerConfig().Validate(); err != nil {
		t.Fatalf("reverse geo config must be valid: %v", err)
	}
	if err := (CircuitBreakerConfig{Enabled: true, FailureThreshold: 0, OpenTimeout: time.Second, HalfOpenMaxReq: 1}).Validate(); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
	if err := (CircuitBreakerConfig{Enabled: false}).Validate(); err != nil {
		t.Fatalf("disabled config must not be validated: %v", err)
	}
}
