package publish

import (
	"testing"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

func testBreaker(clk clock.Clock) *Breaker {
	return NewBreaker("fanvue", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
		MaxHalfOpen:      1,
	}, clk)
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	cb := testBreaker(clock.NewMock(time.Now()))

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("expected Allow() on attempt %d", i)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow() to be false while open")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb := testBreaker(clock.NewMock(time.Now()))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %v", cb.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	var transitions []string
	cb := NewBreaker("fanvue", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
		MaxHalfOpen:      1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, clk)

	cb.RecordFailure()
	clk.Add(59 * time.Second)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open before timeout, got %v", cb.State())
	}

	clk.Add(time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after timeout, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected a trial delivery to be allowed")
	}
	if cb.Allow() {
		t.Error("expected a second concurrent trial delivery to be rejected")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after one success, got %v", cb.State())
	}
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after two successes, got %v", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	cb := testBreaker(clk)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clk.Add(time.Minute)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after failed trial delivery, got %v", cb.State())
	}
	if stats := cb.Stats(); stats.Opens != 2 || !stats.OpenedAt.Equal(clk.Now()) {
		t.Errorf("expected 2 opens at %v, got %+v", clk.Now(), stats)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %s, want %s", got, want)
		}
	}
}
