package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stwalsh4118/airwave/internal/clock"
)

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		name     string
		state    CircuitState
		expected string
	}{
		{"Closed", StateClosed, "closed"},
		{"Open", StateOpen, "open"},
		{"Half Open", StateHalfOpen, "half_open"},
		{"Unknown", CircuitState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("CircuitState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cb := NewCircuitBreaker(3, 10*time.Second, clk)

	testErr := errors.New("probe failed")
	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return testErr }); !errors.Is(err, testErr) {
			t.Fatalf("Call() error = %v, want %v", err, testErr)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want %v", cb.State(), StateOpen)
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Call() error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("function should not run while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cb := NewCircuitBreaker(1, 10*time.Second, clk)

	cb.RecordFailure()
	if cb.CanAttempt() {
		t.Fatal("CanAttempt() = true right after opening")
	}

	clk.Advance(10 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State = %v, want %v", cb.State(), StateHalfOpen)
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want %v", cb.State(), StateClosed)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cb := NewCircuitBreaker(3, 5*time.Second, clk)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clk.Advance(5 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State = %v, want half open", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open after half-open failure", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour, nil)
	cb.RecordFailure()
	cb.Reset()

	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Errorf("after Reset state=%v failures=%d", cb.State(), cb.Failures())
	}
}
