package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	fail := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(fail); err == nil {
			t.Fatal("expected failure")
		}
	}
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want StateOpen", cb.GetState())
	}

	// Calls are rejected without invoking fn.
	invoked := false
	err := cb.Call(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("fn invoked while circuit open")
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	for i := 0; i < 10; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want StateClosed", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want StateOpen", cb.GetState())
	}

	time.Sleep(15 * time.Millisecond)

	// Probes succeed; the circuit closes after halfOpenMax successes.
	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want StateClosed after recovery", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = cb.Call(func() error { return errors.New("boom") })

	time.Sleep(15 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still broken") })
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want StateOpen after failed probe", cb.GetState())
	}
}

func TestCircuitBreaker_FailureCountResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })
	_ = cb.Call(func() error { return errors.New("boom") })

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want StateClosed (count reset by success)", cb.GetState())
	}
}
