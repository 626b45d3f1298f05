package client

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestCircuitBreaker(t *testing.T) {
	// Configure for fast testing: 3 failures, 100ms timeout
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("Should allow requests in Closed state")
	}

	cb.Failure()
	cb.Failure()
	if cb.State() != StateClosed {
		t.Errorf("Should remain Closed after 2 failures")
	}

	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after 3 failures")
	}
	if cb.Allow() {
		t.Error("Should NOT allow requests in Open state")
	}

	time.Sleep(150 * time.Millisecond)

	if !cb.Allow() {
		t.Error("Should allow a trial request after timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected HalfOpen state, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("Should allow only one trial request at a time")
	}

	// Probe fails: back to Open
	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after trial failure")
	}

	time.Sleep(150 * time.Millisecond)
	cb.Allow()

	// Probe succeeds: Closed
	cb.Success()
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state after trial success")
	}
	if cb.failures != 0 {
		t.Errorf("Failures should be reset")
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	invalid := errors.New("invalid request")
	down := errors.New("connection refused")
	isFailure := func(err error) bool { return err == down }

	if err := cb.Do(func() error { return invalid }, isFailure); err != invalid {
		t.Errorf("Expected the call's error, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Client errors should not trip the breaker")
	}

	if err := cb.Do(func() error { return down }, isFailure); err != down {
		t.Errorf("Expected the call's error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state, got %v", cb.State())
	}

	called := false
	err := cb.Do(func() error { called = true; return nil }, isFailure)
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Open breaker should short-circuit, got %v (called=%v)", err, called)
	}
}
