package fetcher

import (
	"testing"
	"time"
)

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    3,
		RecoveryTimeout:     10 * time.Second,
		HalfOpenMaxRequests: 2,
	})
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker rejected request %d", i)
		}
		cb.Failure()
	}
	if cb.State() != "open" {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker allowed a request")
	}

	now = now.Add(10 * time.Second)
	if !cb.Allow() || !cb.Allow() {
		t.Fatal("half-open breaker should admit two probes")
	}
	if cb.Allow() {
		t.Fatal("half-open breaker admitted a third probe")
	}
	cb.Success()
	cb.Success()
	if cb.State() != "closed" {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Second})
	cb.now = func() time.Time { return now }

	cb.Failure()
	now = now.Add(time.Second)
	if !cb.Allow() {
		t.Fatal("expected a probe after recovery timeout")
	}
	cb.Failure()
	if cb.State() != "open" {
		t.Errorf("state = %s, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("breaker should be open again")
	}
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.Failure()
	cb.Failure()
	if !cb.Allow() {
		t.Error("disabled breaker should always allow")
	}
}
