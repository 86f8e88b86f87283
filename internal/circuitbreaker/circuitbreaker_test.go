package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerTripsAfterFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.MinRequests = 2
	cfg.FailureRatio = 0.5
	b := New[int](cfg, nil)

	fail := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(fail); err == nil {
			t.Fatalf("expected failure from fn")
		}
	}

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be open after repeated failures, got %v", b.State())
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cfg := DefaultConfig("test-ok")
	b := New[int](cfg, nil)
	ok := func() (int, error) { return 42, nil }

	for i := 0; i < 10; i++ {
		v, err := b.Execute(ok)
		if err != nil || v != 42 {
			t.Fatalf("unexpected result v=%d err=%v", v, err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("expected breaker to remain closed, got %v", b.State())
	}
}
