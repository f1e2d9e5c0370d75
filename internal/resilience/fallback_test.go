package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(cb CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cb, Kind: "test"})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})

	var called []string
	err := fg.Execute(t.Context(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil || len(called) != 1 || called[0] != "primary" {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(t.Context(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from " + v, nil
	})
	if err != nil || got != "from secondary" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(t.Context(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	primaryCalls := 0
	fn := func(_ context.Context, v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	_ = fg.Execute(t.Context(), fn)
	_ = fg.Execute(t.Context(), fn)
	_ = fg.Execute(t.Context(), fn)
	if primaryCalls != 1 {
		t.Fatalf("primary called %d times, want 1 (breaker open)", primaryCalls)
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}
	if fg.Breaker("nope") != nil {
		t.Fatal("unknown breaker should be nil")
	}
}

func TestFallbackGroup_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})
	ctx, cancel := context.WithCancel(t.Context())

	var called []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only primary", called)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{})
	names := fg.Names()
	if len(names) != 2 || names[0] != "primary" || names[1] != "secondary" || fg.Primary() != "primary" {
		t.Fatalf("names = %v", names)
	}
}
