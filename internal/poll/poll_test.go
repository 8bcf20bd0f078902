package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fastPolicy = Policy{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestUntilReadyAfterPending(t *testing.T) {
	calls := 0
	v, err := Until(context.Background(), fastPolicy, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Pending[string]()
		}
		return Ready("audio")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "audio" || calls != 3 {
		t.Fatalf("expected audio after 3 calls, got %q after %d", v, calls)
	}
}

func TestUntilStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Until(context.Background(), fastPolicy, func(context.Context) Result[int] {
		calls++
		return Failed[int](boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestUntilExhausts(t *testing.T) {
	calls := 0
	_, err := Until(context.Background(), fastPolicy, func(context.Context) Result[int] {
		calls++
		return Pending[int]()
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", fastPolicy.MaxAttempts, calls)
	}
}

func TestUntilHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Until(ctx, Policy{MaxAttempts: 10, InitialInterval: time.Hour}, func(context.Context) Result[int] {
		return Pending[int]()
	})
	if err == nil {
		t.Fatalf("expected an error for a cancelled context")
	}
}
