// Package poll runs bounded retries against resources that become ready
// asynchronously, such as provider recordings or transcription jobs.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the outcome of a single attempt.
type State int

const (
	StatePending State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Result is what an attempt reports: Ready(value), Pending or Failed(reason).
type Result[T any] struct {
	State  State
	Value  T
	Reason error
}

// Ready wraps a value that is available now.
func Ready[T any](v T) Result[T] { return Result[T]{State: StateReady, Value: v} }

// Pending reports that the resource is not available yet.
func Pending[T any]() Result[T] { return Result[T]{State: StatePending} }

// Failed reports a terminal failure that must not be retried.
func Failed[T any](reason error) Result[T] { return Result[T]{State: StateFailed, Reason: reason} }

// ErrExhausted is returned when the attempt or time ceiling is reached while
// the resource is still pending.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultPolicy mirrors the provider guidance for freshly recorded audio.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 3 * time.Second,
	MaxInterval:     10 * time.Second,
	MaxElapsed:      time.Minute,
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = p.MaxElapsed
	eb.RandomizationFactor = 0.2

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

var errPending = errors.New("poll: pending")

// Until calls fn until it reports Ready or Failed, or the policy ceiling is
// hit. A Failed result stops immediately and its reason is returned; running
// out of attempts yields ErrExhausted.
func Until[T any](ctx context.Context, p Policy, fn func(context.Context) Result[T]) (T, error) {
	attempts := 0
	value, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		var zero T
		res := fn(ctx)
		switch res.State {
		case StateReady:
			return res.Value, nil
		case StateFailed:
			reason := res.Reason
			if reason == nil {
				reason = errors.New("poll: failed without reason")
			}
			return zero, backoff.Permanent(reason)
		default:
			return zero, errPending
		}
	}, p.backOff(ctx))

	if errors.Is(err, errPending) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return value, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, ctxErr)
		}
		return value, fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
	}
	return value, err
}
