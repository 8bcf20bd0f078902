package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/poll"
	"github.com/acme/voice-interview/pkg/logger"
)

// ErrLockTimeout is returned when a lock could not be taken within the wait budget.
var ErrLockTimeout = errors.New("lock wait exceeded")

// Locker serializes work on a key across webhook deliveries and processes.
type Locker interface {
	// Lock blocks until the key is held or wait elapses. The returned func
	// releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// CallKey scopes a lock to one call.
func CallKey(callSID string) string {
	return "call:" + callSID
}

// CandidateKey scopes a lock to one candidate's dispatch.
func CandidateKey(candidateID int64) string {
	return fmt.Sprintf("candidate:%d", candidateID)
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker holds a lease per key in Redis so several API replicas never
// process the same call concurrently.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	policy poll.Policy
	logger *logger.Logger
}

// NewRedisLocker constructs a Redis backed locker.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, lg *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, policy: waitPolicy(wait), logger: lg}
}

// waitPolicy retries quickly at first and backs off towards a quarter second
// until wait has elapsed.
func waitPolicy(wait time.Duration) poll.Policy {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	initial := 25 * time.Millisecond
	return poll.Policy{
		MaxAttempts:     int(wait/initial) + 1,
		InitialInterval: initial,
		MaxInterval:     250 * time.Millisecond,
		MaxElapsed:      wait,
	}
}

// Lock acquires the lease, retrying with backoff until the wait budget runs out.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.key(key)
	token := uuid.NewString()

	err := acquire(ctx, l.policy, key, func(ctx context.Context) (bool, error) {
		return l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, redisKey, token) })
	}, nil
}

// acquire calls try until it reports the lease taken. A Redis error ends the
// wait at once; running out of time yields ErrLockTimeout.
func acquire(ctx context.Context, policy poll.Policy, key string, try func(context.Context) (bool, error)) error {
	_, err := poll.Until(ctx, policy, func(ctx context.Context) poll.Result[struct{}] {
		ok, err := try(ctx)
		switch {
		case err != nil:
			return poll.Failed[struct{}](err)
		case ok:
			return poll.Ready(struct{}{})
		default:
			return poll.Pending[struct{}]()
		}
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, poll.ErrExhausted):
		return fmt.Errorf("lock acquire %s: %w", key, ErrLockTimeout)
	default:
		return fmt.Errorf("lock acquire %s: %w", key, err)
	}
}

func (l *RedisLocker) release(key, redisKey, token string) {
	// The caller's context may already be cancelled once the request ends.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		// The lease still expires after its TTL.
		l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}

func (l *RedisLocker) key(key string) string {
	return "interview:lock:" + key
}
