package corpus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis keys shared by every instance pointed at the same index.
const (
	LockKey = "finqa:corpus:lock"
	HashKey = "finqa:corpus:hash"
)

// unlockScript deletes the lock only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-key lease. The TTL bounds how long a crashed holder
// blocks other initializers.
type RedisLock struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	token string
}

// NewRedisLock creates a lock on key.
func NewRedisLock(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl, token: uuid.NewString()}
}

// TryLock attempts to take the lease without blocking.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("corpus: lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lease if still held by this lock.
func (l *RedisLock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("corpus: unlock %s: %w", l.key, err)
	}
	return nil
}

// RedisLedger stores the corpus hash under a single key.
type RedisLedger struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisLedger creates a ledger on key.
func NewRedisLedger(rdb redis.UniversalClient, key string) *RedisLedger {
	return &RedisLedger{rdb: rdb, key: key}
}

// Get returns the stored hash, or "" if none was recorded.
func (l *RedisLedger) Get(ctx context.Context) (string, error) {
	v, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("corpus: get %s: %w", l.key, err)
	}
	return v, nil
}

// Set records hash.
func (l *RedisLedger) Set(ctx context.Context, hash string) error {
	if err := l.rdb.Set(ctx, l.key, hash, 0).Err(); err != nil {
		return fmt.Errorf("corpus: set %s: %w", l.key, err)
	}
	return nil
}
