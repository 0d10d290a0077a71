package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ping checks the connection.
func (r *RedisClient) Ping(ctx context.Context) error {
	return TranslateError(r.client.Ping(ctx).Err())
}

// SetNX sets key only if it does not exist and reports whether it was set.
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	return ok, TranslateError(err)
}

// Get returns the value of key, or ErrNil when it does not exist.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, TranslateError(err)
}

// Delete removes keys and returns how many existed.
func (r *RedisClient) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	return n, TranslateError(err)
}

// Lock is a single-holder lease on a key.
type Lock struct {
	client *RedisClient
	key    string
	value  string
	ttl    time.Duration
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// AcquireLock takes the lock on key for ttl. It returns ErrLockNotAcquired
// when another holder has it.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	value := uuid.NewString()

	acquired, err := r.SetNX(ctx, key, value, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: r, key: key, value: value, ttl: ttl}, nil
}

// Release deletes the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	n, err := l.client.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return TranslateError(err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Refresh extends the lock by its original ttl if this holder still owns it.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := l.client.client.Eval(ctx, refreshScript, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return TranslateError(err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
