package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNil is returned when a key does not exist.
	ErrNil = errors.New("redis: nil")

	// ErrClosed is returned when the client is closed.
	ErrClosed = errors.New("redis: client is closed")

	// ErrPoolTimeout is returned when every pooled connection is busy.
	ErrPoolTimeout = errors.New("redis: connection pool timeout")

	// ErrLockNotAcquired is returned when a lock is held by someone else.
	ErrLockNotAcquired = errors.New("redis: lock not acquired")

	// ErrLockNotHeld is returned when releasing or refreshing a lost lock.
	ErrLockNotHeld = errors.New("redis: lock not held")
)

// TranslateError maps go-redis sentinels onto this package's errors.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNil
	case errors.Is(err, redis.ErrClosed):
		return errors.Join(ErrClosed, err)
	case errors.Is(err, redis.ErrPoolTimeout):
		return errors.Join(ErrPoolTimeout, err)
	}
	return err
}
