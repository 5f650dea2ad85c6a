package lock

import "context"

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock runs fn while holding l. The unlock error is ignored when fn
// itself failed, so fn's error is never masked.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	fnErr := fn()
	if unlockErr := l.Unlock(ctx); unlockErr != nil && fnErr == nil {
		return unlockErr
	}
	return fnErr
}
