package adapter

import (
	"context"
	"time"
)

// Locker serializes callback processing per intent. TryLock returns a token
// that must be presented to Unlock so a slow holder cannot release a lock it
// no longer owns.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
