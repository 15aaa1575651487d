package deadletter

import (
	// Go Internal Packages
	"context"
	"errors"
	"time"

	// Local Packages
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived distributed locks so that two replicas do not
// both create a transaction for the same initiation request.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

// Obtain takes the lock for key and returns its release function. A held
// lock is reported as a Conflict.
func (l *Locker) Obtain(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperrors.E(apperrors.Conflict, "payment request already in progress", nil)
	}
	if err != nil {
		return nil, err
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
