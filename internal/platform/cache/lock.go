package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("cache: lock held by another owner")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived mutual exclusion leases stored in redis.
type Locker struct {
	client *redis.Client
}

// NewLocker builds a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lease is an acquired lock. Release only deletes the key while this lease still
// owns it, so an expired lease never frees someone else's lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lock for ttl or fails with ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if still owned.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
