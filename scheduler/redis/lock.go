// Package redis coordinates schedulers of several relay instances through Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultLockKey = "scheduler:lock"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

/* Lock is a single-holder lease on a Redis key
 * The token is unique per Lock value, so a lease that expired and was
 * taken by another instance is never released by the previous holder
 */
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
}

func NewLock(client redis.Cmdable, key string) *Lock {
	if key == "" {
		key = DefaultLockKey
	}
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.New().String(),
	}
}

// TryLock acquires the lease for ttl. It returns false if another holder has it.
func (l *Lock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lease if this Lock still holds it.
func (l *Lock) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}
