package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/ratelimit"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of ratelimit.Limiter
 * One counter key per rule and client, expiring with the window,
 * so every relay instance shares the same budget
 */

const keyPrefix = "ratelimit"

// allowScript increments the window counter and returns {count, ttl_ms}.
// The expiry is set on the first hit and repaired if it was ever lost.
var allowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Limiter struct {
	client redis.Scripter
	now    func() time.Time
}

// NewLimiter creates a limiter over an existing client
func NewLimiter(client redis.Scripter) *Limiter {
	return &Limiter{
		client: client,
		now:    time.Now,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string, rule ratelimit.Rule) (ratelimit.Decision, error) {
	window := rule.Window.Milliseconds()
	if window <= 0 {
		window = 1
	}

	res, err := allowScript.Run(ctx, l.client, []string{counterKey(rule.Name, key)}, window).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	count := int(res[0])
	return ratelimit.Decision{
		Allowed: count <= rule.Max,
		Count:   count,
		Limit:   rule.Max,
		ResetAt: l.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func counterKey(rule, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, rule, key)
}
