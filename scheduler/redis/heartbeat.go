package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	heartbeatPrefix = "scheduler:heartbeat:"

	// DefaultHeartbeatTTL outlives three default scheduler intervals
	DefaultHeartbeatTTL = 90 * time.Second
)

// Heartbeat records this instance's scheduler state with a TTL.
// An instance that stops beating disappears once its key expires.
type Heartbeat struct {
	client     redis.Cmdable
	instanceID string
	ttl        time.Duration
	now        func() time.Time
}

func NewHeartbeat(client redis.Cmdable, instanceID string, ttl time.Duration) *Heartbeat {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	return &Heartbeat{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Beat stores or refreshes the heartbeat.
func (h *Heartbeat) Beat(ctx context.Context, state string) error {
	data, err := json.Marshal(metrics.InstanceInfo{
		InstanceID:    h.instanceID,
		Status:        state,
		LastHeartbeat: h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := h.client.Set(ctx, heartbeatPrefix+h.instanceID, data, h.ttl).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

// ActiveInstances lists every instance with a live heartbeat, ordered by id.
func (h *Heartbeat) ActiveInstances(ctx context.Context) ([]metrics.InstanceInfo, error) {
	instances := []metrics.InstanceInfo{}

	var cursor uint64
	for {
		keys, next, err := h.client.Scan(ctx, cursor, heartbeatPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning heartbeat keys: %w", err)
		}

		for _, key := range keys {
			data, err := h.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				// expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting heartbeat: %w", err)
			}

			var info metrics.InstanceInfo
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				continue
			}
			instances = append(instances, info)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].InstanceID < instances[j].InstanceID })
	return instances, nil
}
