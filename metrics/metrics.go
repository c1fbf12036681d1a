package metrics

import (
	"context"
	"time"
)

// Snapshot represents the current state of the relay.
type Snapshot struct {
	// StatusCounts maps status name to count of events in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// Instances lists relay instances with a live scheduler heartbeat
	Instances []InstanceInfo `json:"instances"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// InstanceInfo represents information about a running relay instance.
type InstanceInfo struct {
	// InstanceID is a unique identifier for the instance
	InstanceID string `json:"instance_id"`

	// Status is the scheduler state of the instance (e.g., "idle", "processing")
	Status string `json:"status"`

	// LastHeartbeat is the timestamp of the last heartbeat
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting relay state.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Snapshot, error)

	// GetStatusCounts returns the count of events by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetActiveInstances returns the instances with a live heartbeat
	GetActiveInstances(ctx context.Context) ([]InstanceInfo, error)
}

// Recorder receives counters from the request path, the engine and the dispatcher.
type Recorder interface {
	EventReceived(ctx context.Context, source string)
	EventProcessed(ctx context.Context, pattern, outcome string, d time.Duration)
	DeliveryAttempted(ctx context.Context, success bool, d time.Duration)
	RateLimited(ctx context.Context, rule string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) EventReceived(context.Context, string) {}
func (NopRecorder) EventProcessed(context.Context, string, string, time.Duration) {}
func (NopRecorder) DeliveryAttempted(context.Context, bool, time.Duration) {}
func (NopRecorder) RateLimited(context.Context, string) {}
