package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

// InstanceSource lists relay instances with a live heartbeat.
type InstanceSource interface {
	ActiveInstances(ctx context.Context) ([]InstanceInfo, error)
}

// StoreCollector implements Collector over the event store
type StoreCollector struct {
	events    webhook.EventReader
	instances InstanceSource
}

// NewStoreCollector creates a collector. instances may be nil when running a single instance.
func NewStoreCollector(events webhook.EventReader, instances InstanceSource) *StoreCollector {
	return &StoreCollector{
		events:    events,
		instances: instances,
	}
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Snapshot, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("getting status counts: %w", err)
	}

	instances, err := c.GetActiveInstances(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("getting active instances: %w", err)
	}

	return Snapshot{
		StatusCounts: statusCounts,
		Instances:    instances,
		Timestamp:    time.Now(),
	}, nil
}

// GetStatusCounts returns counts of events grouped by status
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.events.CountEvents(ctx)
	if err != nil {
		return nil, err
	}

	statusCounts := make(map[string]int64, len(webhook.Statuses()))
	for _, st := range webhook.Statuses() {
		statusCounts[st.String()] = counts[st]
	}
	return statusCounts, nil
}

// GetActiveInstances returns live instances, or none without an instance source
func (c *StoreCollector) GetActiveInstances(ctx context.Context) ([]InstanceInfo, error) {
	if c.instances == nil {
		return []InstanceInfo{}, nil
	}
	return c.instances.ActiveInstances(ctx)
}
