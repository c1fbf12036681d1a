package webhook

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

/* Small, focused interfaces following "The Go Way"
 * Consumers depend only on the slice of the store they use:
 * the engine on EventStore, the dispatcher on EndpointStore, auth on KeyStore
 */

// EventReader provides read operations for events
type EventReader interface {
	GetEvent(ctx context.Context, id string) (Event, error)
	/* ListEvents returns a page of events, newest first
	 * The filter is normalized by the caller
	 */
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	/* FetchUnprocessed returns due unprocessed events, oldest first
	 * Events whose retry_at lies in the future are skipped
	 */
	FetchUnprocessed(ctx context.Context, limit int) ([]Event, error)
	CountEvents(ctx context.Context) (map[Status]int64, error)
}

// EventWriter provides write operations for events
type EventWriter interface {
	InsertEvent(ctx context.Context, event Event) (Event, error)
	/* MarkProcessed concludes an event
	 * An empty errorMessage records success and clears any previous error
	 */
	MarkProcessed(ctx context.Context, id string, errorMessage string) error
	/* ScheduleRetry increments retry_count and makes the event due after retryAfter */
	ScheduleRetry(ctx context.Context, id string, retryAfter time.Duration) error
	InsertProcessingLog(ctx context.Context, entry ProcessingLog) error
	PurgeProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore is everything the processing engine needs
type EventStore interface {
	EventReader
	EventWriter
}

// EndpointStore manages outgoing endpoint registrations
type EndpointStore interface {
	InsertEndpoint(ctx context.Context, endpoint Endpoint) (Endpoint, error)
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
	/* ListActiveEndpointsForEvent returns active endpoints whose event set contains eventType */
	ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]Endpoint, error)
	TouchEndpoint(ctx context.Context, id string, at time.Time) error
}

// KeyStore manages API key records
type KeyStore interface {
	InsertAPIKey(ctx context.Context, key APIKey) (APIKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	EventStore
	EndpointStore
	KeyStore
	Ping(ctx context.Context) error
	Close() error
}
