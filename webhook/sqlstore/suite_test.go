package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *testClock) *Store

func insertEvent(t *testing.T, s *Store, id, eventType string, at time.Time) webhook.Event {
	t.Helper()
	e, err := s.InsertEvent(context.Background(), webhook.Event{
		ID:        id,
		EventType: eventType,
		Source:    "test",
		Payload:   map[string]any{"id": id},
		Headers:   map[string]string{},
		CreatedAt: at,
	})
	require.NoError(t, err)
	return e
}

// runStoreSuite exercises store behaviour against a real database.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("insert and get round trip", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		_, err := s.InsertEvent(ctx, webhook.Event{
			ID:        "11111111-1111-1111-1111-111111111111",
			EventType: "order.created",
			Source:    "shop",
			Payload:   map[string]any{"order": map[string]any{"id": "o-1"}, "total": 10.5},
			Headers:   map[string]string{"Authorization": "Bearer x", "User-Agent": "curl"},
			CreatedAt: clock.Now(),
		})
		require.NoError(t, err)

		e, err := s.GetEvent(ctx, "11111111-1111-1111-1111-111111111111")
		require.NoError(t, err)
		assert.Equal(t, "order.created", e.EventType)
		assert.Equal(t, "shop", e.Source)
		assert.Equal(t, map[string]any{"id": "o-1"}, e.Payload["order"])
		assert.Equal(t, 10.5, e.Payload["total"])
		assert.Equal(t, "[REDACTED]", e.Headers["Authorization"])
		assert.Equal(t, "curl", e.Headers["User-Agent"])
		assert.False(t, e.Processed)
		assert.WithinDuration(t, clock.Now(), e.CreatedAt, time.Second)
		assert.Equal(t, webhook.Pending, e.Status())
	})

	t.Run("get missing event", func(t *testing.T) {
		s := newStore(t, newTestClock())
		_, err := s.GetEvent(ctx, "22222222-2222-2222-2222-222222222222")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("fetch is oldest first and honours retry_at", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		insertEvent(t, s, "evt-b", "a.b", clock.Now().Add(time.Second))
		insertEvent(t, s, "evt-a", "a.b", clock.Now())

		due, err := s.FetchUnprocessed(ctx, 100)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "evt-a", due[0].ID)
		assert.Equal(t, "evt-b", due[1].ID)

		require.NoError(t, s.ScheduleRetry(ctx, "evt-a", time.Minute))

		due, err = s.FetchUnprocessed(ctx, 100)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "evt-b", due[0].ID)

		clock.Advance(61 * time.Second)

		due, err = s.FetchUnprocessed(ctx, 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "evt-a", due[0].ID)
		assert.Equal(t, 1, due[0].RetryCount)
		assert.Equal(t, webhook.Retrying, due[0].Status())
	})

	t.Run("mark processed and count by status", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		insertEvent(t, s, "ok", "x.y", clock.Now())
		insertEvent(t, s, "bad", "x.y", clock.Now())
		insertEvent(t, s, "waiting", "x.y", clock.Now())
		insertEvent(t, s, "later", "x.y", clock.Now())

		require.NoError(t, s.MarkProcessed(ctx, "ok", ""))
		require.NoError(t, s.MarkProcessed(ctx, "bad", "handler exploded"))
		require.NoError(t, s.ScheduleRetry(ctx, "later", time.Hour))

		ok, err := s.GetEvent(ctx, "ok")
		require.NoError(t, err)
		assert.True(t, ok.Processed)
		assert.Nil(t, ok.ErrorMessage)
		require.NotNil(t, ok.ProcessedAt)
		assert.Equal(t, webhook.Processed, ok.Status())

		bad, err := s.GetEvent(ctx, "bad")
		require.NoError(t, err)
		require.NotNil(t, bad.ErrorMessage)
		assert.Equal(t, "handler exploded", *bad.ErrorMessage)
		assert.Equal(t, webhook.Failed, bad.Status())

		counts, err := s.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[webhook.Pending])
		assert.Equal(t, int64(1), counts[webhook.Retrying])
		assert.Equal(t, int64(1), counts[webhook.Processed])
		assert.Equal(t, int64(1), counts[webhook.Failed])

		assert.ErrorIs(t, s.MarkProcessed(ctx, "nope", ""), webhook.ErrNotFound)
		assert.ErrorIs(t, s.ScheduleRetry(ctx, "ok", time.Minute), webhook.ErrNotFound)
	})

	t.Run("list filters and pages newest first", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		insertEvent(t, s, "e1", "order.created", clock.Now())
		insertEvent(t, s, "e2", "order.paid", clock.Now().Add(time.Second))
		insertEvent(t, s, "e3", "order.created", clock.Now().Add(2*time.Second))
		require.NoError(t, s.MarkProcessed(ctx, "e1", ""))

		all, err := s.ListEvents(ctx, webhook.EventFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "e3", all[0].ID)

		created, err := s.ListEvents(ctx, webhook.EventFilter{EventType: "order.created"})
		require.NoError(t, err)
		assert.Len(t, created, 2)

		unprocessed := false
		open, err := s.ListEvents(ctx, webhook.EventFilter{Processed: &unprocessed, Source: "test"})
		require.NoError(t, err)
		assert.Len(t, open, 2)

		page, err := s.ListEvents(ctx, webhook.EventFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "e2", page[0].ID)
	})

	t.Run("purge removes only old processed events", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		insertEvent(t, s, "old", "a.b", clock.Now())
		insertEvent(t, s, "open", "a.b", clock.Now())
		require.NoError(t, s.MarkProcessed(ctx, "old", ""))

		clock.Advance(31 * 24 * time.Hour)
		insertEvent(t, s, "recent", "a.b", clock.Now())
		require.NoError(t, s.MarkProcessed(ctx, "recent", ""))

		n, err := s.PurgeProcessedOlderThan(ctx, clock.Now().AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.GetEvent(ctx, "old")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		_, err = s.GetEvent(ctx, "open")
		assert.NoError(t, err)
		_, err = s.GetEvent(ctx, "recent")
		assert.NoError(t, err)
	})

	t.Run("processing logs are appended", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)

		insertEvent(t, s, "evt", "a.b", clock.Now())
		require.NoError(t, s.InsertProcessingLog(ctx, webhook.ProcessingLog{
			ID:        "log-1",
			EventID:   "evt",
			EventType: "a.b",
			Success:   true,
			Message:   "ok",
			Data:      map[string]any{"n": 1},
		}))
		require.NoError(t, s.InsertProcessingLog(ctx, webhook.ProcessingLog{
			ID:        "log-2",
			EventID:   "evt",
			EventType: "a.b",
			Success:   false,
			Message:   "boom",
		}))

		var n int
		require.NoError(t, s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM event_processing_logs WHERE event_id = $1`, "evt").Scan(&n))
		assert.Equal(t, 2, n)
	})

	t.Run("active endpoints match exact event types", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)
		secret := "0123456789abcdef"

		for _, ep := range []webhook.Endpoint{
			{ID: "ep-1", Name: "crm", URL: "https://crm.example.com/hook", Secret: &secret, Events: []string{"order.created", "order.paid"}, IsActive: true},
			{ID: "ep-2", Name: "wild", URL: "https://wild.example.com/hook", Events: []string{"order.*"}, IsActive: true},
			{ID: "ep-3", Name: "off", URL: "https://off.example.com/hook", Events: []string{"order.created"}, IsActive: false},
		} {
			_, err := s.InsertEndpoint(ctx, ep)
			require.NoError(t, err)
		}

		all, err := s.ListEndpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		matched, err := s.ListActiveEndpointsForEvent(ctx, "order.created")
		require.NoError(t, err)
		require.Len(t, matched, 1)
		assert.Equal(t, "ep-1", matched[0].ID)
		require.NotNil(t, matched[0].Secret)
		assert.Equal(t, secret, *matched[0].Secret)
		assert.Nil(t, matched[0].LastTriggeredAt)

		none, err := s.ListActiveEndpointsForEvent(ctx, "user.created")
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, s.TouchEndpoint(ctx, "ep-1", clock.Now()))
		matched, err = s.ListActiveEndpointsForEvent(ctx, "order.paid")
		require.NoError(t, err)
		require.Len(t, matched, 1)
		require.NotNil(t, matched[0].LastTriggeredAt)
		assert.WithinDuration(t, clock.Now(), *matched[0].LastTriggeredAt, time.Second)

		assert.ErrorIs(t, s.TouchEndpoint(ctx, "ep-9", clock.Now()), webhook.ErrNotFound)
	})

	t.Run("api keys are looked up by hash", func(t *testing.T) {
		clock := newTestClock()
		s := newStore(t, clock)
		expires := clock.Now().Add(24 * time.Hour)

		_, err := s.InsertAPIKey(ctx, webhook.APIKey{
			ID:          "key-1",
			Name:        "n8n",
			KeyHash:     "hash-1",
			Permissions: []string{"webhook:receive"},
			IsActive:    true,
			ExpiresAt:   &expires,
		})
		require.NoError(t, err)

		k, err := s.GetAPIKeyByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "n8n", k.Name)
		assert.Equal(t, []string{"webhook:receive"}, k.Permissions)
		require.NotNil(t, k.ExpiresAt)
		assert.WithinDuration(t, expires, *k.ExpiresAt, time.Second)
		assert.True(t, k.Usable(clock.Now()))

		require.NoError(t, s.TouchAPIKey(ctx, "key-1", clock.Now()))
		keys, err := s.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		require.NotNil(t, keys[0].LastUsedAt)

		_, err = s.GetAPIKeyByHash(ctx, "hash-2")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})
}
