package processor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/processor"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func registryWith(t *testing.T, pattern string, h processor.HandlerFunc) *processor.Registry {
	t.Helper()
	r := processor.NewRegistry()
	require.NoError(t, r.Register(pattern, h))
	return r
}

func TestEngine_ProcessEvent(t *testing.T) {
	ctx := context.Background()
	event := webhook.Event{ID: "evt-1", EventType: "order.created"}

	t.Run("handler error becomes a retry after 60s", func(t *testing.T) {
		r := registryWith(t, "order.created", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{}, errors.New("upstream timeout")
		})

		res := processor.NewEngine(mocks.NewRepository(t), r).ProcessEvent(ctx, event)

		assert.False(t, res.Success)
		assert.True(t, res.ShouldRetry)
		assert.Equal(t, 60*time.Second, res.RetryAfter)
		assert.Equal(t, "upstream timeout", res.Message)
	})

	t.Run("handler panic becomes a retry", func(t *testing.T) {
		r := registryWith(t, "order.created", func(context.Context, webhook.Event) (processor.Result, error) {
			panic("nil map")
		})

		res := processor.NewEngine(mocks.NewRepository(t), r).ProcessEvent(ctx, event)

		assert.False(t, res.Success)
		assert.True(t, res.ShouldRetry)
		assert.Equal(t, processor.DefaultRetryAfter, res.RetryAfter)
		assert.Contains(t, res.Message, "nil map")
	})

	t.Run("retry without delay gets the default", func(t *testing.T) {
		r := registryWith(t, "order.created", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: false, ShouldRetry: true}, nil
		})

		res := processor.NewEngine(mocks.NewRepository(t), r).ProcessEvent(ctx, event)

		assert.Equal(t, processor.DefaultRetryAfter, res.RetryAfter)
	})

	t.Run("handler timeout bounds the context", func(t *testing.T) {
		r := registryWith(t, "order.created", func(ctx context.Context, _ webhook.Event) (processor.Result, error) {
			<-ctx.Done()
			return processor.Result{}, ctx.Err()
		})

		res := processor.NewEngine(mocks.NewRepository(t), r, processor.WithHandlerTimeout(10*time.Millisecond)).
			ProcessEvent(ctx, event)

		assert.False(t, res.Success)
		assert.True(t, res.ShouldRetry)
		assert.Equal(t, context.DeadlineExceeded.Error(), res.Message)
	})
}

func TestEngine_ProcessUnprocessed(t *testing.T) {
	ctx := context.Background()

	t.Run("applies each outcome in fetch order", func(t *testing.T) {
		r := processor.NewRegistry()
		require.NoError(t, r.Register("ok.event", processor.HandlerFunc(func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: true, Message: "done"}, nil
		})))
		require.NoError(t, r.Register("flaky.event", processor.HandlerFunc(func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: false, Message: "try later", ShouldRetry: true, RetryAfter: 45 * time.Second}, nil
		})))
		require.NoError(t, r.Register("bad.event", processor.HandlerFunc(func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: false, Message: "malformed", ShouldRetry: false}, nil
		})))

		events := []webhook.Event{
			{ID: "e1", EventType: "ok.event"},
			{ID: "e2", EventType: "flaky.event", RetryCount: 0},
			{ID: "e3", EventType: "flaky.event", RetryCount: 3},
			{ID: "e4", EventType: "bad.event"},
		}

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return(events, nil)
		repo.On("MarkProcessed", ctx, "e1", "").Return(nil).Once()
		repo.On("ScheduleRetry", ctx, "e2", 45*time.Second).Return(nil).Once()
		repo.On("MarkProcessed", ctx, "e3", "try later").Return(nil).Once()
		repo.On("MarkProcessed", ctx, "e4", "malformed").Return(nil).Once()
		repo.On("InsertProcessingLog", ctx, mock.AnythingOfType("webhook.ProcessingLog")).Return(nil).Times(4)

		batch, err := processor.NewEngine(repo, r).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, batch.Processed)
		assert.Equal(t, 2, batch.Failed)
		assert.Equal(t, 1, batch.Retried)
		require.Len(t, batch.Results, 4)
		assert.Equal(t, []processor.Outcome{
			processor.OutcomeProcessed,
			processor.OutcomeRetry,
			processor.OutcomeFailed,
			processor.OutcomeFailed,
		}, []processor.Outcome{
			batch.Results[0].Outcome,
			batch.Results[1].Outcome,
			batch.Results[2].Outcome,
			batch.Results[3].Outcome,
		})
	})

	t.Run("failure without a message gets a default", func(t *testing.T) {
		r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: false}, nil
		})

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return([]webhook.Event{{ID: "e1", EventType: "x.y"}}, nil)
		repo.On("MarkProcessed", ctx, "e1", "Processing failed").Return(nil).Once()
		repo.On("InsertProcessingLog", ctx, mock.Anything).Return(nil)

		batch, err := processor.NewEngine(repo, r).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, batch.Failed)
	})

	t.Run("processing log records the result", func(t *testing.T) {
		r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: true, Message: "ok", Data: map[string]any{"k": "v"}}, nil
		})

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return([]webhook.Event{{ID: "e1", EventType: "x.y"}}, nil)
		repo.On("MarkProcessed", ctx, "e1", "").Return(nil)
		repo.On("InsertProcessingLog", ctx, webhook.MatchProcessingLog(func(l webhook.ProcessingLog) bool {
			return l.EventID == "e1" && l.EventType == "x.y" && l.Success && l.Message == "ok" &&
				l.Data["k"] == "v" && l.ID != "" && !l.ProcessedAt.IsZero()
		})).Return(nil).Once()

		_, err := processor.NewEngine(repo, r).ProcessUnprocessed(ctx)

		require.NoError(t, err)
	})

	t.Run("processing log failure is ignored", func(t *testing.T) {
		r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: true}, nil
		})

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return([]webhook.Event{{ID: "e1", EventType: "x.y"}, {ID: "e2", EventType: "x.y"}}, nil)
		repo.On("MarkProcessed", ctx, mock.Anything, "").Return(nil).Twice()
		repo.On("InsertProcessingLog", ctx, mock.Anything).Return(errors.New("log table missing"))

		batch, err := processor.NewEngine(repo, r).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, batch.Processed)
	})

	t.Run("store error on one event does not abort the batch", func(t *testing.T) {
		r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
			return processor.Result{Success: true}, nil
		})

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return([]webhook.Event{{ID: "e1", EventType: "x.y"}, {ID: "e2", EventType: "x.y"}}, nil)
		repo.On("MarkProcessed", ctx, "e1", "").Return(errors.New("deadlock")).Once()
		repo.On("MarkProcessed", ctx, "e2", "").Return(nil).Once()
		repo.On("InsertProcessingLog", ctx, mock.Anything).Return(nil)

		batch, err := processor.NewEngine(repo, r).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, batch.Processed)
		assert.Equal(t, 1, batch.Failed)
		assert.False(t, batch.Results[0].Success)
		assert.Equal(t, "deadlock", batch.Results[0].Message)
	})

	t.Run("fetch error aborts", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).Return(nil, errors.New("connection refused"))

		_, err := processor.NewEngine(repo, processor.NewRegistry()).ProcessUnprocessed(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetching unprocessed events")
	})

	t.Run("batch size is configurable", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, 10).Return([]webhook.Event{}, nil)

		batch, err := processor.NewEngine(repo, processor.NewRegistry(), processor.WithBatchSize(10)).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Empty(t, batch.Results)
	})

	t.Run("events not yet due are skipped", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		later := now.Add(time.Minute)
		r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
			t.Error("handler must not run for an event that is not due")
			return processor.Result{}, nil
		})

		repo := mocks.NewRepository(t)
		repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).
			Return([]webhook.Event{{ID: "e1", EventType: "x.y", RetryCount: 1, RetryAt: &later}}, nil)

		batch, err := processor.NewEngine(repo, r, processor.WithClock(func() time.Time { return now })).ProcessUnprocessed(ctx)

		require.NoError(t, err)
		assert.Empty(t, batch.Results)
	})
}

func TestEngine_ProcessUnprocessedIsSerialized(t *testing.T) {
	ctx := context.Background()
	var inFlight, peak atomic.Int32
	r := registryWith(t, "x.y", func(context.Context, webhook.Event) (processor.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return processor.Result{Success: true}, nil
	})

	repo := mocks.NewRepository(t)
	repo.On("FetchUnprocessed", ctx, processor.DefaultBatchSize).
		Return([]webhook.Event{{ID: "e1", EventType: "x.y"}}, nil).Twice()
	repo.On("MarkProcessed", ctx, "e1", "").Return(nil).Twice()
	repo.On("InsertProcessingLog", ctx, mock.Anything).Return(nil).Twice()
	engine := processor.NewEngine(repo, r)

	var wg sync.WaitGroup
	results := make([]processor.BatchResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := engine.ProcessUnprocessed(ctx)
			assert.NoError(t, err)
			results[i] = batch
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 1, results[0].Processed)
	assert.Equal(t, 1, results[1].Processed)
}
