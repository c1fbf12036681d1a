package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize  = 100
	DefaultMaxRetries = 3
	DefaultRetryAfter = 60 * time.Second

	defaultFailureMessage = "Processing failed"
)

// Outcome is the state transition applied to an event after processing.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeRetry     Outcome = "retry_scheduled"
	OutcomeFailed    Outcome = "failed"
)

// EventResult summarises one event of a batch.
type EventResult struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Success   bool    `json:"success"`
	Message   string  `json:"message,omitempty"`
	Outcome   Outcome `json:"outcome"`
}

// BatchResult counts terminal outcomes. Retries count as neither processed nor failed.
type BatchResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Retried   int           `json:"retried"`
	Results   []EventResult `json:"results"`
}

/* Engine drives stored events through the registry
 * Each event ends a batch processed, failed, or scheduled for a later retry
 */
type Engine struct {
	store          webhook.EventStore
	registry       *Registry
	log            zerolog.Logger
	recorder       metrics.Recorder
	now            func() time.Time
	batchSize      int
	maxRetries     int
	handlerTimeout time.Duration

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHandlerTimeout bounds the context each handler receives. Zero disables it.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.handlerTimeout = d }
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func NewEngine(store webhook.EventStore, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		registry:   registry,
		log:        zerolog.Nop(),
		recorder:   metrics.NopRecorder{},
		now:        time.Now,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessEvent routes event to its handler. Handler errors and panics become
// retryable failures; a retryable result without a delay gets DefaultRetryAfter.
func (e *Engine) ProcessEvent(ctx context.Context, event webhook.Event) Result {
	res, _ := e.process(ctx, event)
	return res
}

func (e *Engine) process(ctx context.Context, event webhook.Event) (Result, string) {
	h, pattern := e.registry.Match(event.EventType)
	e.log.Debug().Str("event_id", event.ID).Str("event_type", event.EventType).Str("pattern", pattern).Msg("processing event")
	return e.invoke(ctx, h, event), pattern
}

func (e *Engine) invoke(ctx context.Context, h Handler, event webhook.Event) (res Result) {
	if e.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("event_id", event.ID).Interface("panic", r).Msg("handler panicked")
			res = Result{
				Success:     false,
				Message:     fmt.Sprintf("handler panic: %v", r),
				ShouldRetry: true,
				RetryAfter:  DefaultRetryAfter,
			}
		}
	}()

	res, err := h.Handle(ctx, event)
	if err != nil {
		return Result{
			Success:     false,
			Message:     err.Error(),
			ShouldRetry: true,
			RetryAfter:  DefaultRetryAfter,
		}
	}
	if !res.Success && res.ShouldRetry && res.RetryAfter <= 0 {
		res.RetryAfter = DefaultRetryAfter
	}
	return res
}

// ProcessUnprocessed runs one batch of due events in fetch order.
// Only a fetch error is returned; per-event store errors count as failures.
func (e *Engine) ProcessUnprocessed(ctx context.Context) (BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.store.FetchUnprocessed(ctx, e.batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetching unprocessed events: %w", err)
	}

	batch := BatchResult{Results: make([]EventResult, 0, len(events))}
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if !event.Due(e.now()) {
			continue
		}

		start := e.now()
		res, pattern := e.process(ctx, event)

		outcome, err := e.conclude(ctx, event, res)
		if err != nil {
			e.log.Error().Err(err).Str("event_id", event.ID).Msg("updating event state")
			outcome = OutcomeFailed
			if res.Success {
				res.Message = err.Error()
			}
			res.Success = false
		}

		switch outcome {
		case OutcomeProcessed:
			batch.Processed++
		case OutcomeFailed:
			batch.Failed++
		case OutcomeRetry:
			batch.Retried++
		}

		e.appendLog(ctx, event, res)
		e.recorder.EventProcessed(ctx, pattern, string(outcome), e.now().Sub(start))

		batch.Results = append(batch.Results, EventResult{
			EventID:   event.ID,
			EventType: event.EventType,
			Success:   res.Success,
			Message:   res.Message,
			Outcome:   outcome,
		})
	}

	if len(events) > 0 {
		e.log.Info().
			Int("fetched", len(events)).
			Int("processed", batch.Processed).
			Int("failed", batch.Failed).
			Int("retried", batch.Retried).
			Msg("batch processed")
	}
	return batch, nil
}

func (e *Engine) conclude(ctx context.Context, event webhook.Event, res Result) (Outcome, error) {
	switch {
	case res.Success:
		return OutcomeProcessed, e.store.MarkProcessed(ctx, event.ID, "")
	case res.ShouldRetry && event.RetryCount < e.maxRetries:
		return OutcomeRetry, e.store.ScheduleRetry(ctx, event.ID, res.RetryAfter)
	default:
		msg := res.Message
		if msg == "" {
			msg = defaultFailureMessage
		}
		return OutcomeFailed, e.store.MarkProcessed(ctx, event.ID, msg)
	}
}

func (e *Engine) appendLog(ctx context.Context, event webhook.Event, res Result) {
	entry := webhook.ProcessingLog{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		EventType:   event.EventType,
		Success:     res.Success,
		Message:     res.Message,
		Data:        res.Data,
		ProcessedAt: e.now().UTC(),
	}
	if err := e.store.InsertProcessingLog(ctx, entry); err != nil {
		e.log.Warn().Err(err).Str("event_id", event.ID).Msg("writing processing log")
	}
}
