// Package scheduler runs the processing engine on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/processor"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultRetention = 30 * 24 * time.Hour
	DefaultLockTTL   = 5 * time.Minute

	MinInterval = 5 * time.Second
	MaxInterval = time.Hour
)

// Heartbeat states reported by a running scheduler.
const (
	StateIdle       = "idle"
	StateProcessing = "processing"
)

// BatchProcessor drains one batch of due events.
type BatchProcessor interface {
	ProcessUnprocessed(ctx context.Context) (processor.BatchResult, error)
}

// Purger deletes processed events older than the cutoff.
type Purger interface {
	PurgeProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

/* Locker serializes ticks across relay instances
 * TryLock returns false without error when another instance holds the lock
 */
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// Heartbeater announces this instance as alive.
type Heartbeater interface {
	Beat(ctx context.Context, state string) error
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running    bool                   `json:"running"`
	Interval   string                 `json:"interval,omitempty"`
	LastRun    *time.Time             `json:"last_run,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	Ticks      int64                  `json:"ticks"`
	LastResult *processor.BatchResult `json:"last_result,omitempty"`
}

type Scheduler struct {
	engine    BatchProcessor
	purger    Purger
	locker    Locker
	heartbeat Heartbeater
	retention time.Duration
	lockTTL   time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	running    bool
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
	lastRun    *time.Time
	lastErr    string
	ticks      int64
	lastResult *processor.BatchResult
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRetention sets how long processed events are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLocker makes each tick conditional on a distributed lock.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithHeartbeat(h Heartbeater) Option {
	return func(s *Scheduler) { s.heartbeat = h }
}

// New creates a stopped scheduler. purger may be nil to disable retention.
func New(engine BatchProcessor, purger Purger, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:    engine,
		purger:    purger,
		retention: DefaultRetention,
		lockTTL:   DefaultLockTTL,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidInterval reports whether d is an accepted scheduler interval.
func ValidInterval(d time.Duration) bool {
	return d >= MinInterval && d <= MaxInterval
}

// Start launches the loop. It returns false if the scheduler is already running.
func (s *Scheduler) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.interval = interval
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, interval, s.done)
	s.log.Info().Dur("interval", interval).Msg("scheduler started")
	return true
}

// Stop halts the loop and waits for an in-flight tick to finish.
// It returns false if the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info().Msg("scheduler stopped")
	return true
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.running,
		LastRun:    s.lastRun,
		LastError:  s.lastErr,
		Ticks:      s.ticks,
		LastResult: s.lastResult,
	}
	if s.running {
		st.Interval = s.interval.String()
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("scheduled processing failed")
			}
		}
	}
}

// RunOnce performs a single tick: process one batch, then purge old events.
// Panics are converted into errors.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler tick panicked: %v", r)
		}
		s.record(err)
	}()

	s.beat(ctx, StateProcessing)
	defer s.beat(ctx, StateIdle)

	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx, s.lockTTL)
		if err != nil {
			return fmt.Errorf("acquiring scheduler lock: %w", err)
		}
		if !acquired {
			s.log.Debug().Msg("scheduler lock held by another instance, skipping tick")
			return nil
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn().Err(err).Msg("releasing scheduler lock")
			}
		}()
	}

	result, err := s.engine.ProcessUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("processing events: %w", err)
	}
	s.setResult(result)
	if result.Processed+result.Failed+result.Retried > 0 {
		s.log.Info().
			Int("processed", result.Processed).
			Int("failed", result.Failed).
			Int("retried", result.Retried).
			Msg("scheduled batch complete")
	}

	if s.purger != nil {
		cutoff := s.now().UTC().Add(-s.retention)
		purged, err := s.purger.PurgeProcessedOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purging events: %w", err)
		}
		if purged > 0 {
			s.log.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged processed events")
		}
	}
	return nil
}

func (s *Scheduler) beat(ctx context.Context, state string) {
	if s.heartbeat == nil {
		return
	}
	if err := s.heartbeat.Beat(ctx, state); err != nil {
		s.log.Warn().Err(err).Str("state", state).Msg("scheduler heartbeat failed")
	}
}

func (s *Scheduler) setResult(r processor.BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = &r
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().UTC()
	s.lastRun = &at
	s.ticks++
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}
