package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

// DefaultPattern is reported by Match when no registered pattern applies.
const DefaultPattern = "default"

// Result is what a handler reports for one event.
type Result struct {
	Success     bool
	Message     string
	ShouldRetry bool
	RetryAfter  time.Duration
	Data        map[string]any
}

// Handler processes one stored event.
type Handler interface {
	Handle(ctx context.Context, event webhook.Event) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event webhook.Event) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, event webhook.Event) (Result, error) {
	return f(ctx, event)
}

type route struct {
	pattern string
	handler Handler
}

/* Registry maps event-type patterns to handlers
 * Exact patterns win, then wildcards in registration order, then the default handler
 */
type Registry struct {
	mu        sync.RWMutex
	exact     map[string]Handler
	wildcards []route
	fallback  Handler
}

// NewRegistry creates an empty registry whose default handler is Generic.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Handler),
		fallback: Generic(),
	}
}

// Register adds a handler for an exact event type or a trailing-* wildcard.
func (r *Registry) Register(pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for %s cannot be nil", pattern)
	}
	if err := payload.ValidatePattern(pattern); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !payload.IsWildcard(pattern) {
		if _, exists := r.exact[pattern]; exists {
			return fmt.Errorf("handler already registered for %s", pattern)
		}
		r.exact[pattern] = h
		return nil
	}

	for _, w := range r.wildcards {
		if w.pattern == pattern {
			return fmt.Errorf("handler already registered for %s", pattern)
		}
	}
	r.wildcards = append(r.wildcards, route{pattern: pattern, handler: h})
	return nil
}

// SetDefault replaces the handler used when nothing matches.
func (r *Registry) SetDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Match returns the handler for eventType and the pattern that selected it.
func (r *Registry) Match(eventType string) (Handler, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.exact[eventType]; ok {
		return h, eventType
	}
	for _, w := range r.wildcards {
		if payload.MatchesPattern(w.pattern, eventType) {
			return w.handler, w.pattern
		}
	}
	return r.fallback, DefaultPattern
}

// Patterns lists registered patterns: exact ones unordered, then wildcards in order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exact)+len(r.wildcards))
	for p := range r.exact {
		out = append(out, p)
	}
	for _, w := range r.wildcards {
		out = append(out, w.pattern)
	}
	return out
}
