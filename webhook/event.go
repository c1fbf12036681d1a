package webhook

import (
	"time"
	"unicode/utf8"
)

// Field limits enforced before an event reaches the store.
const (
	MaxEventTypeLength    = 100
	MaxSourceLength       = 50
	MaxErrorMessageLength = 1000
	MaxRetryCount         = 10
)

/* Event represents one accepted inbound webhook
 * Uses value semantics as it represents data, not behavior
 * Created unprocessed by the gateway, mutated only by the processing engine
 */
type Event struct {
	ID           string
	EventType    string
	Source       string
	Payload      map[string]any
	Headers      map[string]string
	Processed    bool
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage *string
	RetryCount   int
	RetryAt      *time.Time
}

// Status derives the lifecycle state from the stored fields.
func (e Event) Status() Status {
	switch {
	case e.Processed && e.ErrorMessage != nil:
		return Failed
	case e.Processed:
		return Processed
	case e.RetryAt != nil || e.RetryCount > 0:
		return Retrying
	default:
		return Pending
	}
}

// Due reports whether an unprocessed event may be picked up at now.
func (e Event) Due(now time.Time) bool {
	if e.Processed {
		return false
	}
	return e.RetryAt == nil || !e.RetryAt.After(now)
}

// EventFilter selects a page of events, newest first.
type EventFilter struct {
	Limit     int
	Offset    int
	Processed *bool
	EventType string
	Source    string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Normalize applies paging defaults and bounds.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ProcessingLog is an append-only audit record of one processing attempt.
type ProcessingLog struct {
	ID          string
	EventID     string
	EventType   string
	Success     bool
	Message     string
	Data        map[string]any
	ProcessedAt time.Time
}

// TruncateError bounds an error message to MaxErrorMessageLength characters
// without splitting a multibyte rune.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorMessageLength {
		return msg
	}
	n := 0
	for i := range msg {
		if n == MaxErrorMessageLength {
			return msg[:i]
		}
		n++
	}
	return msg
}
