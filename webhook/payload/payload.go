package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/internal/validation"
)

// Event types and sources produced by the fixed ingestion surfaces.
const (
	WorkflowSource = "n8n"
	WorkflowPrefix = "n8n."
	PushEventType  = "push_notification.send"
	PushSource     = "push_service"
	wildcardSuffix = "*"
)

// eventTypePattern validates processor patterns: hierarchical, full-stop delimited, [a-zA-Z0-9_.-]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*$`)

/* Normalized is the common internal shape every ingestion surface produces
 * It is what gets stored and what the outgoing dispatcher fans out
 */
type Normalized struct {
	EventType string
	Source    string
	Data      map[string]any
}

// Generic is the body of the generic receive endpoint
type Generic struct {
	EventType string         `json:"event_type" validate:"required,max=100"`
	Source    string         `json:"source" validate:"required,max=50"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Workflow is the body sent by n8n workflow automations
type Workflow struct {
	Event       string         `json:"event" validate:"required,max=96"`
	WorkflowID  string         `json:"workflow_id,omitempty" validate:"omitempty,uuid"`
	ExecutionID string         `json:"execution_id,omitempty" validate:"omitempty,uuid"`
	Data        map[string]any `json:"data"`
}

// Push is a push-notification request
type Push struct {
	Title    string         `json:"title" validate:"required,max=100"`
	Body     string         `json:"body" validate:"required,max=500"`
	Data     map[string]any `json:"data,omitempty"`
	Target   string         `json:"target" validate:"required,oneof=all user segment"`
	TargetID string         `json:"target_id,omitempty" validate:"required_unless=Target all,max=100"`
}

// ParseGeneric decodes and validates a generic webhook body.
func ParseGeneric(body []byte) (Normalized, error) {
	var p Generic
	if err := decode(body, &p); err != nil {
		return Normalized{}, err
	}
	if err := validation.Check(p); err != nil {
		return Normalized{}, err
	}
	return p.Normalize(), nil
}

// Normalize maps a generic body onto the internal shape
func (p Generic) Normalize() Normalized {
	return Normalized{EventType: p.EventType, Source: p.Source, Data: orEmpty(p.Data)}
}

// ParseWorkflow decodes and validates an n8n body.
func ParseWorkflow(body []byte) (Normalized, error) {
	var p Workflow
	if err := decode(body, &p); err != nil {
		return Normalized{}, err
	}
	if err := validation.Check(p); err != nil {
		return Normalized{}, err
	}
	return p.Normalize(), nil
}

// Normalize prefixes the event with the n8n namespace and folds the
// workflow identifiers into the data. Keys inside data win on conflict.
func (p Workflow) Normalize() Normalized {
	data := map[string]any{}
	if p.WorkflowID != "" {
		data["workflow_id"] = p.WorkflowID
	}
	if p.ExecutionID != "" {
		data["execution_id"] = p.ExecutionID
	}
	for k, v := range p.Data {
		data[k] = v
	}
	return Normalized{EventType: WorkflowPrefix + p.Event, Source: WorkflowSource, Data: data}
}

// ParsePush decodes and validates a push-notification body.
func ParsePush(body []byte) (Push, Normalized, error) {
	var p Push
	if err := decode(body, &p); err != nil {
		return Push{}, Normalized{}, err
	}
	if p.Target == "" {
		p.Target = "all"
	}
	if err := validation.Check(p); err != nil {
		return Push{}, Normalized{}, err
	}
	return p, p.Normalize(), nil
}

// Normalize stores the whole notification request as the event data
func (p Push) Normalize() Normalized {
	data := map[string]any{
		"title":  p.Title,
		"body":   p.Body,
		"data":   orEmpty(p.Data),
		"target": p.Target,
	}
	if p.TargetID != "" {
		data["target_id"] = p.TargetID
	}
	return Normalized{EventType: PushEventType, Source: PushSource, Data: data}
}

func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apperr.InvalidInput("Request body is required", nil)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.InvalidInput("Request body must be a valid JSON object", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Envelope is the body delivered to outgoing endpoints
type Envelope struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEnvelope wraps data for delivery, stamping it with now in UTC.
func NewEnvelope(eventType string, data map[string]any, now time.Time) Envelope {
	return Envelope{EventType: eventType, Timestamp: now.UTC(), Data: orEmpty(data)}
}

// Bytes returns the minified JSON encoding; these are the bytes that get signed.
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// IsWildcard reports whether pattern ends in the wildcard segment
func IsWildcard(pattern string) bool {
	return strings.HasSuffix(pattern, wildcardSuffix)
}

// MatchesPattern checks an event type against an exact or wildcard pattern.
// "user.*" matches "user.created"; "*" matches everything.
func MatchesPattern(pattern, eventType string) bool {
	if !IsWildcard(pattern) {
		return pattern == eventType
	}
	return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, wildcardSuffix))
}

// ValidatePattern validates a processor pattern.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if pattern == wildcardSuffix {
		return nil
	}
	base := pattern
	if IsWildcard(pattern) {
		base = strings.TrimSuffix(strings.TrimSuffix(pattern, wildcardSuffix), ".")
	}
	if !eventTypePattern.MatchString(base) {
		return fmt.Errorf("pattern must be hierarchical and contain only [a-zA-Z0-9_.-]: %s", pattern)
	}
	return nil
}
