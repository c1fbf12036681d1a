package processor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
	"github.com/rs/zerolog"
)

const pushRetryAfter = 30 * time.Second

// Notification is a push request taken from a push_notification.send event.
type Notification struct {
	Title    string
	Body     string
	Data     map[string]any
	Target   string
	TargetID string
}

// Receipt is returned by a Notifier once a notification is handed off.
type Receipt struct {
	NotificationID string
	SentAt         time.Time
	Target         string
}

// Notifier delivers push notifications to a provider.
type Notifier interface {
	Send(ctx context.Context, n Notification) (Receipt, error)
}

// LogNotifier records notifications in the log instead of calling a provider.
type LogNotifier struct {
	Log zerolog.Logger
	Now func() time.Time
}

func (n LogNotifier) Send(_ context.Context, note Notification) (Receipt, error) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	r := Receipt{
		NotificationID: "notif_" + uuid.New().String(),
		SentAt:         now().UTC(),
		Target:         note.Target,
	}
	n.Log.Info().
		Str("notification_id", r.NotificationID).
		Str("title", note.Title).
		Str("target", note.Target).
		Str("target_id", note.TargetID).
		Msg("push notification sent")
	return r, nil
}

// NewDefaultRegistry registers the built-in handlers.
func NewDefaultRegistry(notifier Notifier) (*Registry, error) {
	r := NewRegistry()
	for _, rt := range []route{
		{pattern: payload.WorkflowPrefix + "*", handler: Workflow()},
		{pattern: payload.PushEventType, handler: Push(notifier)},
		{pattern: "user.*", handler: User()},
	} {
		if err := r.Register(rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Workflow handles n8n.* events.
func Workflow() Handler {
	return HandlerFunc(func(_ context.Context, event webhook.Event) (Result, error) {
		workflowID := stringField(event.Payload, "workflow_id")
		executionID := stringField(event.Payload, "execution_id")
		rest := without(event.Payload, "workflow_id", "execution_id")

		switch event.EventType {
		case "n8n.workflow_started":
			return Result{
				Success: true,
				Message: "Workflow started event processed",
				Data:    map[string]any{"workflow_id": workflowID, "execution_id": executionID},
			}, nil
		case "n8n.workflow_completed":
			return Result{
				Success: true,
				Message: "Workflow completed event processed",
				Data:    map[string]any{"workflow_id": workflowID, "execution_id": executionID, "results": rest},
			}, nil
		case "n8n.workflow_failed":
			return Result{
				Success: true,
				Message: "Workflow failed event processed",
				Data:    map[string]any{"workflow_id": workflowID, "execution_id": executionID, "error": rest},
			}, nil
		default:
			return Result{
				Success: true,
				Message: fmt.Sprintf("Generic N8N event %s processed", event.EventType),
				Data:    rest,
			}, nil
		}
	})
}

// Push hands push_notification.send events to notifier.
// Notifier errors are retried after 30 seconds.
func Push(notifier Notifier) Handler {
	return HandlerFunc(func(ctx context.Context, event webhook.Event) (Result, error) {
		note := Notification{
			Title:    stringField(event.Payload, "title"),
			Body:     stringField(event.Payload, "body"),
			Target:   stringField(event.Payload, "target"),
			TargetID: stringField(event.Payload, "target_id"),
		}
		if data, ok := event.Payload["data"].(map[string]any); ok {
			note.Data = data
		}

		receipt, err := notifier.Send(ctx, note)
		if err != nil {
			return Result{
				Success:     false,
				Message:     fmt.Sprintf("Push notification error: %v", err),
				ShouldRetry: true,
				RetryAfter:  pushRetryAfter,
			}, nil
		}
		return Result{
			Success: true,
			Message: "Push notification sent successfully",
			Data: map[string]any{
				"notification_id": receipt.NotificationID,
				"sent_at":         receipt.SentAt.Format(time.RFC3339),
				"target":          receipt.Target,
			},
		}, nil
	})
}

// User handles user.* events.
func User() Handler {
	return HandlerFunc(func(_ context.Context, event webhook.Event) (Result, error) {
		userID := event.Payload["user_id"]
		switch event.EventType {
		case "user.created":
			return Result{Success: true, Message: "User created event processed", Data: map[string]any{"user_id": userID}}, nil
		case "user.updated":
			return Result{Success: true, Message: "User updated event processed", Data: map[string]any{"user_id": userID}}, nil
		case "user.deleted":
			return Result{Success: true, Message: "User deleted event processed", Data: map[string]any{"user_id": userID}}, nil
		default:
			return Result{
				Success: true,
				Message: fmt.Sprintf("Generic user event %s processed", event.EventType),
				Data:    event.Payload,
			}, nil
		}
	})
}

// Generic accepts any event and reports its shape.
func Generic() Handler {
	return HandlerFunc(func(_ context.Context, event webhook.Event) (Result, error) {
		return Result{
			Success: true,
			Message: fmt.Sprintf("Generic event %s processed", event.EventType),
			Data: map[string]any{
				"event_type":   event.EventType,
				"source":       event.Source,
				"payload_keys": slices.Sorted(maps.Keys(event.Payload)),
			},
		}, nil
	})
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func without(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !slices.Contains(keys, k) {
			out[k] = v
		}
	}
	return out
}
