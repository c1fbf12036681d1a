package chi

import (
	"errors"
	"net/http"

	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

/* HTTP layer DTOs for the ingestion API
 * Separate from domain entities to avoid leaking internal structure
 */

type receiveResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

type notificationSummary struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Target string `json:"target"`
}

type pushResponse struct {
	receiveResponse
	Notification notificationSummary `json:"notification"`
}

type receiveInfoResponse struct {
	Message string   `json:"message"`
	Methods []string `json:"methods"`
	Headers []string `json:"headers"`
}

// postReceive handles POST /api/webhooks/receive
func postReceive(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		in, err := payload.ParseGeneric(body)
		if err != nil {
			apperr.Write(w, err)
			return
		}

		event, err := accept(d, r, in)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receiveResponse{
			Success: true,
			EventID: event.ID,
			Message: "Webhook received and processed",
		})
	}
}

// postWorkflow handles POST /api/webhooks/n8n
func postWorkflow(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		in, err := payload.ParseWorkflow(body)
		if err != nil {
			apperr.Write(w, err)
			return
		}

		event, err := accept(d, r, in)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receiveResponse{
			Success: true,
			EventID: event.ID,
			Message: "N8N webhook processed successfully",
		})
	}
}

// postPushNotification handles POST /api/webhooks/push-notification
func postPushNotification(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		push, in, err := payload.ParsePush(body)
		if err != nil {
			apperr.Write(w, err)
			return
		}

		event, err := accept(d, r, in)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pushResponse{
			receiveResponse: receiveResponse{
				Success: true,
				EventID: event.ID,
				Message: "Push notification queued successfully",
			},
			Notification: notificationSummary{
				Title:  push.Title,
				Body:   push.Body,
				Target: push.Target,
			},
		})
	}
}

// getReceiveInfo handles GET /api/webhooks/receive
func getReceiveInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, receiveInfoResponse{
			Message: "Webhook endpoint is active",
			Methods: []string{http.MethodPost},
			Headers: []string{headerAPIKey, "Content-Type"},
		})
	}
}

// accept stores the event and fans it out to outgoing endpoints.
// Dispatch failures never fail the request.
func accept(d Deps, r *http.Request, in payload.Normalized) (webhook.Event, error) {
	ctx := r.Context()

	event, err := d.Webhooks.Receive(ctx, in, requestHeaders(r))
	if errors.Is(err, webhook.ErrInvalidEvent) {
		return webhook.Event{}, apperr.InvalidInput(err.Error(), err)
	}
	if err != nil {
		d.Logger.Error().Err(err).Str("event_type", in.EventType).Str("source", in.Source).Msg("storing webhook event")
		return webhook.Event{}, apperr.Internal(err)
	}
	d.Recorder.EventReceived(ctx, in.Source)
	d.Logger.Info().Str("event_id", event.ID).Str("event_type", event.EventType).Str("source", event.Source).Msg("webhook received")

	if d.Dispatcher == nil {
		return event, nil
	}
	summary, err := d.Dispatcher.TriggerWebhooks(ctx, in.EventType, in.Data)
	if err != nil {
		d.Logger.Error().Err(err).Str("event_id", event.ID).Msg("triggering outgoing webhooks")
		return event, nil
	}
	if summary.Attempted > 0 {
		d.Logger.Info().
			Str("event_id", event.ID).
			Int("attempted", summary.Attempted).
			Int("delivered", summary.Delivered).
			Int("failed", summary.Failed).
			Msg("outgoing webhooks triggered")
	}
	return event, nil
}
