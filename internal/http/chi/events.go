package chi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/webhook"
)

type eventResponse struct {
	ID           string            `json:"id"`
	EventType    string            `json:"event_type"`
	Source       string            `json:"source"`
	Payload      map[string]any    `json:"payload"`
	Headers      map[string]string `json:"headers"`
	Processed    bool              `json:"processed"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessedAt  *time.Time        `json:"processed_at"`
	ErrorMessage *string           `json:"error_message"`
	RetryCount   int               `json:"retry_count"`
	RetryAt      *time.Time        `json:"retry_at,omitempty"`
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

type eventsResponse struct {
	Success    bool            `json:"success"`
	Events     []eventResponse `json:"events"`
	Pagination pagination      `json:"pagination"`
}

func toEventResponse(e webhook.Event) eventResponse {
	return eventResponse{
		ID:           e.ID,
		EventType:    e.EventType,
		Source:       e.Source,
		Payload:      e.Payload,
		Headers:      e.Headers,
		Processed:    e.Processed,
		Status:       e.Status().String(),
		CreatedAt:    e.CreatedAt,
		ProcessedAt:  e.ProcessedAt,
		ErrorMessage: e.ErrorMessage,
		RetryCount:   e.RetryCount,
		RetryAt:      e.RetryAt,
	}
}

// getEvents handles GET /api/webhooks/events
func getEvents(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseEventFilter(r)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		filter = filter.Normalize()

		events, err := d.Webhooks.ListEvents(r.Context(), filter)
		if err != nil {
			d.Logger.Error().Err(err).Msg("listing events")
			apperr.Write(w, apperr.Internal(err))
			return
		}

		result := make([]eventResponse, 0, len(events))
		for _, e := range events {
			result = append(result, toEventResponse(e))
		}
		writeJSON(w, http.StatusOK, eventsResponse{
			Success: true,
			Events:  result,
			Pagination: pagination{
				Limit:  filter.Limit,
				Offset: filter.Offset,
				Count:  len(result),
			},
		})
	}
}

// getEvent handles GET /api/webhooks/events/{id}
func getEvent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		event, err := d.Webhooks.GetEvent(r.Context(), id)
		if errors.Is(err, webhook.ErrNotFound) {
			apperr.Write(w, apperr.NotFound("Event not found"))
			return
		}
		if err != nil {
			d.Logger.Error().Err(err).Str("event_id", id).Msg("getting event")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": toEventResponse(event)})
	}
}

func parseEventFilter(r *http.Request) (webhook.EventFilter, error) {
	q := r.URL.Query()
	var (
		filter webhook.EventFilter
		fields []apperr.FieldError
	)

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fields = append(fields, apperr.FieldError{Field: "limit", Tag: "number", Message: "limit must be a positive integer"})
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, apperr.FieldError{Field: "offset", Tag: "number", Message: "offset must be a non-negative integer"})
		}
		filter.Offset = n
	}
	if v := q.Get("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "processed", Tag: "boolean", Message: "processed must be true or false"})
		}
		filter.Processed = &b
	}
	filter.EventType = q.Get("event_type")
	filter.Source = q.Get("source")

	if len(fields) > 0 {
		return webhook.EventFilter{}, apperr.Validation("Invalid query parameters", fields)
	}
	return filter, nil
}
