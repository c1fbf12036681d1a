package chi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/processor"
	"github.com/marcelsud/webhook-relay/scheduler"
	"github.com/marcelsud/webhook-relay/webhook"
)

type createKeyRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Permissions   []string `json:"permissions,omitempty" validate:"omitempty,dive,required,max=50"`
	ExpiresInDays *int     `json:"expires_in_days,omitempty" validate:"omitempty,min=1,max=365"`
}

type createKeyResponse struct {
	Success   bool       `json:"success"`
	APIKey    string     `json:"api_key"`
	KeyID     string     `json:"key_id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
	Message   string     `json:"message"`
}

type apiKeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type createEndpointRequest struct {
	Name   string   `json:"name" validate:"required,max=100"`
	URL    string   `json:"url" validate:"required,http_url,max=500"`
	Secret *string  `json:"secret,omitempty" validate:"omitempty,min=16,max=100"`
	Events []string `json:"events" validate:"required,min=1,dive,required,max=100"`
}

// endpointResponse never carries the secret
type endpointResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Events          []string   `json:"events"`
	IsActive        bool       `json:"is_active"`
	HasSecret       bool       `json:"has_secret"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
}

type processEventsResponse struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message"`
	Processed int                     `json:"processed"`
	Failed    int                     `json:"failed"`
	Retried   int                     `json:"retried"`
	Results   []processor.EventResult `json:"results"`
}

type jobsRequest struct {
	Action   string `json:"action" validate:"required,oneof=start stop"`
	Interval *int   `json:"interval,omitempty" validate:"omitempty,min=5,max=3600"`
}

type jobsResponse struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message,omitempty"`
	Status    scheduler.Status       `json:"status"`
	Instances []metrics.InstanceInfo `json:"instances,omitempty"`
}

func toEndpointResponse(e webhook.Endpoint) endpointResponse {
	return endpointResponse{
		ID:              e.ID,
		Name:            e.Name,
		URL:             e.URL,
		Events:          e.Events,
		IsActive:        e.IsActive,
		HasSecret:       e.HasSecret(),
		CreatedAt:       e.CreatedAt,
		LastTriggeredAt: e.LastTriggeredAt,
	}
}

// postAPIKey handles POST /api/admin/api-keys
func postAPIKey(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apperr.Write(w, err)
			return
		}

		var expiresAt *time.Time
		if req.ExpiresInDays != nil {
			at := d.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
			expiresAt = &at
		}

		plaintext, id, err := d.Auth.GenerateAPIKey(r.Context(), req.Name, req.Permissions, expiresAt)
		if err != nil {
			d.Logger.Error().Err(err).Str("name", req.Name).Msg("creating api key")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		d.Logger.Info().Str("key_id", id).Str("name", req.Name).Msg("api key created")

		writeJSON(w, http.StatusCreated, createKeyResponse{
			Success:   true,
			APIKey:    plaintext,
			KeyID:     id,
			Name:      req.Name,
			ExpiresAt: expiresAt,
			Message:   "API key created. Store it securely, it will not be shown again.",
		})
	}
}

// getAPIKeys handles GET /api/admin/api-keys
func getAPIKeys(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := d.Auth.ListAPIKeys(r.Context())
		if err != nil {
			d.Logger.Error().Err(err).Msg("listing api keys")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		result := make([]apiKeyResponse, 0, len(keys))
		for _, k := range keys {
			result = append(result, apiKeyResponse{
				ID:          k.ID,
				Name:        k.Name,
				Permissions: k.Permissions,
				IsActive:    k.IsActive,
				CreatedAt:   k.CreatedAt,
				LastUsedAt:  k.LastUsedAt,
				ExpiresAt:   k.ExpiresAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "api_keys": result})
	}
}

// postEndpoint handles POST /api/admin/webhook-endpoints
func postEndpoint(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEndpointRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apperr.Write(w, err)
			return
		}

		endpoint, err := d.Webhooks.CreateEndpoint(r.Context(), webhook.Endpoint{
			Name:     req.Name,
			URL:      req.URL,
			Secret:   req.Secret,
			Events:   req.Events,
			IsActive: true,
		})
		if errors.Is(err, webhook.ErrInvalidEndpoint) {
			apperr.Write(w, apperr.InvalidInput(err.Error(), err))
			return
		}
		if err != nil {
			d.Logger.Error().Err(err).Str("name", req.Name).Msg("creating webhook endpoint")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		d.Logger.Info().Str("endpoint_id", endpoint.ID).Str("name", endpoint.Name).Strs("events", endpoint.Events).Msg("webhook endpoint registered")

		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "endpoint": toEndpointResponse(endpoint)})
	}
}

// getEndpoints handles GET /api/admin/webhook-endpoints
func getEndpoints(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoints, err := d.Webhooks.ListEndpoints(r.Context())
		if err != nil {
			d.Logger.Error().Err(err).Msg("listing webhook endpoints")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		result := make([]endpointResponse, 0, len(endpoints))
		for _, e := range endpoints {
			result = append(result, toEndpointResponse(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "endpoints": result})
	}
}

// postProcessEvents handles POST /api/admin/process-events
func postProcessEvents(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// state updates must land even if the caller disconnects mid-batch
		result, err := d.Engine.ProcessUnprocessed(context.WithoutCancel(r.Context()))
		if err != nil {
			d.Logger.Error().Err(err).Msg("manual event processing")
			apperr.Write(w, apperr.Internal(err))
			return
		}
		results := result.Results
		if results == nil {
			results = []processor.EventResult{}
		}
		writeJSON(w, http.StatusOK, processEventsResponse{
			Success:   true,
			Message:   fmt.Sprintf("Processed %d events", len(results)),
			Processed: result.Processed,
			Failed:    result.Failed,
			Retried:   result.Retried,
			Results:   results,
		})
	}
}

// getBackgroundJobs handles GET /api/admin/background-jobs
func getBackgroundJobs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := jobsResponse{Success: true, Status: d.Scheduler.Status()}
		if d.Instances != nil {
			instances, err := d.Instances.ActiveInstances(r.Context())
			if err != nil {
				d.Logger.Warn().Err(err).Msg("listing scheduler instances")
			}
			resp.Instances = instances
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// postBackgroundJobs handles POST /api/admin/background-jobs
func postBackgroundJobs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apperr.Write(w, err)
			return
		}

		var message string
		switch req.Action {
		case "start":
			interval := scheduler.DefaultInterval
			if req.Interval != nil {
				interval = time.Duration(*req.Interval) * time.Second
			}
			message = "Background job runner started"
			if !d.Scheduler.Start(interval) {
				message = "Background job runner is already running"
			}
		case "stop":
			message = "Background job runner stopped"
			if !d.Scheduler.Stop() {
				message = "Background job runner is not running"
			}
		}
		d.Logger.Info().Str("action", req.Action).Msg(message)

		writeJSON(w, http.StatusOK, jobsResponse{
			Success: true,
			Message: message,
			Status:  d.Scheduler.Status(),
		})
	}
}
