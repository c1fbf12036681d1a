// Package dispatch fans events out to registered outgoing endpoints.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
	"github.com/marcelsud/webhook-relay/webhook/signature"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	UserAgent      = "Webhook-Service/1.0"
	DefaultTimeout = 10 * time.Second

	// bodyPreviewLimit bounds how much of a failed response is logged.
	bodyPreviewLimit = 512
)

// Delivery is the outcome of one POST to one endpoint.
type Delivery struct {
	EndpointID   string        `json:"endpoint_id"`
	EndpointName string        `json:"endpoint_name"`
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Summary aggregates one trigger call.
type Summary struct {
	Attempted int        `json:"attempted"`
	Delivered int        `json:"delivered"`
	Failed    int        `json:"failed"`
	Results   []Delivery `json:"results"`
}

/* Dispatcher delivers envelopes at most once
 * Failures are reported in the Summary and logged, never retried
 */
type Dispatcher struct {
	endpoints webhook.EndpointStore
	client    *http.Client
	log       zerolog.Logger
	recorder  metrics.Recorder
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTimeout sets the per-delivery client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.client = &http.Client{Timeout: timeout}
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(endpoints webhook.EndpointStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: DefaultTimeout},
		log:       zerolog.Nop(),
		recorder:  metrics.NopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TriggerWebhooks delivers data to every active endpoint subscribed to eventType.
// All deliveries settle before it returns; only the endpoint lookup can fail the call.
func (d *Dispatcher) TriggerWebhooks(ctx context.Context, eventType string, data map[string]any) (Summary, error) {
	endpoints, err := d.endpoints.ListActiveEndpointsForEvent(ctx, eventType)
	if err != nil {
		return Summary{}, fmt.Errorf("listing endpoints for %s: %w", eventType, err)
	}
	if len(endpoints) == 0 {
		return Summary{Results: []Delivery{}}, nil
	}

	// deliveries outlive a disconnected caller
	ctx = context.WithoutCancel(ctx)

	results := make([]Delivery, len(endpoints))
	var wg conc.WaitGroup
	for i, ep := range endpoints {
		results[i] = Delivery{EndpointID: ep.ID, EndpointName: ep.Name, URL: ep.URL, Error: "delivery panicked"}
		wg.Go(func() {
			results[i] = d.deliver(ctx, ep, eventType, data)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		d.log.Error().Str("event_type", eventType).Str("panic", recovered.String()).Msg("delivery panicked")
	}

	summary := Summary{Attempted: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Delivered++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ep webhook.Endpoint, eventType string, data map[string]any) (result Delivery) {
	result = Delivery{EndpointID: ep.ID, EndpointName: ep.Name, URL: ep.URL}
	start := d.now()

	defer func() {
		result.Duration = d.now().Sub(start)
		d.recorder.DeliveryAttempted(ctx, result.Success, result.Duration)
		if err := d.endpoints.TouchEndpoint(ctx, ep.ID, d.now().UTC()); err != nil {
			d.log.Warn().Err(err).Str("endpoint_id", ep.ID).Msg("updating endpoint last_triggered_at")
		}
	}()

	body, err := payload.NewEnvelope(eventType, data, start).Bytes()
	if err != nil {
		result.Error = fmt.Sprintf("encoding envelope: %v", err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("building request: %v", err)
		d.log.Error().Err(err).Str("endpoint", ep.Name).Msg("webhook delivery failed")
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if ep.HasSecret() {
		req.Header.Set(signature.HeaderName, signature.Header(body, *ep.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		d.log.Error().Err(err).Str("endpoint", ep.Name).Str("event_type", eventType).Msg("webhook delivery failed")
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLimit))
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		d.log.Warn().
			Str("endpoint", ep.Name).
			Str("event_type", eventType).
			Int("status", resp.StatusCode).
			Str("body", string(preview)).
			Msg("webhook delivery rejected")
		return result
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	result.Success = true
	d.log.Info().Str("endpoint", ep.Name).Str("event_type", eventType).Int("status", resp.StatusCode).Msg("webhook delivered")
	return result
}
