package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/dispatch"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/processor"
	"github.com/marcelsud/webhook-relay/ratelimit"
	"github.com/marcelsud/webhook-relay/scheduler"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/rs/zerolog"
)

const (
	RequestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

/* Small interfaces over the services the HTTP layer drives
 * The concrete types live in auth, processor, dispatch and scheduler
 */

// Authenticator checks and manages credentials.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, plaintext string) (webhook.APIKey, bool)
	ValidateAdminKey(candidate string) bool
	GenerateAPIKey(ctx context.Context, name string, permissions []string, expiresAt *time.Time) (string, string, error)
	ListAPIKeys(ctx context.Context) ([]webhook.APIKey, error)
}

type BatchProcessor interface {
	ProcessUnprocessed(ctx context.Context) (processor.BatchResult, error)
}

type Dispatcher interface {
	TriggerWebhooks(ctx context.Context, eventType string, data map[string]any) (dispatch.Summary, error)
}

type JobScheduler interface {
	Start(interval time.Duration) bool
	Stop() bool
	Status() scheduler.Status
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// SignatureConfig enables HMAC verification of inbound bodies.
type SignatureConfig struct {
	Secret   string
	Required bool
}

func (c SignatureConfig) enabled() bool {
	return c.Required && c.Secret != ""
}

// Deps is everything the router wires together.
type Deps struct {
	Webhooks   webhook.UseCase
	Auth       Authenticator
	Limiter    ratelimit.Limiter
	Rules      ratelimit.Rules
	Engine     BatchProcessor
	Dispatcher Dispatcher
	Scheduler  JobScheduler
	Instances  metrics.InstanceSource
	Health     Pinger
	Metrics    http.Handler
	Recorder   metrics.Recorder
	Signature  SignatureConfig
	Logger     zerolog.Logger

	// LogLevel and LogJSON configure the request logger
	LogLevel    string
	LogJSON     bool
	CORSOrigins []string
	Now         func() time.Time
}

func (d *Deps) defaults() {
	if d.Recorder == nil {
		d.Recorder = metrics.NopRecorder{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LogLevel == "" {
		d.LogLevel = "info"
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
}

// Handlers sets up every route of the relay.
func Handlers(d Deps) *chi.Mux {
	d.defaults()

	logger := httplog.NewLogger("webhook-relay", httplog.Options{
		JSON:     d.LogJSON,
		LogLevel: d.LogLevel,
		Concise:  true,
		SkipHeaders: []string{
			"x-api-key",
			"x-admin-key",
			"x-webhook-signature",
			"x-hub-signature-256",
		},
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			headerAPIKey,
			headerAdminKey,
			"X-Webhook-Signature",
			"X-Hub-Signature-256",
			middleware.RequestIDHeader,
		},
		ExposedHeaders: []string{
			ratelimit.HeaderLimit,
			ratelimit.HeaderRemaining,
			ratelimit.HeaderReset,
			middleware.RequestIDHeader,
		},
		MaxAge: 300,
	}))

	r.Get("/health", getHealth(d))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireAPIKey(d, false))
			r.Use(rateLimit(d, d.Rules.Webhook, apiKeyClient))

			r.Get("/receive", getReceiveInfo())
			r.Get("/events", getEvents(d))
			r.Get("/events/{id}", getEvent(d))

			r.Group(func(r chi.Router) {
				r.Use(verifySignature(d))
				r.Post("/receive", postReceive(d))
				r.Post("/push-notification", postPushNotification(d))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAPIKey(d, true))
			r.Use(rateLimit(d, d.Rules.Webhook, apiKeyClient))
			r.Use(verifySignature(d))
			r.Post("/n8n", postWorkflow(d))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAdminKey(d))

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(d, d.Rules.Admin, ipClient))
			r.Get("/api-keys", getAPIKeys(d))
			r.Post("/api-keys", postAPIKey(d))
			r.Get("/webhook-endpoints", getEndpoints(d))
			r.Post("/webhook-endpoints", postEndpoint(d))
		})

		r.With(rateLimit(d, d.Rules.ProcessEvents, ipClient)).
			Post("/process-events", postProcessEvents(d))

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(d, d.Rules.BackgroundJobs, ipClient))
			r.Get("/background-jobs", getBackgroundJobs(d))
			r.Post("/background-jobs", postBackgroundJobs(d))
		})
	})

	return r
}
