package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/auth"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/dispatch"
	"github.com/marcelsud/webhook-relay/internal/http/chi"
	"github.com/marcelsud/webhook-relay/internal/logger"
	"github.com/marcelsud/webhook-relay/internal/redisconn"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/processor"
	"github.com/marcelsud/webhook-relay/ratelimit"
	ratelimitredis "github.com/marcelsud/webhook-relay/ratelimit/redis"
	"github.com/marcelsud/webhook-relay/scheduler"
	schedredis "github.com/marcelsud/webhook-relay/scheduler/redis"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/endpoints"
	"github.com/marcelsud/webhook-relay/webhook/sqlstore"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const TIMEOUT = 30 * time.Second

/*
 * main.go is where every package gets wired together.
 * Imports only flow downwards: the binary imports the business packages,
 * which import the storage layer.
 */

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "webhook-relay"})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	if cfg.EndpointsFile != "" {
		eps, err := endpoints.Load(cfg.EndpointsFile)
		if err != nil {
			return err
		}
		added, err := endpoints.Seed(ctx, store, eps)
		if err != nil {
			return err
		}
		log.Info().Int("added", added).Str("file", cfg.EndpointsFile).Msg("seeded webhook endpoints")
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = host + "-" + uuid.New().String()[:8]
	}

	var (
		limiter   ratelimit.Limiter = ratelimit.NewMemory()
		instances metrics.InstanceSource
		schedOpts = []scheduler.Option{
			scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
			scheduler.WithRetention(cfg.Retention()),
		}
	)
	if cfg.UseRedis() {
		client, err := redisconn.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()

		if cfg.RateLimitBackend == "redis" {
			limiter = ratelimitredis.NewLimiter(client)
		}
		heartbeat := schedredis.NewHeartbeat(client, instanceID, 0)
		instances = heartbeat
		schedOpts = append(schedOpts,
			scheduler.WithLocker(schedredis.NewLock(client, ""), 0),
			scheduler.WithHeartbeat(heartbeat),
		)
		log.Info().Str("addr", cfg.RedisAddr).Str("instance_id", instanceID).Msg("redis coordination enabled")
	}

	exporter, err := metrics.NewOTelExporter(metrics.NewStoreCollector(store, instances), promclient.NewRegistry())
	if err != nil {
		return err
	}
	defer shutdownExporter(exporter, log)

	authSvc := auth.NewService(store, cfg.AdminAPIKey, auth.WithLogger(log))
	defer authSvc.Wait()

	registry, err := processor.NewDefaultRegistry(processor.LogNotifier{Log: log})
	if err != nil {
		return err
	}
	log.Info().Strs("patterns", registry.Patterns()).Msg("event processors registered")
	engine := processor.NewEngine(store, registry,
		processor.WithLogger(log.With().Str("component", "processor").Logger()),
		processor.WithRecorder(exporter),
		processor.WithHandlerTimeout(cfg.HandlerTimeout()),
	)
	dispatcher := dispatch.New(store,
		dispatch.WithTimeout(cfg.DeliveryTimeout()),
		dispatch.WithLogger(log.With().Str("component", "dispatch").Logger()),
		dispatch.WithRecorder(exporter),
	)

	sched := scheduler.New(engine, store, schedOpts...)
	if cfg.AutoStartScheduler {
		sched.Start(cfg.SchedulerInterval())
	}
	defer sched.Stop()

	r := chi.Handlers(chi.Deps{
		Webhooks:   webhook.NewService(store),
		Auth:       authSvc,
		Limiter:    limiter,
		Rules:      rules(cfg),
		Engine:     engine,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Instances:  instances,
		Health:     store,
		Metrics:    exporter.Handler(),
		Recorder:   exporter,
		Signature:  chi.SignatureConfig{Secret: cfg.WebhookSecret, Required: cfg.RequireSignature},
		Logger:     log,
		LogLevel:   cfg.LogLevel,
		LogJSON:    cfg.LogFormat != "console",
	})
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown, log)
	log.Info().Str("port", cfg.Port).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errShutdown
}

func rules(cfg *config.Config) ratelimit.Rules {
	r := ratelimit.DefaultRules()
	r.Webhook.Max = cfg.WebhookRateLimit
	r.Admin.Max = cfg.AdminRateLimit
	r.ProcessEvents.Max = cfg.ProcessRateLimit
	r.BackgroundJobs.Max = cfg.JobsRateLimit
	r.Signature.Max = cfg.SignatureRateLimit
	return r
}

func shutdownExporter(exporter *metrics.OTelExporter, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutting down metrics exporter")
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error, log zerolog.Logger) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	log.Info().Msg("shutting down server")
	if err := server.Shutdown(ctxTimeout); err != nil {
		errShutdown <- fmt.Errorf("forcing server close: %w", err)
		return
	}
	errShutdown <- nil
}
