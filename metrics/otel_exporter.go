package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *promclient.Registry
	collector     Collector

	// OTel meters and instruments
	meter              metric.Meter
	statusCountGauge   metric.Int64ObservableGauge
	instancesGauge     metric.Int64ObservableGauge
	receivedCounter    metric.Int64Counter
	processedCounter   metric.Int64Counter
	processingDuration metric.Float64Histogram
	deliveryCounter    metric.Int64Counter
	deliveryDuration   metric.Float64Histogram
	rateLimitedCounter metric.Int64Counter
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format.
// Metrics are registered on registry, which also backs Handler.
func NewOTelExporter(collector Collector, registry *promclient.Registry) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"webhook-relay",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Status count gauge (per status)
	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.events.status",
		metric.WithDescription("Number of stored events by status"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	// Active relay instances
	oe.instancesGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.scheduler.instances",
		metric.WithDescription("Number of relay instances with a live scheduler heartbeat"),
		metric.WithUnit("{instances}"),
		metric.WithInt64Callback(oe.observeInstances),
	)
	if err != nil {
		return fmt.Errorf("creating instances gauge: %w", err)
	}

	oe.receivedCounter, err = oe.meter.Int64Counter(
		"webhook.events.received",
		metric.WithDescription("Inbound events accepted and stored"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return fmt.Errorf("creating received counter: %w", err)
	}

	oe.processedCounter, err = oe.meter.Int64Counter(
		"webhook.events.processed",
		metric.WithDescription("Processing attempts by outcome"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}

	oe.processingDuration, err = oe.meter.Float64Histogram(
		"webhook.processing.duration",
		metric.WithDescription("Time spent processing one event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating processing histogram: %w", err)
	}

	oe.deliveryCounter, err = oe.meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Outgoing delivery attempts by result"),
		metric.WithUnit("{deliveries}"),
	)
	if err != nil {
		return fmt.Errorf("creating delivery counter: %w", err)
	}

	oe.deliveryDuration, err = oe.meter.Float64Histogram(
		"webhook.delivery.duration",
		metric.WithDescription("Outgoing delivery latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating delivery histogram: %w", err)
	}

	oe.rateLimitedCounter, err = oe.meter.Int64Counter(
		"webhook.ratelimit.rejections",
		metric.WithDescription("Requests rejected by a rate limit rule"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("creating rate limit counter: %w", err)
	}

	return nil
}

// observeStatusCounts is a callback that reports event counts by status
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("event.status", status),
		))
	}

	return nil
}

// observeInstances is a callback that reports active instance counts
func (oe *OTelExporter) observeInstances(ctx context.Context, observer metric.Int64Observer) error {
	instances, err := oe.collector.GetActiveInstances(ctx)
	if err != nil {
		return err
	}

	observer.Observe(int64(len(instances)))
	return nil
}

func (oe *OTelExporter) EventReceived(ctx context.Context, source string) {
	oe.receivedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event.source", source)))
}

func (oe *OTelExporter) EventProcessed(ctx context.Context, pattern, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("processor.pattern", pattern),
		attribute.String("event.outcome", outcome),
	)
	oe.processedCounter.Add(ctx, 1, attrs)
	oe.processingDuration.Record(ctx, d.Seconds(), attrs)
}

func (oe *OTelExporter) DeliveryAttempted(ctx context.Context, success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	attrs := metric.WithAttributes(attribute.String("delivery.result", result))
	oe.deliveryCounter.Add(ctx, 1, attrs)
	oe.deliveryDuration.Record(ctx, d.Seconds(), attrs)
}

func (oe *OTelExporter) RateLimited(ctx context.Context, rule string) {
	oe.rateLimitedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("ratelimit.rule", rule)))
}

// Handler serves Prometheus-formatted metrics from the exporter's registry
func (oe *OTelExporter) Handler() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
