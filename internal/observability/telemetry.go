// Package observability sets up OpenTelemetry tracing and metrics for the
// gateway. Metrics are exported in Prometheus format on /metrics.
package observability

import (
	"context"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sean-rowe/farm-weather-gateway/internal/core/domain"
)

// Telemetry owns the tracer and meter providers and the gateway's instruments.
// It satisfies ports.GatewayMetrics.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	logger         *zap.Logger

	// HTTP
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	ErrorCounter    metric.Int64Counter

	// Gateway
	ReadingCounter     metric.Int64Counter
	DegradationCounter metric.Int64Counter
	CacheHitCounter    metric.Int64Counter
	CacheMissCounter   metric.Int64Counter

	// Audit trail
	DBQueryDuration metric.Float64Histogram
}

// Config holds telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the gRPC collector address; empty disables trace export.
	OTLPEndpoint string
	SampleRate   float64

	// Registerer receives the Prometheus collector; nil means the default registry.
	Registerer prom.Registerer
}

// InitTelemetry creates the providers, installs them globally and registers
// the instruments.
//
// Parameters:
//   - ctx: Context for exporter setup
//   - cfg: Telemetry configuration
//   - logger: Zap logger
//
// Returns:
//   - *Telemetry: Initialized telemetry
//   - error: Resource, exporter or instrument creation failure
func InitTelemetry(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider, err := initTracerProvider(ctx, cfg, res)

	if err != nil {
		return nil, fmt.Errorf("failed to init tracer provider: %w", err)
	}

	meterProvider, err := initMeterProvider(cfg, res)

	if err != nil {
		return nil, fmt.Errorf("failed to init meter provider: %w", err)
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Telemetry{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Tracer:         tracerProvider.Tracer(cfg.ServiceName),
		Meter:          meterProvider.Meter(cfg.ServiceName),
		logger:         logger,
	}

	if err := t.registerInstruments(); err != nil {
		return nil, err
	}

	logger.Info("telemetry initialized",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.Float64("sample_rate", cfg.SampleRate))

	return t, nil
}

func (t *Telemetry) registerInstruments() error {
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&t.RequestCounter, "http_requests_total", "Total number of HTTP requests"},
		{&t.ErrorCounter, "errors_total", "Total number of errors"},
		{&t.ReadingCounter, "weather_readings_total", "Weather readings served, by source"},
		{&t.DegradationCounter, "weather_degradations_total", "Simulated readings served, by error kind"},
		{&t.CacheHitCounter, "weather_cache_hits_total", "Reading cache hits"},
		{&t.CacheMissCounter, "weather_cache_misses_total", "Reading cache misses"},
	}

	for _, c := range counters {
		counter, err := t.Meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit("1"))

		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}

		*c.target = counter
	}

	histograms := []struct {
		target      *metric.Float64Histogram
		name        string
		description string
	}{
		{&t.RequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
		{&t.DBQueryDuration, "db_query_duration_seconds", "Database query duration in seconds"},
	}

	for _, h := range histograms {
		histogram, err := t.Meter.Float64Histogram(h.name, metric.WithDescription(h.description), metric.WithUnit("s"))

		if err != nil {
			return fmt.Errorf("failed to create histogram %s: %w", h.name, err)
		}

		*h.target = histogram
	}

	return nil
}

func initTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptrace.New(
			ctx,
			otlptracegrpc.NewClient(
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			),
		)

		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func initMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var opts []prometheus.Option
	if cfg.Registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(cfg.Registerer))
	}

	exporter, err := prometheus.New(opts...)

	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	), nil
}

// RecordRequest records one HTTP request.
func (t *Telemetry) RecordRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)

	t.RequestCounter.Add(ctx, 1, attrs)
	t.RequestDuration.Record(ctx, duration.Seconds(), attrs)

	if statusCode >= 500 {
		t.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// RecordDBQuery records the duration of one audit-trail query.
func (t *Telemetry) RecordDBQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	t.DBQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("error", err != nil),
	))

	if err != nil {
		t.ErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "database"),
			attribute.String("operation", operation),
		))
	}
}

// RecordReading counts a served reading; kind is empty for real readings.
func (t *Telemetry) RecordReading(ctx context.Context, source domain.Source, kind domain.ErrorKind) {
	t.ReadingCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))

	if kind != "" {
		t.DegradationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error_kind", string(kind))))
	}
}

// RecordCacheHit counts a reading cache hit.
func (t *Telemetry) RecordCacheHit(ctx context.Context) {
	t.CacheHitCounter.Add(ctx, 1)
}

// RecordCacheMiss counts a reading cache miss.
func (t *Telemetry) RecordCacheMiss(ctx context.Context) {
	t.CacheMissCounter.Add(ctx, 1)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	if err := t.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}

	return nil
}
