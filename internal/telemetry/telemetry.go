package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds all telemetry instruments and providers. A zero Telemetry
// (or a nil pointer) is valid and records nothing.
type Telemetry struct {
	meterProvider  metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED metrics for the keep-alive server
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Relay metrics
	downloadsTotal    metric.Int64Counter
	downloadsActive   metric.Int64UpDownCounter
	downloadDuration  metric.Float64Histogram
	downloadBytes     metric.Int64Counter
	uploadsTotal      metric.Int64Counter
	uploadDuration    metric.Float64Histogram
	deliveriesTotal   metric.Int64Counter
	jobsActive        metric.Int64UpDownCounter
	updatesTotal      metric.Int64Counter
	dbOperationsTotal metric.Int64Counter
	dbOperationTime   metric.Float64Histogram

	// Process health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemErrors   metric.Int64Counter
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint additionally pushes metrics over OTLP/gRPC when set.
	OTLPEndpoint string
	OTLPInsecure bool
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}

		otlp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}

		providerOpts = append(providerOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp)))
	}

	meterProvider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(meterProvider)

	// Spans are not exported; they give every job and request a trace id
	// that the log handler stamps on each record.
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Transport instruments outbound requests with client spans and metrics. It
// returns base unchanged when telemetry is disabled.
func (t *Telemetry) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	if t == nil || t.tracerProvider == nil {
		return base
	}

	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(t.tracerProvider),
		otelhttp.WithMeterProvider(t.meterProvider),
	)
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records the outcome of one source download.
func (t *Telemetry) RecordDownload(status string, duration time.Duration, bytes int64) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)

	if bytes > 0 {
		t.downloadBytes.Add(context.Background(), bytes)
	}
}

func (t *Telemetry) incrementActiveDownloads(delta int64) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), delta)
	}
}

// RecordUpload records one upload attempt against a provider.
func (t *Telemetry) RecordUpload(provider, status string, duration time.Duration) {
	if t == nil || t.uploadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)

	t.uploadsTotal.Add(context.Background(), 1, attrs)
	t.uploadDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordDelivery records the terminal outcome of a job and the stage it reached.
func (t *Telemetry) RecordDelivery(outcome, stage string) {
	if t != nil && t.deliveriesTotal != nil {
		t.deliveriesTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("outcome", outcome),
				attribute.String("stage", stage),
			),
		)
	}
}

// IncrementActiveJobs increments the number of jobs holding a worker slot.
func (t *Telemetry) IncrementActiveJobs() {
	if t != nil && t.jobsActive != nil {
		t.jobsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveJobs decrements the number of jobs holding a worker slot.
func (t *Telemetry) DecrementActiveJobs() {
	if t != nil && t.jobsActive != nil {
		t.jobsActive.Add(context.Background(), -1)
	}
}

// RecordUpdate counts chat updates by kind (message, command, callback).
func (t *Telemetry) RecordUpdate(kind string) {
	if t != nil && t.updatesTotal != nil {
		t.updatesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationTime.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		errs = append(errs, mp.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeRelayMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeRelayMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of source downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of downloads in progress"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Bytes written to job workspaces"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_bytes_total counter: %w", err)
	}

	t.uploadsTotal, err = t.meter.Int64Counter(
		"uploads_total",
		metric.WithDescription("Total number of provider upload attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create uploads_total counter: %w", err)
	}

	t.uploadDuration, err = t.meter.Float64Histogram(
		"upload_duration_seconds",
		metric.WithDescription("Provider upload duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create upload_duration histogram: %w", err)
	}

	t.deliveriesTotal, err = t.meter.Int64Counter(
		"deliveries_total",
		metric.WithDescription("Terminal job outcomes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create deliveries_total counter: %w", err)
	}

	t.jobsActive, err = t.meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of jobs holding a worker slot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs_active counter: %w", err)
	}

	t.updatesTotal, err = t.meter.Int64Counter(
		"chat_updates_total",
		metric.WithDescription("Chat updates handled by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create chat_updates_total counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationTime, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats

			runtime.ReadMemStats(&m)

			t.memoryUsage.Record(context.Background(), int64(m.Alloc))
			t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
			t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
		}
	}
}
