package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "atlas"

type providerConfig struct {
	service    string
	version    string
	exporter   sdktrace.SpanExporter
	ratio      float64
	registerer prometheus.Registerer
}

// ProviderOption configures [InitProvider].
type ProviderOption func(*providerConfig)

// WithServiceName sets the service.name resource attribute. Default: "atlas".
func WithServiceName(name string) ProviderOption {
	return func(c *providerConfig) { c.service = name }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) ProviderOption {
	return func(c *providerConfig) { c.version = v }
}

// WithSpanExporter batches finished spans to exp. Without one, spans are
// sampled and recorded but never leave the process.
func WithSpanExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(c *providerConfig) { c.exporter = exp }
}

// WithSampleRatio samples the given fraction of root spans. Child spans
// follow their parent. Default: 1.
func WithSampleRatio(r float64) ProviderOption {
	return func(c *providerConfig) { c.ratio = r }
}

// WithRegisterer registers the Prometheus bridge with reg instead of
// [prometheus.DefaultRegisterer].
func WithRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(c *providerConfig) { c.registerer = reg }
}

// Telemetry holds the SDK providers installed by [InitProvider].
type Telemetry struct {
	// Metrics is built on the installed meter provider.
	Metrics *Metrics

	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// InitProvider installs a meter provider bridged to Prometheus and a tracer
// provider as the global OTel providers, along with the W3C trace-context
// propagator. The returned Telemetry must be shut down to flush exporters.
func InitProvider(ctx context.Context, opts ...ProviderOption) (*Telemetry, error) {
	cfg := providerConfig{service: defaultServiceName, ratio: 1, registerer: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(&cfg)
	}

	attrs := resource.WithAttributes(semconv.ServiceName(cfg.service))
	if cfg.version != "" {
		attrs = resource.WithAttributes(semconv.ServiceName(cfg.service), semconv.ServiceVersion(cfg.version))
	}
	res, err := resource.New(ctx, resource.WithFromEnv(), resource.WithTelemetrySDK(), attrs)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	bridge, err := promexporter.New(promexporter.WithRegisterer(cfg.registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(bridge))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio))),
	}
	if cfg.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("observe: create metrics: %w", err), mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &Telemetry{Metrics: m, meters: mp, traces: tp}, nil
}

// Shutdown flushes pending spans and metrics and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return errors.Join(t.traces.Shutdown(ctx), t.meters.Shutdown(ctx))
}
