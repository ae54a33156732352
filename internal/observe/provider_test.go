package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider_InstallsGlobals(t *testing.T) {
	origTP, origMP, origProp := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
		otel.SetTextMapPropagator(origProp)
	})

	exp := tracetest.NewInMemoryExporter()
	reg := prometheus.NewRegistry()
	tel, err := InitProvider(context.Background(),
		WithServiceName("atlas-test"),
		WithServiceVersion("0.0.1"),
		WithSpanExporter(exp),
		WithRegisterer(reg),
	)
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if tel.Metrics == nil {
		t.Fatal("Telemetry.Metrics is nil")
	}

	_, span := StartSpan(context.Background(), "provider-test")
	span.End()
	tel.Metrics.RecordWakeWord(context.Background())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("no metric families registered with the bridge")
	}

	// Shutdown resets the in-memory exporter, so read the batch after a flush.
	if err := tel.traces.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "provider-test" {
		t.Fatalf("exported spans = %v", spans)
	}
	var found bool
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" && kv.Value.AsString() == "atlas-test" {
			found = true
		}
	}
	if !found {
		t.Error("service.name resource attribute missing")
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTelemetry_NilShutdown(t *testing.T) {
	var tel *Telemetry
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Shutdown = %v", err)
	}
}
