package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/spark-backend/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func enabledConfig() config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "spark-backend",
		SampleRatio: 1.0,
	}
}

// withMemoryExporter routes spans to an in-memory exporter for one test.
func withMemoryExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	orig := newSpanExporter
	newSpanExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return exp, nil
	}
	t.Cleanup(func() { newSpanExporter = orig })
	return exp
}

func TestSetupOTel_Disabled_LeavesGlobals(t *testing.T) {
	preserveOTelGlobals(t)
	prevTP := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if otel.GetTracerProvider() != prevTP {
		t.Fatalf("disabled tracing must not replace the provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
}

func TestSetupOTel_ExportsSpansWithServiceResource(t *testing.T) {
	preserveOTelGlobals(t)
	exp := withMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabledConfig(), "1.4.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("expected *sdktrace.TracerProvider")
	}

	_, span := otel.Tracer("services/SessionService").Start(context.Background(), "JoinSession")
	span.End()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "JoinSession" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(semconv.ServiceNameKey)] != "spark-backend" ||
		attrs[string(semconv.ServiceVersionKey)] != "1.4.0" ||
		attrs[string(semconv.ServiceNamespaceKey)] != ServiceNamespace {
		t.Fatalf("resource attributes: %v", attrs)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupOTel_PropagatesTraceContext(t *testing.T) {
	preserveOTelGlobals(t)
	_ = withMemoryExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabledConfig(), "v1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "enqueue")
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if carrier.Get("traceparent") == "" {
		t.Fatalf("traceparent not injected: %v", carrier)
	}
}

func TestSetupOTel_RealExporterIsLazy(t *testing.T) {
	preserveOTelGlobals(t)

	for _, insecure := range []bool{true, false} {
		cfg := enabledConfig()
		cfg.Insecure = insecure
		shutdown, err := SetupOTel(context.Background(), cfg, "v1")
		if err != nil {
			t.Fatalf("insecure=%v: unexpected err: %v", insecure, err)
		}
		_ = shutdown(context.Background())
	}
	if n := len(exporterOptions(enabledConfig())); n != 2 {
		t.Fatalf("expected endpoint + transport options, got %d", n)
	}
}

func TestSetupOTel_Errors_LeaveGlobalsIntact(t *testing.T) {
	preserveOTelGlobals(t)

	origRes, origExp := newServiceResource, newSpanExporter
	t.Cleanup(func() { newServiceResource, newSpanExporter = origRes, origExp })

	cases := map[string]func(){
		"resource": func() {
			newServiceResource = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
			newSpanExporter = origExp
		},
		"exporter": func() {
			newServiceResource = origRes
			newSpanExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return nil, errors.New("boom-exporter")
			}
		},
	}
	for name, arrange := range cases {
		arrange()
		prevTP := otel.GetTracerProvider()
		prevProp := otel.GetTextMapPropagator()

		if _, err := SetupOTel(context.Background(), enabledConfig(), "v0"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
			t.Fatalf("%s: globals changed on failure", name)
		}
	}
}
