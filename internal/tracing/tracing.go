// Package tracing wires the OpenTelemetry SDK for the solve service and
// carries W3C trace context into solve records and outbound solver calls.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const (
	defaultServiceName = "mpsflow"
	defaultEndpoint    = "localhost:4317"

	AttrEnvironment   = attribute.Key("deployment.environment")
	AttrSolverBackend = attribute.Key("mpsflow.solver.backend")
	AttrSolverMethod  = attribute.Key("mpsflow.solver.method")
)

type Config struct {
	Enabled     bool
	ServiceName string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64

	// Stamped on every exported span so traces from differently configured
	// deployments can be told apart.
	Environment   string
	SolverBackend string
	SolverMethod  string
}

// Setup installs the tracer provider and the traceparent propagator. The
// returned function flushes pending spans. When tracing is disabled, or the
// exporter cannot be built, only the propagator is installed so incoming
// trace context still reaches solve records.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(defaultPropagator())
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled {
		return noop, nil
	}

	exp, err := otlptracegrpc.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		logger.Warn("otel exporter init failed; solve spans will not be exported", "err", err)
		return noop, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		logger.Warn("otel resource init failed; using default", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled",
		"service", serviceName(cfg),
		"endpoint", endpoint(cfg),
		"solver", cfg.SolverBackend,
	)
	return tp.Shutdown, nil
}

// Tracer returns the tracer for one part of the service, named
// "mpsflow/<component>".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(defaultServiceName + "/" + component)
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName(cfg))}
	if cfg.Environment != "" {
		attrs = append(attrs, AttrEnvironment.String(cfg.Environment))
	}
	if cfg.SolverBackend != "" {
		attrs = append(attrs, AttrSolverBackend.String(cfg.SolverBackend))
	}
	if cfg.SolverMethod != "" {
		attrs = append(attrs, AttrSolverMethod.String(cfg.SolverMethod))
	}
	// schemaless so the merge keeps the SDK default's schema URL
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func exporterOptions(cfg Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint(cfg))}
	insecure := cfg.OTLPInsecure
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		insecure = parseBool(v)
	}
	if insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

func serviceName(cfg Config) string {
	return firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
}

func endpoint(cfg Config) string {
	return sanitizeEndpoint(firstNonEmpty(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), defaultEndpoint))
}

func sampleRatio(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// sanitizeEndpoint turns a collector URL into the host:port the gRPC
// exporter dials.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

// TraceParent returns the W3C traceparent of the span in ctx, or "" when
// ctx carries no sampled span.
func TraceParent(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	defaultPropagator().Inject(ctx, carrier)
	return carrier.Get("traceparent")
}

// InjectHeaders writes traceparent/tracestate for the span in ctx onto h.
// Baggage is never sent.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	defaultPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
