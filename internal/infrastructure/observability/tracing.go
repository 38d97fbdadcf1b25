package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer used by board client components.
const InstrumentationName = "github.com/mariamrf/pegasus"

// TracerProvider wraps the OpenTelemetry SDK provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	SampleRate  float64
}

// InitTracing exports spans over OTLP/gRPC and installs the provider and
// propagator globally.
func InitTracing(config TracingConfig) (*TracerProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "pegasus-boardsync"
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate(config.Environment)
	}

	exporter, err := createOTLPExporter(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := createResource(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: tp,
		tracer:   tp.Tracer(InstrumentationName),
	}, nil
}

func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if strings.HasPrefix(endpoint, "localhost:") || strings.HasPrefix(endpoint, "127.0.0.1:") {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
}

func createResource(config TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		attribute.String("deployment.environment", config.Environment),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(hostname))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}

func defaultSampleRate(environment string) float64 {
	switch environment {
	case "production":
		return 0.01
	case "staging":
		return 0.1
	default:
		return 1.0
	}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the configured tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Tracer returns the global tracer for board components. Before InitTracing
// runs (or when tracing is disabled) this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// NoopTracer is used by tests and when tracing is off.
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(InstrumentationName)
}

// ============================================================================
// SPAN HELPERS
// ============================================================================

// BoardAttributes tags a span with the board being synchronized.
func BoardAttributes(boardID, invite string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("board.id", boardID),
		attribute.String("board.invite", invite),
	}
}

// ElementAttributes tags a span with the element being mutated.
func ElementAttributes(elementID, softID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if elementID != "" {
		attrs = append(attrs, attribute.String("element.id", elementID))
	}
	if softID != "" {
		attrs = append(attrs, attribute.String("element.soft_id", softID))
	}
	return attrs
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
