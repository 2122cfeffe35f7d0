package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default tracer and meter name.
const ServiceName = "loomlearn"

var (
	// Global tracer for the application. Until InitTelemetry runs it is
	// backed by the no-op global provider.
	Tracer trace.Tracer = otel.Tracer(ServiceName)

	// Global meter for custom metrics
	Meter metric.Meter = otel.Meter(ServiceName)

	// Custom metrics
	PatternsDetected   metric.Int64Counter
	AdaptationsApplied metric.Int64Counter
	InsightsGenerated  metric.Int64Counter
	TickLatency        metric.Float64Histogram
)

func init() {
	if err := initMetrics(); err != nil {
		log.Printf("[Telemetry] Failed to create instruments: %v", err)
	}
}

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)
	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	PatternsDetected, err = Meter.Int64Counter(
		"loomlearn.patterns.detected",
		metric.WithDescription("Number of learning patterns detected"),
	)
	if err != nil {
		return err
	}

	AdaptationsApplied, err = Meter.Int64Counter(
		"loomlearn.adaptations.applied",
		metric.WithDescription("Number of adaptation actions dispatched"),
	)
	if err != nil {
		return err
	}

	InsightsGenerated, err = Meter.Int64Counter(
		"loomlearn.insights.generated",
		metric.WithDescription("Number of insights generated"),
	)
	if err != nil {
		return err
	}

	TickLatency, err = Meter.Float64Histogram(
		"loomlearn.tick.latency",
		metric.WithDescription("Learning tick latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
