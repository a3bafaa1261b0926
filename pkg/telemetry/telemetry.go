// Package telemetry provides OpenTelemetry tracing for diffsets. It wraps
// embedding loads, per-pool generation and trial matching in spans,
// propagates W3C Trace Context, and exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Siddhant-K-code/diffsets"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// Version is reported as the service version on exported spans.
var Version = "dev"

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "diffsets",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes diffsets span helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return Noop(), nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the diffsets tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartRequest creates a root span for an incoming HTTP request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.request",
		trace.WithAttributes(attribute.String("diffsets.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartRun creates a span for a full generation run.
func (p *Provider) StartRun(ctx context.Context, poolCount int, strategy string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.run",
		trace.WithAttributes(
			attribute.Int("diffsets.run.pool_count", poolCount),
			attribute.String("diffsets.run.strategy", strategy),
		),
	)
}

// StartLoad creates a span for loading embeddings from a source.
func (p *Provider) StartLoad(ctx context.Context, source string, idCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.embeddings.load",
		trace.WithAttributes(
			attribute.String("diffsets.embeddings.source", source),
			attribute.Int("diffsets.embeddings.id_count", idCount),
		),
	)
}

// StartPool creates a span for one pool.
func (p *Provider) StartPool(ctx context.Context, category, pool string, members int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.pool",
		trace.WithAttributes(
			attribute.String("diffsets.pool.category", category),
			attribute.String("diffsets.pool.id", pool),
			attribute.Int("diffsets.pool.members", members),
		),
	)
}

// StartMatrix creates a span for building or fetching a similarity matrix.
func (p *Provider) StartMatrix(ctx context.Context, n int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.matrix",
		trace.WithAttributes(attribute.Int("diffsets.matrix.n", n)),
	)
}

// StartSize creates a span for one (pool, size) pass.
func (p *Provider) StartSize(ctx context.Context, size, quota int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.size",
		trace.WithAttributes(
			attribute.Int("diffsets.size.k", size),
			attribute.Int("diffsets.size.quota", quota),
		),
	)
}

// StartMatch creates a span for matching trials against a document.
func (p *Provider) StartMatch(ctx context.Context, trialCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "diffsets.match",
		trace.WithAttributes(attribute.Int("diffsets.match.trial_count", trialCount)),
	)
}

// RecordResult adds run result attributes to a span.
func RecordResult(span trace.Span, poolCount, setCount, reusedCount int, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("diffsets.result.pool_count", poolCount),
		attribute.Int("diffsets.result.set_count", setCount),
		attribute.Int("diffsets.result.reused_count", reusedCount),
		attribute.Int64("diffsets.result.latency_ms", latency.Milliseconds()),
	)
	if setCount > 0 {
		span.SetAttributes(attribute.Float64("diffsets.result.reuse_ratio", float64(reusedCount)/float64(setCount)))
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
