package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer oteltrace.Tracer

// TracingConfig controls whether and where spans are exported.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// InitTracing sets up OTLP tracing for one request span per
// Worker.Resolve call. A tracer handle is always installed, even when
// disabled, so StartRequestSpan never needs a nil check.
func InitTracing(cfg TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "genbench"
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown, nil
}

// StartRequestSpan opens one span around a Worker.Resolve call, tagging it
// with the run's strategy label and the worker process that owns it (spec
// section S6).
func StartRequestSpan(ctx context.Context, requestID, strategyLabel string, workerID int) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("genbench")
	}
	ctx, span := tracer.Start(ctx, "worker.resolve")
	span.SetAttributes(
		attribute.String("genbench.request_id", requestID),
		attribute.String("genbench.strategy", strategyLabel),
		attribute.Int("genbench.worker_id", workerID),
	)
	return ctx, span
}
