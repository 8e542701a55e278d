// Package telemetry builds the process logger and, when a collector is
// configured, the OpenTelemetry trace, metric and log providers that export
// sync spans, cycle counters and slog records over one OTLP gRPC connection.
//
// Without [Setup] the global providers stay no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultServiceName is the service.name used when none is configured.
const DefaultServiceName = "growrelay"

// Config mirrors the telemetry block of the config file.
type Config struct {
	// OTLPEndpoint is the collector's gRPC host:port, e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure disables TLS for local collectors.
	Insecure bool

	ServiceName string

	// Headers are sent as gRPC metadata on every export, typically an
	// Authorization token.
	Headers map[string]string
}

// ShutdownFunc flushes and closes the providers. Call it with a fresh
// context; the main one is usually cancelled by then.
type ShutdownFunc func(context.Context) error

// Providers holds what [Setup] installed. Logs is what [BridgeLogs] needs to
// forward slog records to the collector.
type Providers struct {
	Logs     otellog.LoggerProvider
	Shutdown ShutdownFunc
}

// Setup dials the collector once and installs global trace, metric and log
// providers that share the connection. On error nothing is installed and the
// returned Shutdown is a no-op.
func Setup(ctx context.Context, cfg Config) (Providers, error) {
	failed := Providers{Shutdown: noopShutdown}
	if cfg.OTLPEndpoint == "" {
		return failed, errors.New("telemetry: OTLP endpoint is required")
	}

	svcName := cfg.ServiceName
	if svcName == "" {
		svcName = DefaultServiceName
	}
	// NewSchemaless sidesteps schema URL conflicts between the SDK default
	// resource and our semconv version.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(svcName)))
	if err != nil {
		return failed, fmt.Errorf("building OTel resource: %w", err)
	}

	creds := credentials.NewTLS(nil)
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return failed, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}

	var stack shutdownStack
	stack.push("OTLP gRPC connection close", func(context.Context) error { return conn.Close() })

	tp, err := newTracerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = stack.run(ctx)
		return failed, err
	}
	stack.push("trace provider shutdown", tp.Shutdown)

	mp, err := newMeterProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = stack.run(ctx)
		return failed, err
	}
	stack.push("metric provider shutdown", mp.Shutdown)

	lp, err := newLoggerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = stack.run(ctx)
		return failed, err
	}
	stack.push("log provider shutdown", lp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return Providers{Logs: lp, Shutdown: stack.run}, nil
}

func newTracerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn), otlptracegrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn), otlpmetricgrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(conn), otlploggrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

// shutdownStack runs its steps in reverse order of registration and joins
// their errors.
type shutdownStack struct {
	labels []string
	steps  []func(context.Context) error
}

func (s *shutdownStack) push(label string, fn func(context.Context) error) {
	s.labels = append(s.labels, label)
	s.steps = append(s.steps, fn)
}

func (s *shutdownStack) run(ctx context.Context) error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		if err := s.steps[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.labels[i], err))
		}
	}
	return errors.Join(errs...)
}

func noopShutdown(context.Context) error { return nil }
