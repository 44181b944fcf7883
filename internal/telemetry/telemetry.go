// Package telemetry builds the tracer and structured logger that the
// composition root uses and hands to the processor.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// Telemetry bundles the tracer and logger the composition root builds once
// at startup and tears down on shutdown. It is passed down explicitly
// rather than living as package-level global state.
type Telemetry struct {
	Tracer trace.Tracer
	Logger *zap.Logger

	provider *sdktrace.TracerProvider
}

// Init builds a tracer (exporting to Jaeger when jaegerURL is non-empty, a
// no-op exporter otherwise) and a production zap logger.
func Init(serviceName, jaegerURL string) (*Telemetry, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	var opts []sdktrace.TracerProviderOption
	opts = append(opts, sdktrace.WithResource(res))

	if jaegerURL != "" {
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerURL)))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Telemetry{
		Tracer:   provider.Tracer(serviceName),
		Logger:   logger,
		provider: provider,
	}, nil
}

// Shutdown flushes pending spans and syncs the logger. Errors from the
// logger sync are intentionally ignored: on many platforms syncing stdout
// returns a harmless "invalid argument".
func (t *Telemetry) Shutdown(ctx context.Context) error {
	_ = t.Logger.Sync()
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
