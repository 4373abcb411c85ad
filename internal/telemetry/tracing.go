// Package telemetry wires OpenTelemetry tracing for the catalog client.
package telemetry

import (
	"context"
	"fmt"

	"github.com/Sternrassler/product-catalog-client/internal/config"
	"github.com/Sternrassler/product-catalog-client/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Version is reported as service.version on every span.
const Version = "0.1.0"

// Telemetry owns the tracer provider installed as the global provider.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	conn           *grpc.ClientConn
	exporting      bool
}

// Setup installs a global tracer provider. With an empty endpoint spans are
// recorded but never exported.
func Setup(ctx context.Context, cfg config.OTLPConfig) (*Telemetry, error) {
	logger := logging.NewLogger("telemetry")

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	t := &Telemetry{}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Endpoint != "" {
		conn, err := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, fmt.Errorf("create gRPC connection: %w", err)
		}

		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(exporter))
		t.conn = conn
		t.exporting = true
	}

	t.TracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("service_name", cfg.ServiceName).
		Bool("exporting", t.exporting).
		Msg("tracing initialized")

	return t, nil
}

// Exporting reports whether spans leave the process.
func (t *Telemetry) Exporting() bool {
	return t.exporting
}

// Shutdown flushes pending spans and releases the exporter connection.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			return fmt.Errorf("close exporter connection: %w", err)
		}
	}
	return nil
}
