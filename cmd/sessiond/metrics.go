package main

import (
	"context"
	"net/http"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/envconfig"
	otelexport "github.com/MrEthical07/goSession/metrics/export/otel"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// mountMetrics wires the configured exporter and returns its shutdown hook.
func mountMetrics(ctx context.Context, router *mux.Router, engine *goSession.Engine, s *envconfig.Settings) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch s.MetricsExporter {
	case "prometheus":
		h, err := promexport.Handler(promexport.NewCollector(engine))
		if err != nil {
			return nil, err
		}
		router.Handle("/metrics", h).Methods(http.MethodGet)
		return noop, nil

	case "otel":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.OTLPEndpoint)}
		if s.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "sessiond"))),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
		)
		exporter, err := otelexport.NewExporter(provider.Meter("github.com/MrEthical07/goSession"), engine)
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, err
		}
		return func(ctx context.Context) error {
			_ = exporter.Close()
			return provider.Shutdown(ctx)
		}, nil

	default:
		return noop, nil
	}
}
