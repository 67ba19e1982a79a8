package otelcol

import (
	"context"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the global tracer provider when OTEL.ADDR is set. Without it
// spans go to the no-op provider.
var Module = fx.Module("otelcol", fx.Invoke(register))

func defaultTraceProviderOption() []trace.TracerProviderOption {
	return []trace.TracerProviderOption{
		trace.WithResource(resource.Default()),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = defaultTraceProviderOption()
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func register(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	exporter, err := exporters.ProvideHttp(cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter)
	otel.SetTracerProvider(tp)
	zap.L().Info("[otel] trace exporter configured", zap.String("addr", cfg.Otel.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
