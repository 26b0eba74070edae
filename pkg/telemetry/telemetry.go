// Package telemetry sets up OpenTelemetry tracing for map builds, heap walks
// and database calls.
//
// Settings come from the standard environment variables:
//
//	OTEL_ENABLED                    - Enable tracing (default: false)
//	OTEL_SERVICE_NAME               - Service name (default: mem-analysis)
//	OTEL_SERVICE_VERSION            - Service version (default: unknown)
//	OTEL_EXPORTER_OTLP_ENDPOINT     - OTLP collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL     - grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS      - Exporter headers, key=value pairs
//	OTEL_EXPORTER_OTLP_INSECURE     - Plain-text transport (default: false)
//	OTEL_TRACES_SAMPLER             - Sampler name (default: always_on)
//	OTEL_TRACES_SAMPLER_ARG         - Sampler argument
//	OTEL_RESOURCE_ATTRIBUTES        - Extra resource attributes, key=value pairs
//
// The telemetry section of the configuration file is applied on top with
// Override before Init runs.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	mu     sync.Mutex
	active *Config
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Overrides are settings that take precedence over the environment. Zero
// fields keep the environment value.
type Overrides struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	Insecure       bool
	ServiceVersion string
}

// Override applies o to the active configuration.
func Override(o Overrides) {
	mu.Lock()
	defer mu.Unlock()
	cfg := current()
	if o.Enabled {
		cfg.Enabled = true
	}
	if o.Endpoint != "" {
		cfg.Endpoint = o.Endpoint
	}
	if o.Protocol != "" {
		cfg.Protocol = o.Protocol
	}
	if o.Insecure {
		cfg.Insecure = true
	}
	if o.ServiceVersion != "" {
		cfg.ServiceVersion = o.ServiceVersion
	}
}

// Init installs the global tracer provider. When tracing is disabled the
// default no-op provider stays in place.
func Init(ctx context.Context) (ShutdownFunc, error) {
	cfg := GetConfig()
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
		trace.WithSampler(newSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Enabled reports whether tracing is enabled.
func Enabled() bool {
	return GetConfig().Enabled
}

// GetConfig returns a copy of the active configuration.
func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	cfg := *current()
	return &cfg
}

func current() *Config {
	if active == nil {
		active = LoadFromEnv()
	}
	return active
}
