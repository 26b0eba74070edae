package telemetry

import (
	"context"
	"maps"
	"os"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// processAttributes names this process and appends the configured extra
// attributes in key order.
func processAttributes(cfg *Config) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if host, _ := os.Hostname(); host != "" {
		kvs = append(kvs, semconv.HostName(host))
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.ResourceAttrs)) {
		kvs = append(kvs, attribute.String(k, cfg.ResourceAttrs[k]))
	}
	return kvs
}

func buildResource(_ context.Context, cfg *Config) (*resource.Resource, error) {
	own := resource.NewWithAttributes(semconv.SchemaURL, processAttributes(cfg)...)
	return resource.Merge(resource.Default(), own)
}
