package telemetry

import (
	"context"
	"testing"
)

func resetActive() {
	mu.Lock()
	active = nil
	mu.Unlock()
}

func TestInit_Disabled(t *testing.T) {
	clearEnv(t)
	resetActive()
	t.Cleanup(resetActive)

	ctx := context.Background()
	shutdown, err := Init(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}
	if Enabled() {
		t.Error("Expected Enabled() to return false")
	}
}

func TestOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "env:4317")
	resetActive()
	t.Cleanup(resetActive)

	Override(Overrides{Protocol: "http/protobuf", ServiceVersion: "1.2.3"})
	cfg := GetConfig()
	if cfg.Enabled {
		t.Error("Expected a zero override to keep tracing disabled")
	}
	if cfg.Endpoint != "env:4317" {
		t.Errorf("Expected the environment endpoint to survive, got '%s'", cfg.Endpoint)
	}
	if cfg.Protocol != "http/protobuf" || cfg.ServiceVersion != "1.2.3" {
		t.Errorf("Unexpected config %+v", cfg)
	}

	Override(Overrides{Enabled: true, Endpoint: "file:4317", Insecure: true})
	if !Enabled() {
		t.Error("Expected Enabled() after override")
	}
	cfg = GetConfig()
	if cfg.Endpoint != "file:4317" || !cfg.Insecure {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestGetConfigReturnsCopy(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_SERVICE_NAME", "test-service")
	resetActive()
	t.Cleanup(resetActive)

	cfg := GetConfig()
	if cfg.ServiceName != "test-service" {
		t.Errorf("Expected ServiceName 'test-service', got '%s'", cfg.ServiceName)
	}
	cfg.Enabled = true
	if Enabled() {
		t.Error("Expected the returned config to be a copy")
	}
}
