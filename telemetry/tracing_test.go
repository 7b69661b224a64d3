package telemetry

import (
	"context"
	"testing"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("lurkbot", "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer shutdown()
	if IsTracingEnabled() {
		t.Fatal("tracing enabled without an endpoint")
	}

	// spans still work against the no-op provider
	_, span := StartSpan(context.Background(), "lurkbot/test", "noop")
	span.End()
}
