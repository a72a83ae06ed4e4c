package telemetry

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, zerolog.New(io.Discard)); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestSetupTracingOTLPNeedsEndpoint(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, zerolog.New(io.Discard)); err == nil {
		t.Fatal("expected error when otlp endpoint is missing")
	}
}
