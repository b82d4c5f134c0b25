package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_EnabledWithoutEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Enabled: true}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestSetup_Enabled(t *testing.T) {
	// The exporter connects lazily, so no collector is needed here.
	shutdown, err := Setup(context.Background(), Config{Enabled: true, Endpoint: "127.0.0.1:4318", Insecure: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown(ctx)
}

func TestNewResource(t *testing.T) {
	res := newResource("1.2.3")
	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.AsString()
	}
	if got["service.name"] != "relaybot" || got["service.version"] != "1.2.3" {
		t.Fatalf("unexpected resource attributes %v", got)
	}
}
