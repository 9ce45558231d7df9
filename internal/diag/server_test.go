package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServerHealthEndpoint(t *testing.T) {
	srv := NewServer(func() StatusSnapshot { return StatusSnapshot{State: "connected"} }, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", env.Data)
	}
}

func TestServerStatusEndpointReflectsSnapshot(t *testing.T) {
	srv := NewServer(func() StatusSnapshot {
		return StatusSnapshot{State: "connected", DeviceID: "AA:BB:CC", DeviceName: "Living Room"}
	}, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be a map, got %T", env.Data)
	}
	if data["state"] != "connected" || data["device_id"] != "AA:BB:CC" {
		t.Errorf("unexpected status snapshot: %v", data)
	}
}

func TestServerMetricsEndpointServedWhenRegistrySet(t *testing.T) {
	registry := prometheus.NewRegistry()
	srv := NewServer(func() StatusSnapshot { return StatusSnapshot{} }, registry, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServerMetricsEndpointAbsentWithoutRegistry(t *testing.T) {
	srv := NewServer(func() StatusSnapshot { return StatusSnapshot{} }, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a registry, got %d", w.Code)
	}
}
