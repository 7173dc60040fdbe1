package api_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/api"
	"github.com/axonops/tenant-schema-engine/internal/api/handlers"
	"github.com/axonops/tenant-schema-engine/internal/config"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	h := handlers.New(nil, nil, nil, nil, nil, nil)
	logger := slog.New(slog.NewTextHandler(httptest.NewRecorder().Body, nil))
	return api.NewServer(cfg, h, logger)
}

func TestServer_HealthLive(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_Address(t *testing.T) {
	s := newTestServer(t)
	if got := s.Address(); got == "" {
		t.Fatalf("expected non-empty address")
	}
}
