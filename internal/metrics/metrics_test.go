package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("Expected non-nil Metrics")
	}
	if m.RequestsTotal == nil {
		t.Error("Expected RequestsTotal to be initialized")
	}
	if m.ReconcileStatementsTotal == nil {
		t.Error("Expected ReconcileStatementsTotal to be initialized")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("GET", "/schemas", "200").Inc()

	handler := m.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "schema_evolve_requests_total") {
		t.Error("Expected metrics output to contain schema_evolve_requests_total")
	}
	if !strings.Contains(string(body), "go_") {
		t.Error("Expected metrics output to contain Go runtime metrics")
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()

	var called bool
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/schemas", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("Handler should have been called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestMetrics_RecordSchemaRegistration(t *testing.T) {
	m := New()

	m.RecordSchemaRegistration("orders", true)
	m.RecordSchemaRegistration("orders", false)
}

func TestMetrics_RecordReconcileStatement(t *testing.T) {
	m := New()

	m.RecordReconcileStatement("add_columns", true)
	m.RecordReconcileStatement("sync_indexes", false)
}

func TestMetrics_RecordReconcile(t *testing.T) {
	m := New()

	m.RecordReconcile("orders", 15*time.Millisecond, false)
	m.RecordReconcile("orders_1001", 10*time.Millisecond, true)
}

func TestMetrics_RecordLockAcquire(t *testing.T) {
	m := New()

	m.RecordLockAcquire("SINGLE_TABLE", true)
	m.RecordLockAcquire("ALL_TABLES", false)
}

func TestMetrics_RecordLockHold(t *testing.T) {
	m := New()

	m.RecordLockHold("SINGLE_TABLE", 250*time.Millisecond)
}

func TestMetrics_RecordDriftProposal(t *testing.T) {
	m := New()

	m.RecordDriftProposal("new baseline table")
	m.RecordDriftProposal("structural drift detected")
}

func TestMetrics_RecordSchedulerRun(t *testing.T) {
	m := New()

	m.RecordSchedulerRun("shard_pre_creation", true, time.Unix(1700000000, 0))
	m.RecordSchedulerRun("retention_cleanup", false, time.Unix(1700000100, 0))
}

func TestMetrics_UpdateCatalogVersionCount(t *testing.T) {
	m := New()

	m.UpdateCatalogVersionCount("order", 100)
	m.UpdateCatalogVersionCount("log", 50)
}

func TestMetrics_UpdateTenantConnectionCount(t *testing.T) {
	m := New()

	m.UpdateTenantConnectionCount("1001", "order", 4)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/schemas", "/schemas"},
		{"/schemas/orders", "/schemas/{table}"},
		{"/schemas/orders/history", "/schemas/{table}/history"},
		{"/schemas/orders/execute", "/schemas/{table}/execute"},
		{"/locks/force-release", "/locks/{action}"},
		{"/connections/stats", "/connections/{action}"},
		{"/schema-detection/all", "/schema-detection/{action}"},
		{"/health/live", "/health/live"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
