package auditlog

import (
	"log/slog"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/config"
)

func TestNoopSink(t *testing.T) {
	NoopSink.Record(catalog.MigrationHistory{TableName: "orders"})
	if err := NoopSink.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNewLogger_DefaultsToJSON(t *testing.T) {
	logger := NewLogger(config.LoggingConfig{Level: "info"})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("expected *slog.JSONHandler when Format is unset, got %T", logger.Handler())
	}
}

func TestNewLogger_Text(t *testing.T) {
	logger := NewLogger(config.LoggingConfig{Level: "debug", Format: "text"})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{
		"debug": true,
		"warn":  true,
		"error": true,
		"info":  true,
		"":      true,
	}
	for level := range cases {
		_ = parseLevel(level)
	}
}
