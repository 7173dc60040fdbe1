package mysql

import (
	"strings"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db1", Port: 3306, Database: "schema_evolve", Username: "root", Password: "secret", TLS: "false"}
	dsn := cfg.DSN()
	if !strings.Contains(dsn, "root:secret@tcp(db1:3306)/schema_evolve") {
		t.Errorf("DSN() = %q, missing expected connection components", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN() = %q, expected parseTime=true", dsn)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 3306 || cfg.Database != "schema_evolve" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestLockKeyFor_AllTables(t *testing.T) {
	if got := lockKeyFor(catalog.LockAllTables, nil); got != "ALL_TABLES" {
		t.Errorf("lockKeyFor(ALL_TABLES) = %q, want ALL_TABLES", got)
	}
}

func TestLockKeyFor_SingleTable(t *testing.T) {
	key := &catalog.Key{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
	got := lockKeyFor(catalog.LockSingleTable, key)
	want := "SINGLE_TABLE:orders:main:none"
	if got != want {
		t.Errorf("lockKeyFor(SINGLE_TABLE) = %q, want %q", got, want)
	}
}
