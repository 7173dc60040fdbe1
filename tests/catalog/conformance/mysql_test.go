//go:build conformance

package conformance

import (
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/catalog/mysql"
)

// TestMySQLBackend runs the full conformance suite against a real MySQL
// control database. Requires a reachable server; point it at one with
// MYSQL_HOST/MYSQL_PORT/MYSQL_USER/MYSQL_PASSWORD/MYSQL_DATABASE, the same
// convention the teacher's storage conformance suite uses.
func TestMySQLBackend(t *testing.T) {
	cfg := mysql.Config{
		Host:     getEnvOrDefault("MYSQL_HOST", "localhost"),
		Port:     getEnvOrDefaultInt("MYSQL_PORT", 3306),
		Username: getEnvOrDefault("MYSQL_USER", "root"),
		Password: getEnvOrDefault("MYSQL_PASSWORD", ""),
		Database: getEnvOrDefault("MYSQL_DATABASE", "schema_evolve_test"),
		TLS:      "false",
	}

	store, err := mysql.NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to open MySQL control store: %v", err)
	}
	defer store.Close()

	RunAll(t, func() catalog.Store {
		truncateMySQL(t, cfg)
		return &noCloseStore{store}
	})
}

func truncateMySQL(t *testing.T, cfg mysql.Config) {
	t.Helper()

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		t.Fatalf("failed to connect to MySQL for cleanup: %v", err)
	}
	defer db.Close()

	tables := []string{"qc_migration_locks", "qc_migration_versions", "qc_migration_history", "qc_table_schemas"}
	for _, table := range tables {
		if _, err := db.Exec("TRUNCATE TABLE `" + table + "`"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
