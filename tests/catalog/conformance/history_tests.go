package conformance

import (
	"context"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/google/uuid"
)

// RunHistoryTests exercises the append-only MigrationHistory ledger.
func RunHistoryTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("RecordHistory_AppendsWithoutAffectingSchemaVersions", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.0.0")); err != nil {
			t.Fatalf("PutNewVersion: %v", err)
		}

		batch := uuid.NewString()
		h := catalog.MigrationHistory{
			TableName:        "orders",
			DatabaseType:     catalog.DatabaseMain,
			PartitionType:    catalog.PartitionNone,
			SchemaVersion:    "1.0.0",
			MigrationType:    catalog.MigrationCreate,
			SQLStatement:     "CREATE TABLE orders (...)",
			ExecutionStatus:  catalog.StatusSuccess,
			MigrationBatchID: batch,
		}
		if err := store.RecordHistory(ctx, h); err != nil {
			t.Fatalf("RecordHistory: %v", err)
		}

		key := catalog.Key{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
		active, err := store.GetActive(ctx, key)
		if err != nil {
			t.Fatalf("GetActive: %v", err)
		}
		if active.SchemaVersion != "1.0.0" {
			t.Errorf("RecordHistory must not mutate the active schema version, got %q", active.SchemaVersion)
		}
	})

	t.Run("RecordHistory_FailedStatusIsPreserved", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		h := catalog.MigrationHistory{
			TableName:        "orders",
			DatabaseType:     catalog.DatabaseMain,
			PartitionType:    catalog.PartitionNone,
			SchemaVersion:    "1.0.0",
			MigrationType:    catalog.MigrationAlter,
			SQLStatement:     "ALTER TABLE orders ADD COLUMN bogus BOGUSTYPE",
			ExecutionStatus:  catalog.StatusFailed,
			ErrorMessage:     "Error 1064: syntax error",
			MigrationBatchID: uuid.NewString(),
		}
		if err := store.RecordHistory(ctx, h); err != nil {
			t.Fatalf("RecordHistory: %v", err)
		}
	})
}
