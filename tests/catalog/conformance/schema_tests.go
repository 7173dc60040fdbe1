package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

func sampleSchema(tableName, version string) catalog.TableSchema {
	return catalog.TableSchema{
		TableName:     tableName,
		DatabaseType:  catalog.DatabaseMain,
		PartitionType: catalog.PartitionNone,
		SchemaVersion: version,
		SchemaDefinition: catalog.TableDefinition{
			TableName: tableName,
			Columns: []Column{
				{Name: "id", Type: "BIGINT", PrimaryKey: true, AutoIncrement: true},
				{Name: "status", Type: "VARCHAR", Length: 32},
			},
		},
	}
}

// Column is a local alias so the fixtures above read naturally; it is just
// catalog.Column.
type Column = catalog.Column

// RunSchemaTests exercises PutNewVersion/GetActive/FindActiveMatches/
// ListAllActive against I1 (monotonic version) and I2 (atomic demotion of
// the predecessor active row).
func RunSchemaTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("PutNewVersion_FirstVersionActivates", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		got, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.0.0"))
		if err != nil {
			t.Fatalf("PutNewVersion: %v", err)
		}
		if !got.IsActive {
			t.Error("expected first version to be active")
		}
		if got.ID == 0 {
			t.Error("expected a non-zero ID to be assigned")
		}
	})

	t.Run("PutNewVersion_StaleVersionRejected", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.1.0")); err != nil {
			t.Fatalf("PutNewVersion 1.1.0: %v", err)
		}
		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.0.0")); !errors.Is(err, catalog.ErrStaleVersion) {
			t.Errorf("expected ErrStaleVersion for a non-increasing version, got %v", err)
		}
	})

	t.Run("PutNewVersion_DemotesPredecessor", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.0.0")); err != nil {
			t.Fatalf("PutNewVersion 1.0.0: %v", err)
		}
		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.1.0")); err != nil {
			t.Fatalf("PutNewVersion 1.1.0: %v", err)
		}

		key := catalog.Key{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
		active, err := store.GetActive(ctx, key)
		if err != nil {
			t.Fatalf("GetActive: %v", err)
		}
		if active.SchemaVersion != "1.1.0" {
			t.Errorf("GetActive() version = %q, want 1.1.0", active.SchemaVersion)
		}

		hist, err := store.History(ctx, "orders", catalog.DatabaseMain)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		active1 := 0
		for _, s := range hist {
			if s.IsActive {
				active1++
			}
		}
		if active1 != 1 {
			t.Errorf("expected exactly one active row in history, got %d", active1)
		}
	})

	t.Run("GetActive_NotFound", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		key := catalog.Key{TableName: "missing", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
		if _, err := store.GetActive(ctx, key); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindActiveMatches_IgnoresPartitionType", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		none := sampleSchema("events", "1.0.0")
		none.DatabaseType = catalog.DatabaseLog
		none.PartitionType = catalog.PartitionNone
		if _, err := store.PutNewVersion(ctx, none); err != nil {
			t.Fatalf("PutNewVersion none: %v", err)
		}

		store2 := sampleSchema("events", "1.0.0")
		store2.TableName = "events"
		store2.DatabaseType = catalog.DatabaseLog
		store2.PartitionType = catalog.PartitionStore
		if _, err := store.PutNewVersion(ctx, store2); err != nil {
			t.Fatalf("PutNewVersion store: %v", err)
		}

		matches, err := store.FindActiveMatches(ctx, "events", catalog.DatabaseLog)
		if err != nil {
			t.Fatalf("FindActiveMatches: %v", err)
		}
		if len(matches) != 2 {
			t.Errorf("expected 2 matches across partition types, got %d", len(matches))
		}
	})

	t.Run("ListAllActive_FiltersByDatabaseType", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		main := sampleSchema("orders", "1.0.0")
		log := sampleSchema("events", "1.0.0")
		log.DatabaseType = catalog.DatabaseLog
		if _, err := store.PutNewVersion(ctx, main); err != nil {
			t.Fatalf("PutNewVersion main: %v", err)
		}
		if _, err := store.PutNewVersion(ctx, log); err != nil {
			t.Fatalf("PutNewVersion log: %v", err)
		}

		got, err := store.ListAllActive(ctx, catalog.ListSchemasParams{DatabaseType: catalog.DatabaseLog})
		if err != nil {
			t.Fatalf("ListAllActive: %v", err)
		}
		if len(got) != 1 || got[0].TableName != "events" {
			t.Errorf("ListAllActive(log) = %v, want just events", got)
		}
	})

	t.Run("SoftDelete_DeactivatesWithoutNewVersion", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.PutNewVersion(ctx, sampleSchema("orders", "1.0.0")); err != nil {
			t.Fatalf("PutNewVersion: %v", err)
		}
		key := catalog.Key{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
		if err := store.SoftDelete(ctx, key); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}
		if _, err := store.GetActive(ctx, key); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("expected ErrNotFound after SoftDelete, got %v", err)
		}
	})
}
