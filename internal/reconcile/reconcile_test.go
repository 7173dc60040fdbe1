package reconcile

import (
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/introspect"
)

func TestHasDrift_NoChange(t *testing.T) {
	live := []introspect.LiveColumn{
		{Name: "id", DataType: "bigint", KeyRole: "PRI", Nullable: false},
		{Name: "status", DataType: "varchar", Nullable: true},
	}
	target := catalog.TableDefinition{
		Columns: []catalog.Column{
			{Name: "id", Type: "BIGINT", PrimaryKey: true},
			{Name: "status", Type: "VARCHAR"},
		},
	}
	if HasDrift(live, nil, target) {
		t.Error("expected no drift when live matches target")
	}
}

func TestHasDrift_MissingTargetColumn(t *testing.T) {
	live := []introspect.LiveColumn{{Name: "id", DataType: "bigint", KeyRole: "PRI"}}
	target := catalog.TableDefinition{
		Columns: []catalog.Column{
			{Name: "id", Type: "BIGINT", PrimaryKey: true},
			{Name: "status", Type: "VARCHAR"},
		},
	}
	if !HasDrift(live, nil, target) {
		t.Error("expected drift when a target column is missing live")
	}
}

func TestHasDrift_ExtraLiveColumn(t *testing.T) {
	live := []introspect.LiveColumn{
		{Name: "id", DataType: "bigint", KeyRole: "PRI"},
		{Name: "legacy_flag", DataType: "tinyint"},
	}
	target := catalog.TableDefinition{
		Columns: []catalog.Column{{Name: "id", Type: "BIGINT", PrimaryKey: true}},
	}
	if !HasDrift(live, nil, target) {
		t.Error("expected drift when a live column would be dropped")
	}
}

func TestHasDrift_IgnoresPrimaryKeyRemoval(t *testing.T) {
	live := []introspect.LiveColumn{{Name: "id", DataType: "bigint", KeyRole: "PRI"}}
	target := catalog.TableDefinition{Columns: []catalog.Column{}}
	if HasDrift(live, nil, target) {
		t.Error("primary-key columns are never auto-dropped, so this should not count as drift")
	}
}

func TestHasDrift_TypeChanged(t *testing.T) {
	live := []introspect.LiveColumn{{Name: "qty", DataType: "int"}}
	target := catalog.TableDefinition{Columns: []catalog.Column{{Name: "qty", Type: "BIGINT"}}}
	if !HasDrift(live, nil, target) {
		t.Error("expected drift when column type changed")
	}
}

func TestHasDrift_IndexAdded(t *testing.T) {
	live := []introspect.LiveColumn{{Name: "id", DataType: "bigint"}}
	target := catalog.TableDefinition{
		Columns: []catalog.Column{{Name: "id", Type: "BIGINT"}},
		Indexes: []catalog.Index{{Name: "idx_id", Fields: []string{"id"}}},
	}
	if !HasDrift(live, nil, target) {
		t.Error("expected drift when a target index is missing live")
	}
}

func TestColumnChanged_NullableTightened(t *testing.T) {
	f := false
	lc := introspect.LiveColumn{DataType: "varchar", Nullable: true}
	c := catalog.Column{Type: "VARCHAR", AllowNull: &f}
	if !columnChanged(lc, c) {
		t.Error("expected change when nullable transitions true -> false")
	}
}

func TestSynthesizeDefinition(t *testing.T) {
	live := []introspect.LiveColumn{
		{Name: "id", DataType: "bigint", KeyRole: "PRI", Extra: "auto_increment"},
		{Name: "status", DataType: "varchar", ColumnType: "varchar(32)", Nullable: true},
	}
	liveIdx := []introspect.LiveIndex{
		{Name: "PRIMARY", Columns: []string{"id"}, Unique: true},
		{Name: "idx_status", Columns: []string{"status"}},
	}
	def := SynthesizeDefinition("orders", live, liveIdx)
	if def.TableName != "orders" {
		t.Errorf("TableName = %q, want orders", def.TableName)
	}
	if len(def.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(def.Columns))
	}
	if !def.Columns[0].PrimaryKey || !def.Columns[0].AutoIncrement {
		t.Error("expected id column to be primary key + auto_increment")
	}
	if len(def.Indexes) != 1 || def.Indexes[0].Name != "idx_status" {
		t.Errorf("expected PRIMARY to be excluded from synthesized indexes, got %v", def.Indexes)
	}
}
