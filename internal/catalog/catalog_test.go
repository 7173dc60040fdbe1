package catalog

import "testing"

func TestValidSemver(t *testing.T) {
	cases := map[string]bool{
		"1.0.0":  true,
		"1.2":    true,
		"1":      true,
		"1.2.3.4": false,
		"1.a.0":  false,
		"":       false,
	}
	for v, want := range cases {
		if got := ValidSemver(v); got != want {
			t.Errorf("ValidSemver(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestCompareSemver(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.0", 0},
		{"2.0.0", "1.9.9", 1},
	}
	for _, c := range cases {
		if got := CompareSemver(c.a, c.b); got != c.want {
			t.Errorf("CompareSemver(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestNextPatch(t *testing.T) {
	if got := NextPatch("1.0.0", "123"); got != "1.0.1" {
		t.Errorf("NextPatch(1.0.0) = %q, want 1.0.1", got)
	}
	if got := NextPatch("not-a-version", "123"); got != "not-a-version.123" {
		t.Errorf("NextPatch(malformed) = %q, want fallback suffix", got)
	}
}

func TestColumn_NullAllowed(t *testing.T) {
	var c Column
	if !c.NullAllowed() {
		t.Error("expected default NullAllowed true")
	}
	f := false
	c.AllowNull = &f
	if c.NullAllowed() {
		t.Error("expected NullAllowed false when explicitly set")
	}
}

func TestTableDefinition_Validate(t *testing.T) {
	def := TableDefinition{
		TableName: "orders",
		Columns: []Column{
			{Name: "id", Type: "BIGINT", PrimaryKey: true},
			{Name: "status", Type: "VARCHAR"},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableDefinition_Validate_DuplicateColumn(t *testing.T) {
	def := TableDefinition{
		TableName: "orders",
		Columns: []Column{
			{Name: "id", Type: "BIGINT"},
			{Name: "id", Type: "BIGINT"},
		},
	}
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for duplicate column name")
	}
}

func TestTableDefinition_PrimaryKeyColumns(t *testing.T) {
	def := TableDefinition{
		TableName: "orders",
		Columns: []Column{
			{Name: "id", Type: "BIGINT", PrimaryKey: true},
			{Name: "shard_id", Type: "BIGINT", PrimaryKey: true},
			{Name: "status", Type: "VARCHAR"},
		},
	}
	got := def.PrimaryKeyColumns()
	want := []string{"id", "shard_id"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("PrimaryKeyColumns() = %v, want %v", got, want)
	}
}

func TestTableDefinition_IsDrop(t *testing.T) {
	def := TableDefinition{TableName: "orders", Action: ActionDrop}
	if !def.IsDrop() {
		t.Error("expected IsDrop true")
	}
	if err := def.Validate(); err != nil {
		t.Errorf("drop tombstones should always validate, got %v", err)
	}
}

func TestTableSchema_Validate(t *testing.T) {
	schema := TableSchema{
		TableName:     "orders",
		DatabaseType:  DatabaseMain,
		PartitionType: PartitionNone,
		SchemaVersion: "1.0.0",
		SchemaDefinition: TableDefinition{
			TableName: "orders",
			Columns:   []Column{{Name: "id", Type: "BIGINT"}},
		},
	}
	if err := schema.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableSchema_Validate_TimePartitionRequiresIntervalAndFormat(t *testing.T) {
	schema := TableSchema{
		TableName:     "events",
		DatabaseType:  DatabaseLog,
		PartitionType: PartitionTime,
		SchemaVersion: "1.0.0",
		SchemaDefinition: TableDefinition{
			TableName: "events",
			Columns:   []Column{{Name: "id", Type: "BIGINT"}},
		},
	}
	if err := schema.Validate(); err == nil {
		t.Fatal("expected error: time partition without interval/format")
	}
}
