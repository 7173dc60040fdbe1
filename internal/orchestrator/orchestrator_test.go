package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/shard"
	"github.com/axonops/tenant-schema-engine/internal/tenant"
	"github.com/axonops/tenant-schema-engine/internal/versiongate"
)

// fakeStore is an in-memory catalog.Store covering the subset of behavior
// the Orchestrator actually drives; locks always grant.
type fakeStore struct {
	active  []catalog.TableSchema
	history []catalog.TableSchema
}

func (f *fakeStore) PutNewVersion(ctx context.Context, schema catalog.TableSchema) (catalog.TableSchema, error) {
	panic("not used")
}
func (f *fakeStore) GetActive(ctx context.Context, key catalog.Key) (catalog.TableSchema, error) {
	for _, s := range f.active {
		if s.TableName == key.TableName && s.DatabaseType == key.DatabaseType && s.PartitionType == key.PartitionType {
			return s, nil
		}
	}
	return catalog.TableSchema{}, catalog.ErrNotFound
}
func (f *fakeStore) FindActiveMatches(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	var out []catalog.TableSchema
	for _, s := range f.active {
		if s.TableName == tableName && s.DatabaseType == dbType {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeStore) ListAllActive(ctx context.Context, params catalog.ListSchemasParams) ([]catalog.TableSchema, error) {
	var out []catalog.TableSchema
	for _, s := range f.active {
		if params.PartitionType != "" && s.PartitionType != params.PartitionType {
			continue
		}
		if params.DatabaseType != "" && s.DatabaseType != params.DatabaseType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeStore) History(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	var out []catalog.TableSchema
	for _, s := range f.history {
		if s.TableName == tableName && s.DatabaseType == dbType {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeStore) SoftDelete(ctx context.Context, key catalog.Key) error { panic("not used") }
func (f *fakeStore) RecordHistory(ctx context.Context, h catalog.MigrationHistory) error {
	return nil
}
func (f *fakeStore) GetVersion(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) (catalog.MigrationVersion, error) {
	return catalog.MigrationVersion{}, catalog.ErrNotFound
}
func (f *fakeStore) PutVersion(ctx context.Context, v catalog.MigrationVersion) error { return nil }
func (f *fakeStore) AcquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key, holder string) (catalog.MigrationLock, error) {
	lockKey := "all"
	if key != nil {
		lockKey = key.TableName + "|" + string(key.DatabaseType) + "|" + string(key.PartitionType)
	}
	return catalog.MigrationLock{LockKey: lockKey, LockHolder: holder}, nil
}
func (f *fakeStore) ReleaseLock(ctx context.Context, lockKey, holder string) error { return nil }
func (f *fakeStore) ForceReleaseLock(ctx context.Context, lockKey string) error    { panic("not used") }
func (f *fakeStore) CleanupLocksOlderThan(ctx context.Context, age time.Duration) (int, error) {
	panic("not used")
}
func (f *fakeStore) ListActiveLocks(ctx context.Context) ([]catalog.MigrationLock, error) {
	panic("not used")
}
func (f *fakeStore) Close() error { return nil }

var _ catalog.Store = (*fakeStore)(nil)

// fakeTenantLister returns the tenants and error it was built with. Left
// empty, it lets tests drive the Orchestrator's locking/resolution logic
// without opening any real database connection
// (tenant.Registry.GetConnection is never reached when there are no
// tenants to loop over).
type fakeTenantLister struct {
	tenants []tenant.Descriptor
	err     error
}

func (f *fakeTenantLister) ListNormalTenants(ctx context.Context) ([]tenant.Descriptor, error) {
	return f.tenants, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(store *fakeStore, tenants *fakeTenantLister) *Orchestrator {
	logger := testLogger()
	conns := tenant.NewRegistry(tenant.DefaultPoolConfig())
	expander := shard.New(shard.DefaultStoreDirectoryConfig())
	gate := versiongate.New(store, logger)
	return New(store, tenants, conns, expander, gate, logger)
}

func TestMigrateTable_NoTenants(t *testing.T) {
	store := &fakeStore{
		active: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.0.0"},
		},
	}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	result, err := o.MigrateTable(context.Background(), "orders", catalog.DatabaseMain, catalog.PartitionNone, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success with zero tenants, got %+v", result)
	}
	if len(result.Schemas) != 0 {
		t.Errorf("expected no per-tenant results, got %v", result.Schemas)
	}
}

func TestMigrateTable_NotFound(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	_, err := o.MigrateTable(context.Background(), "missing", catalog.DatabaseMain, catalog.PartitionNone, "")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestMigrateTable_DisambiguationRequired(t *testing.T) {
	store := &fakeStore{
		active: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.0.0"},
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionStore, SchemaVersion: "1.0.0"},
		},
	}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	_, err := o.MigrateTable(context.Background(), "orders", catalog.DatabaseMain, "", "")
	if err == nil {
		t.Fatal("expected disambiguation error")
	}
}

func TestMigrateTable_PinOlderVersion(t *testing.T) {
	store := &fakeStore{
		active: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.1.0"},
		},
		history: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.0.0"},
		},
	}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	result, err := o.MigrateTable(context.Background(), "orders", catalog.DatabaseMain, catalog.PartitionNone, "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestMigrateTable_PinUnknownVersion(t *testing.T) {
	store := &fakeStore{
		active: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.1.0"},
		},
	}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	_, err := o.MigrateTable(context.Background(), "orders", catalog.DatabaseMain, catalog.PartitionNone, "9.9.9")
	if err == nil {
		t.Fatal("expected not-found error for unknown pinned version")
	}
}

func TestMigrateAllTables_NoTenants(t *testing.T) {
	store := &fakeStore{
		active: []catalog.TableSchema{
			{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, SchemaVersion: "1.0.0"},
			{TableName: "events", DatabaseType: catalog.DatabaseLog, PartitionType: catalog.PartitionNone, SchemaVersion: "2.0.0"},
		},
	}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	result, err := o.MigrateAllTables(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success with zero tenants, got %+v", result)
	}
}

func TestMigrateStoreShards_UnknownEnterprise(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store, &fakeTenantLister{})
	_, err := o.MigrateStoreShards(context.Background(), "1001", "ent-404")
	if err == nil {
		t.Fatal("expected error for unknown enterprise")
	}
}

func TestSortBySchemaVersionDesc(t *testing.T) {
	in := []catalog.TableSchema{
		{TableName: "orders", DatabaseType: catalog.DatabaseMain, SchemaVersion: "1.0.0"},
		{TableName: "orders", DatabaseType: catalog.DatabaseMain, SchemaVersion: "1.2.0"},
		{TableName: "orders", DatabaseType: catalog.DatabaseMain, SchemaVersion: "1.1.0"},
	}
	out := sortBySchemaVersionDesc(in)
	if out[0].SchemaVersion != "1.2.0" || out[1].SchemaVersion != "1.1.0" || out[2].SchemaVersion != "1.0.0" {
		t.Errorf("sortBySchemaVersionDesc() = %v", out)
	}
}

func TestAllSucceeded(t *testing.T) {
	if !allSucceeded(nil) {
		t.Error("expected allSucceeded(nil) true")
	}
	if !allSucceeded([]SchemaResult{{Success: true}, {Success: true}}) {
		t.Error("expected all-true slice to succeed")
	}
	if allSucceeded([]SchemaResult{{Success: true}, {Success: false}}) {
		t.Error("expected one failure to fail the batch")
	}
}
