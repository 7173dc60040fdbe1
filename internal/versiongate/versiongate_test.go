package versiongate

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// fakeStore implements catalog.Store with only GetVersion/PutVersion wired;
// every other method is unused by the Gate and panics if ever called.
type fakeStore struct {
	versions   map[string]catalog.MigrationVersion
	getErr     error
	putErr     error
}

func memoKey(enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) string {
	return enterpriseID + "|" + tableName + "|" + string(dbType) + "|" + string(rule)
}

func (f *fakeStore) GetVersion(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) (catalog.MigrationVersion, error) {
	if f.getErr != nil {
		return catalog.MigrationVersion{}, f.getErr
	}
	v, ok := f.versions[memoKey(enterpriseID, tableName, dbType, rule)]
	if !ok {
		return catalog.MigrationVersion{}, catalog.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) PutVersion(ctx context.Context, v catalog.MigrationVersion) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.versions == nil {
		f.versions = map[string]catalog.MigrationVersion{}
	}
	f.versions[memoKey(v.EnterpriseID, v.TableName, v.DatabaseType, v.PartitionRule)] = v
	return nil
}

func (f *fakeStore) PutNewVersion(ctx context.Context, schema catalog.TableSchema) (catalog.TableSchema, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) GetActive(ctx context.Context, key catalog.Key) (catalog.TableSchema, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) FindActiveMatches(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) ListAllActive(ctx context.Context, params catalog.ListSchemasParams) ([]catalog.TableSchema, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) History(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) SoftDelete(ctx context.Context, key catalog.Key) error {
	panic("not used by versiongate")
}
func (f *fakeStore) RecordHistory(ctx context.Context, h catalog.MigrationHistory) error {
	panic("not used by versiongate")
}
func (f *fakeStore) AcquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key, holder string) (catalog.MigrationLock, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) ReleaseLock(ctx context.Context, lockKey, holder string) error {
	panic("not used by versiongate")
}
func (f *fakeStore) ForceReleaseLock(ctx context.Context, lockKey string) error {
	panic("not used by versiongate")
}
func (f *fakeStore) CleanupLocksOlderThan(ctx context.Context, age time.Duration) (int, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) ListActiveLocks(ctx context.Context) ([]catalog.MigrationLock, error) {
	panic("not used by versiongate")
}
func (f *fakeStore) Close() error { return nil }

var _ catalog.Store = (*fakeStore)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGate_ShouldSkip_NoMemoYet(t *testing.T) {
	g := New(&fakeStore{}, testLogger())
	if g.ShouldSkip(context.Background(), "ent1", "orders", catalog.DatabaseMain, catalog.RuleNone, "1.0.0") {
		t.Error("expected ShouldSkip false when no memo exists")
	}
}

func TestGate_ShouldSkip_MatchingMemo(t *testing.T) {
	store := &fakeStore{}
	g := New(store, testLogger())
	ctx := context.Background()
	rule := catalog.RuleNone
	g.Advance(ctx, "ent1", "orders", catalog.DatabaseMain, rule, "1.0.0")
	if !g.ShouldSkip(ctx, "ent1", "orders", catalog.DatabaseMain, rule, "1.0.0") {
		t.Error("expected ShouldSkip true once memo matches target")
	}
}

func TestGate_ShouldSkip_StaleMemo(t *testing.T) {
	store := &fakeStore{}
	g := New(store, testLogger())
	ctx := context.Background()
	rule := catalog.RuleNone
	g.Advance(ctx, "ent1", "orders", catalog.DatabaseMain, rule, "1.0.0")
	if g.ShouldSkip(ctx, "ent1", "orders", catalog.DatabaseMain, rule, "1.0.1") {
		t.Error("expected ShouldSkip false when memo is behind target")
	}
}

func TestGate_ShouldSkip_ReadErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{getErr: context.DeadlineExceeded}
	g := New(store, testLogger())
	if g.ShouldSkip(context.Background(), "ent1", "orders", catalog.DatabaseMain, catalog.RuleNone, "1.0.0") {
		t.Error("expected ShouldSkip false (proceed with reconcile) on memo read error")
	}
}

func TestGate_Advance_WriteErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{putErr: context.DeadlineExceeded}
	g := New(store, testLogger())
	g.Advance(context.Background(), "ent1", "orders", catalog.DatabaseMain, catalog.RuleNone, "1.0.0")
}
