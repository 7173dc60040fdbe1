package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/tenant-schema-engine/internal/api/handlers"
	"github.com/axonops/tenant-schema-engine/internal/api/types"
	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// fakeStore is a minimal in-memory catalog.Store for handler tests.
type fakeStore struct {
	active  map[string]catalog.TableSchema
	history []catalog.TableSchema
	locks   map[string]catalog.MigrationLock

	putNewVersionErr error
	getActiveErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active: map[string]catalog.TableSchema{},
		locks:  map[string]catalog.MigrationLock{},
	}
}

func keyStr(tableName string, dbType catalog.DatabaseType, partType catalog.PartitionType) string {
	return tableName + "|" + string(dbType) + "|" + string(partType)
}

func (f *fakeStore) PutNewVersion(ctx context.Context, schema catalog.TableSchema) (catalog.TableSchema, error) {
	if f.putNewVersionErr != nil {
		return catalog.TableSchema{}, f.putNewVersionErr
	}
	schema.IsActive = true
	f.active[keyStr(schema.TableName, schema.DatabaseType, schema.PartitionType)] = schema
	f.history = append(f.history, schema)
	return schema, nil
}

func (f *fakeStore) GetActive(ctx context.Context, key catalog.Key) (catalog.TableSchema, error) {
	if f.getActiveErr != nil {
		return catalog.TableSchema{}, f.getActiveErr
	}
	s, ok := f.active[keyStr(key.TableName, key.DatabaseType, key.PartitionType)]
	if !ok {
		return catalog.TableSchema{}, catalog.ErrNotFound
	}
	return s, nil
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
		if params.TableName != "" && s.TableName != params.TableName {
			continue
		}
		if params.DatabaseType != "" && s.DatabaseType != params.DatabaseType {
			continue
		}
		if params.PartitionType != "" && s.PartitionType != params.PartitionType {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) History(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	var out []catalog.TableSchema
	for _, s := range f.history {
		if s.TableName == tableName && (dbType == "" || s.DatabaseType == dbType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) SoftDelete(ctx context.Context, key catalog.Key) error {
	k := keyStr(key.TableName, key.DatabaseType, key.PartitionType)
	if _, ok := f.active[k]; !ok {
		return catalog.ErrNotFound
	}
	delete(f.active, k)
	return nil
}

func (f *fakeStore) RecordHistory(ctx context.Context, h catalog.MigrationHistory) error { return nil }

func (f *fakeStore) GetVersion(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) (catalog.MigrationVersion, error) {
	return catalog.MigrationVersion{}, catalog.ErrNotFound
}

func (f *fakeStore) PutVersion(ctx context.Context, v catalog.MigrationVersion) error { return nil }

func (f *fakeStore) AcquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key, holder string) (catalog.MigrationLock, error) {
	return catalog.MigrationLock{}, nil
}

func (f *fakeStore) ReleaseLock(ctx context.Context, lockKey, holder string) error { return nil }

func (f *fakeStore) ForceReleaseLock(ctx context.Context, lockKey string) error {
	if _, ok := f.locks[lockKey]; !ok {
		return catalog.ErrNotFound
	}
	delete(f.locks, lockKey)
	return nil
}

func (f *fakeStore) CleanupLocksOlderThan(ctx context.Context, age time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeStore) ListActiveLocks(ctx context.Context) ([]catalog.MigrationLock, error) {
	var out []catalog.MigrationLock
	for _, l := range f.locks {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

var _ catalog.Store = (*fakeStore)(nil)

func validDefinitionJSON() string {
	return `{
		"tableName": "orders",
		"columns": [
			{"name": "id", "type": "BIGINT", "primaryKey": true, "autoIncrement": true},
			{"name": "status", "type": "VARCHAR", "length": 32}
		]
	}`
}

func newTestHandler(store *fakeStore) *handlers.Handler {
	return handlers.New(store, nil, nil, nil, nil, nil)
}

func TestCreateSchema(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := map[string]interface{}{
		"table_name":        "orders",
		"database_type":     "main",
		"partition_type":    "none",
		"schema_version":    "1.0.0",
		"schema_definition": json.RawMessage(validDefinitionJSON()),
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/schemas", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	h.CreateSchema(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateSchema_InvalidDefinition(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := map[string]interface{}{
		"table_name":        "orders",
		"database_type":     "main",
		"partition_type":    "none",
		"schema_version":    "1.0.0",
		"schema_definition": json.RawMessage(`{"columns": [{"name": "id"}]}`),
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/schemas", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	h.CreateSchema(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.ErrorCode != types.ErrorCodeValidation {
		t.Errorf("expected ErrorCodeValidation, got %d", resp.ErrorCode)
	}
}

func TestDetailSchema_NotFound(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	r := chi.NewRouter()
	r.Get("/schemas/{table}", h.DetailSchema)

	req := httptest.NewRequest(http.MethodGet, "/schemas/orders?database_type=main&partition_type=none", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.ErrorCode != types.ErrorCodeNotFound {
		t.Errorf("expected ErrorCodeNotFound, got %d", resp.ErrorCode)
	}
}

func TestListSchemas(t *testing.T) {
	store := newFakeStore()
	store.active[keyStr("orders", catalog.DatabaseMain, catalog.PartitionNone)] = catalog.TableSchema{
		TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone, IsActive: true,
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/schemas", nil)
	w := httptest.NewRecorder()
	h.ListSchemas(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var schemas []catalog.TableSchema
	if err := json.Unmarshal(w.Body.Bytes(), &schemas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
}

func TestDeleteSchema(t *testing.T) {
	store := newFakeStore()
	store.active[keyStr("orders", catalog.DatabaseMain, catalog.PartitionNone)] = catalog.TableSchema{
		TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone,
	}
	h := newTestHandler(store)

	r := chi.NewRouter()
	r.Delete("/schemas/{table}", h.DeleteSchema)

	req := httptest.NewRequest(http.MethodDelete, "/schemas/orders?database_type=main&partition_type=none", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLivenessCheck(t *testing.T) {
	h := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	h.LivenessCheck(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadinessCheck_NoPingable(t *testing.T) {
	h := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	h.ReadinessCheck(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadinessCheck_PingFails(t *testing.T) {
	store := newFakeStore()
	h := handlers.New(store, nil, nil, nil, nil, func() error { return context.DeadlineExceeded })
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	h.ReadinessCheck(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestForceReleaseLock_NotFound(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body, _ := json.Marshal(map[string]string{"lock_key": "missing"})
	req := httptest.NewRequest(http.MethodPost, "/locks/force-release", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ForceReleaseLock(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}
