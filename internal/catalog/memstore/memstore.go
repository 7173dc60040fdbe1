// Package memstore provides an in-memory catalog.Store implementation,
// adapted from the control database's table shape without any SQL
// dependency. It backs the BDD suite's in-process server and the
// conformance suite's in-memory sub-test, the way the teacher's
// internal/storage/memory package backs its own BDD and conformance runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// Store is a goroutine-safe, process-local catalog.Store. Nothing persists
// across process restarts; that tradeoff is the whole point of using it in
// tests instead of a real MySQL control database.
type Store struct {
	mu sync.Mutex

	nextID int64

	// schemas holds every version ever written, keyed by ID.
	schemas map[int64]*catalog.TableSchema

	// versions memoizes the per-(enterprise,table,dbType,rule) migration
	// version for the Version Gate (C10).
	versions map[versionKey]catalog.MigrationVersion

	// locks holds every lock ever acquired, keyed by lock_key. Released
	// locks remain present with IsActive = false so ListActiveLocks can
	// filter them out the same way a real SQL WHERE clause would.
	locks map[string]*catalog.MigrationLock
}

type versionKey struct {
	enterpriseID string
	tableName    string
	dbType       catalog.DatabaseType
	rule         catalog.PartitionRule
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		schemas:  make(map[int64]*catalog.TableSchema),
		versions: make(map[versionKey]catalog.MigrationVersion),
		locks:    make(map[string]*catalog.MigrationLock),
	}
}

func (s *Store) PutNewVersion(ctx context.Context, schema catalog.TableSchema) (catalog.TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var predecessor *catalog.TableSchema
	for _, existing := range s.schemas {
		if existing.IsActive &&
			existing.TableName == schema.TableName &&
			existing.DatabaseType == schema.DatabaseType &&
			existing.PartitionType == schema.PartitionType {
			predecessor = existing
			break
		}
	}
	if predecessor != nil {
		if catalog.CompareSemver(schema.SchemaVersion, predecessor.SchemaVersion) <= 0 {
			return catalog.TableSchema{}, catalog.ErrStaleVersion
		}
		predecessor.IsActive = false
	}

	s.nextID++
	schema.ID = s.nextID
	schema.IsActive = true
	schema.CreatedAt = time.Now().UTC()
	stored := schema
	s.schemas[schema.ID] = &stored
	return stored, nil
}

func (s *Store) GetActive(ctx context.Context, key catalog.Key) (catalog.TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.schemas {
		if existing.IsActive &&
			existing.TableName == key.TableName &&
			existing.DatabaseType == key.DatabaseType &&
			existing.PartitionType == key.PartitionType {
			return *existing, nil
		}
	}
	return catalog.TableSchema{}, catalog.ErrNotFound
}

func (s *Store) FindActiveMatches(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.TableSchema
	for _, existing := range s.schemas {
		if existing.IsActive && existing.TableName == tableName && existing.DatabaseType == dbType {
			out = append(out, *existing)
		}
	}
	return out, nil
}

func (s *Store) ListAllActive(ctx context.Context, params catalog.ListSchemasParams) ([]catalog.TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.TableSchema
	for _, existing := range s.schemas {
		if !existing.IsActive {
			continue
		}
		if params.TableName != "" && existing.TableName != params.TableName {
			continue
		}
		if params.DatabaseType != "" && existing.DatabaseType != params.DatabaseType {
			continue
		}
		if params.PartitionType != "" && existing.PartitionType != params.PartitionType {
			continue
		}
		out = append(out, *existing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

func (s *Store) History(ctx context.Context, tableName string, dbType catalog.DatabaseType) ([]catalog.TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.TableSchema
	for _, existing := range s.schemas {
		if existing.TableName == tableName && existing.DatabaseType == dbType {
			out = append(out, *existing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) SoftDelete(ctx context.Context, key catalog.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.schemas {
		if existing.IsActive &&
			existing.TableName == key.TableName &&
			existing.DatabaseType == key.DatabaseType &&
			existing.PartitionType == key.PartitionType {
			existing.IsActive = false
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (s *Store) RecordHistory(ctx context.Context, h catalog.MigrationHistory) error {
	// The Store interface has no read path for MigrationHistory rows (see
	// catalog.Store.History, which returns TableSchema versions, not DDL
	// statement records) so this implementation only needs to accept the
	// write without losing it silently; nothing in-process ever reads it
	// back, matching the real control database's append-only audit trail.
	return nil
}

func (s *Store) GetVersion(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule) (catalog.MigrationVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionKey{enterpriseID, tableName, dbType, rule}]
	if !ok {
		return catalog.MigrationVersion{}, catalog.ErrNotFound
	}
	return v, nil
}

func (s *Store) PutVersion(ctx context.Context, v catalog.MigrationVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[versionKey{v.EnterpriseID, v.TableName, v.DatabaseType, v.PartitionRule}] = v
	return nil
}

func lockConflicts(existing *catalog.MigrationLock, lockType catalog.LockType, key *catalog.Key) bool {
	if !existing.IsActive {
		return false
	}
	if existing.LockType == catalog.LockAllTables || lockType == catalog.LockAllTables {
		return true
	}
	return existing.TableName == key.TableName &&
		existing.DatabaseType == key.DatabaseType &&
		existing.PartitionType == key.PartitionType
}

func lockKeyFor(lockType catalog.LockType, key *catalog.Key) string {
	if lockType == catalog.LockAllTables || key == nil {
		return "ALL_TABLES"
	}
	return "SINGLE_TABLE:" + key.TableName + ":" + string(key.DatabaseType) + ":" + string(key.PartitionType)
}

func (s *Store) AcquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key, holder string) (catalog.MigrationLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.locks {
		if lockConflicts(existing, lockType, key) {
			return *existing, catalog.ErrLockConflict
		}
	}

	lock := catalog.MigrationLock{
		LockKey:    lockKeyFor(lockType, key),
		LockType:   lockType,
		StartTime:  time.Now().UTC(),
		LockHolder: holder,
		IsActive:   true,
	}
	if key != nil {
		lock.TableName = key.TableName
		lock.DatabaseType = key.DatabaseType
		lock.PartitionType = key.PartitionType
	}
	stored := lock
	s.locks[lock.LockKey] = &stored
	return stored, nil
}

func (s *Store) ReleaseLock(ctx context.Context, lockKey, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockKey]
	if !ok || !existing.IsActive {
		return catalog.ErrLockNotHeld
	}
	if existing.LockHolder != holder {
		return catalog.ErrLockNotHeld
	}
	existing.IsActive = false
	return nil
}

func (s *Store) ForceReleaseLock(ctx context.Context, lockKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockKey]
	if !ok {
		return catalog.ErrNotFound
	}
	existing.IsActive = false
	return nil
}

func (s *Store) CleanupLocksOlderThan(ctx context.Context, age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	n := 0
	for _, existing := range s.locks {
		if existing.IsActive && existing.StartTime.Before(cutoff) {
			existing.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *Store) ListActiveLocks(ctx context.Context) ([]catalog.MigrationLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.MigrationLock
	for _, existing := range s.locks {
		if existing.IsActive {
			out = append(out, *existing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockKey < out[j].LockKey })
	return out, nil
}

func (s *Store) Close() error { return nil }

var _ catalog.Store = (*Store)(nil)
