package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// RunLockTests exercises the C3 conflict rules: a SINGLE_TABLE lock
// conflicts with any lock (of either type) sharing its key or with an
// ALL_TABLES lock; an ALL_TABLES lock conflicts with every active lock.
func RunLockTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	key := &catalog.Key{TableName: "orders", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionNone}
	otherKey := &catalog.Key{TableName: "events", DatabaseType: catalog.DatabaseLog, PartitionType: catalog.PartitionNone}

	t.Run("AcquireLock_GrantsWhenFree", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		lock, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1")
		if err != nil {
			t.Fatalf("AcquireLock: %v", err)
		}
		if lock.LockHolder != "worker-1" {
			t.Errorf("LockHolder = %q, want worker-1", lock.LockHolder)
		}
	})

	t.Run("AcquireLock_SameKeyConflicts", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1"); err != nil {
			t.Fatalf("first AcquireLock: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-2"); !errors.Is(err, catalog.ErrLockConflict) {
			t.Errorf("expected ErrLockConflict, got %v", err)
		}
	})

	t.Run("AcquireLock_DisjointKeysDoNotConflict", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1"); err != nil {
			t.Fatalf("AcquireLock key: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, otherKey, "worker-2"); err != nil {
			t.Errorf("expected disjoint single-table locks to coexist, got %v", err)
		}
	})

	t.Run("AcquireLock_AllTablesConflictsWithEverything", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, otherKey, "worker-1"); err != nil {
			t.Fatalf("AcquireLock single: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockAllTables, nil, "sweeper"); !errors.Is(err, catalog.ErrLockConflict) {
			t.Errorf("expected ALL_TABLES to conflict with an existing single-table lock, got %v", err)
		}
	})

	t.Run("AcquireLock_SingleTableConflictsWithActiveAllTables", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.AcquireLock(ctx, catalog.LockAllTables, nil, "sweeper"); err != nil {
			t.Fatalf("AcquireLock all: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1"); !errors.Is(err, catalog.ErrLockConflict) {
			t.Errorf("expected SINGLE_TABLE to conflict with an active ALL_TABLES lock, got %v", err)
		}
	})

	t.Run("ReleaseLock_OnlyHolderMayRelease", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		lock, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1")
		if err != nil {
			t.Fatalf("AcquireLock: %v", err)
		}
		if err := store.ReleaseLock(ctx, lock.LockKey, "worker-2"); !errors.Is(err, catalog.ErrLockNotHeld) {
			t.Errorf("expected ErrLockNotHeld for the wrong holder, got %v", err)
		}
		if err := store.ReleaseLock(ctx, lock.LockKey, "worker-1"); err != nil {
			t.Errorf("ReleaseLock by the true holder: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-2"); err != nil {
			t.Errorf("expected the key to be free after release, got %v", err)
		}
	})

	t.Run("ForceReleaseLock_IgnoresHolder", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		lock, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1")
		if err != nil {
			t.Fatalf("AcquireLock: %v", err)
		}
		if err := store.ForceReleaseLock(ctx, lock.LockKey); err != nil {
			t.Fatalf("ForceReleaseLock: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-2"); err != nil {
			t.Errorf("expected the key to be free after force-release, got %v", err)
		}
	})

	t.Run("CleanupLocksOlderThan_ClearsStaleLocks", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1"); err != nil {
			t.Fatalf("AcquireLock: %v", err)
		}
		n, err := store.CleanupLocksOlderThan(ctx, 0)
		if err != nil {
			t.Fatalf("CleanupLocksOlderThan: %v", err)
		}
		if n != 1 {
			t.Errorf("CleanupLocksOlderThan(0) = %d, want 1", n)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-2"); err != nil {
			t.Errorf("expected the key to be free after cleanup, got %v", err)
		}
	})

	t.Run("ListActiveLocks_ReturnsOnlyActive", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		lockA, err := store.AcquireLock(ctx, catalog.LockSingleTable, key, "worker-1")
		if err != nil {
			t.Fatalf("AcquireLock key: %v", err)
		}
		if _, err := store.AcquireLock(ctx, catalog.LockSingleTable, otherKey, "worker-2"); err != nil {
			t.Fatalf("AcquireLock otherKey: %v", err)
		}
		if err := store.ReleaseLock(ctx, lockA.LockKey, "worker-1"); err != nil {
			t.Fatalf("ReleaseLock: %v", err)
		}

		active, err := store.ListActiveLocks(ctx)
		if err != nil {
			t.Fatalf("ListActiveLocks: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("ListActiveLocks() = %d entries, want 1", len(active))
		}
		if active[0].LockHolder != "worker-2" {
			t.Errorf("remaining lock holder = %q, want worker-2", active[0].LockHolder)
		}
	})
}
