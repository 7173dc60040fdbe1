//go:build bdd

package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// RegisterInfraSteps registers health-check and direct-store seeding steps
// used to set up scenario preconditions that have no HTTP "create" surface
// (lock acquisition, in particular — the Lock Manager only exposes
// list/force-release/cleanup over HTTP per spec §6).
func RegisterInfraSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the engine is running$`, func() error {
		return tc.GET("/health/live")
	})

	ctx.Step(`^an ALL_TABLES lock is held by "([^"]*)"$`, func(holder string) error {
		_, err := tc.Store.AcquireLock(context.Background(), catalog.LockAllTables, nil, holder)
		return err
	})

	ctx.Step(`^a SINGLE_TABLE lock on table "([^"]*)" database "([^"]*)" is held by "([^"]*)"$`,
		func(table, dbType, holder string) error {
			key := &catalog.Key{TableName: table, DatabaseType: catalog.DatabaseType(dbType), PartitionType: catalog.PartitionNone}
			_, err := tc.Store.AcquireLock(context.Background(), catalog.LockSingleTable, key, holder)
			return err
		})

	ctx.Step(`^acquiring a SINGLE_TABLE lock on table "([^"]*)" database "([^"]*)" as "([^"]*)" fails with a lock conflict$`,
		func(table, dbType, holder string) error {
			key := &catalog.Key{TableName: table, DatabaseType: catalog.DatabaseType(dbType), PartitionType: catalog.PartitionNone}
			_, err := tc.Store.AcquireLock(context.Background(), catalog.LockSingleTable, key, holder)
			if err == nil {
				return fmt.Errorf("expected a lock conflict, but the lock was granted")
			}
			if err != catalog.ErrLockConflict {
				return fmt.Errorf("expected ErrLockConflict, got %v", err)
			}
			return nil
		})

	ctx.Step(`^acquiring a SINGLE_TABLE lock on table "([^"]*)" database "([^"]*)" as "([^"]*)" succeeds$`,
		func(table, dbType, holder string) error {
			key := &catalog.Key{TableName: table, DatabaseType: catalog.DatabaseType(dbType), PartitionType: catalog.PartitionNone}
			_, err := tc.Store.AcquireLock(context.Background(), catalog.LockSingleTable, key, holder)
			if err != nil {
				return fmt.Errorf("expected the disjoint lock to be granted, got %v", err)
			}
			return nil
		})
}
