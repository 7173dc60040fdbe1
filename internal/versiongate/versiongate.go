// Package versiongate implements the Version Gate (C10): a per-tenant
// "already migrated to version" memo that short-circuits redundant
// reconcile calls.
package versiongate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// Gate consults and updates catalog.MigrationVersion rows.
type Gate struct {
	store  catalog.Store
	logger *slog.Logger
}

func New(store catalog.Store, logger *slog.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// ShouldSkip reports whether the stored version memo already equals
// target, in which case C5 should not be invoked for this
// (tenant, physical table, role, rule) (spec §4.10). Callers must pass the
// physical table name, not the logical schema name, so that each physical
// of a sharded schema is gated independently.
func (g *Gate) ShouldSkip(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule, target string) bool {
	v, err := g.store.GetVersion(ctx, enterpriseID, tableName, dbType, rule)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			// Errors in the memo layer are non-fatal: default to
			// proceeding with reconcile (spec §4.10).
			g.logger.Warn("version gate read failed, proceeding with reconcile",
				"enterprise_id", enterpriseID, "table_name", tableName, "error", err)
		}
		return false
	}
	return v.CurrentVersion == target
}

// Advance upserts the memo to target after a successful reconcile.
func (g *Gate) Advance(ctx context.Context, enterpriseID, tableName string, dbType catalog.DatabaseType, rule catalog.PartitionRule, target string) {
	err := g.store.PutVersion(ctx, catalog.MigrationVersion{
		EnterpriseID:   enterpriseID,
		TableName:      tableName,
		DatabaseType:   dbType,
		PartitionRule:  rule,
		CurrentVersion: target,
	})
	if err != nil {
		g.logger.Warn("version gate upsert failed",
			"enterprise_id", enterpriseID, "table_name", tableName, "error", err)
	}
}
