// Package orchestrator implements the Orchestrator (C8): the three
// top-level operations — migrateTable, migrateAllTables,
// migrateStoreShards — that acquire locks, enumerate tenants, and drive
// the Shard Expander (C6) and Reconciliation Engine (C5).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/axonops/tenant-schema-engine/internal/auditlog"
	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
	"github.com/axonops/tenant-schema-engine/internal/reconcile"
	"github.com/axonops/tenant-schema-engine/internal/shard"
	"github.com/axonops/tenant-schema-engine/internal/tenant"
	"github.com/axonops/tenant-schema-engine/internal/versiongate"
)

// TenantLister is the external collaborator supplying tenants; per spec
// §1 "Explicitly out of scope: per-tenant connection configuration
// storage", the orchestrator never persists tenants itself.
type TenantLister interface {
	ListNormalTenants(ctx context.Context) ([]tenant.Descriptor, error)
}

// SchemaResult is the per-physical-table outcome of a sweep entry point.
type SchemaResult struct {
	TableName     string
	DatabaseType  catalog.DatabaseType
	PartitionType catalog.PartitionType
	Success       bool
	Error         string
}

// FailedSQL is one entry in a batch's aggregated failure report.
type FailedSQL struct {
	TableName string
	BatchID   string
	Statement string
	Error     string
}

// BatchResult is the structured report returned by every entry point
// (spec §4.8, §7 "structured per-schema result list").
type BatchResult struct {
	BatchID    string
	Success    bool
	Schemas    []SchemaResult
	FailedSQLs []FailedSQL
}

// Orchestrator ties the Catalog Store, Connection Registry, Shard
// Expander, Reconciliation Engine and Version Gate together.
type Orchestrator struct {
	store    catalog.Store
	tenants  TenantLister
	conns    *tenant.Registry
	expander *shard.Expander
	gate     *versiongate.Gate
	logger   *slog.Logger
	holder   string
	now      func() time.Time
	audit    auditlog.Sink
	metrics  *metrics.Metrics
}

func New(store catalog.Store, tenants TenantLister, conns *tenant.Registry, expander *shard.Expander, gate *versiongate.Gate, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		tenants:  tenants,
		conns:    conns,
		expander: expander,
		gate:     gate,
		logger:   logger,
		holder:   holderIdentity(),
		now:      time.Now,
		audit:    auditlog.NoopSink,
	}
}

// SetAuditSink attaches a secondary sink that receives every FAILED
// MigrationHistory row, independent of the Catalog Store's own history
// table (spec §7: failed DDL must survive even if the caller never reads
// the per-schema result list).
func (o *Orchestrator) SetAuditSink(sink auditlog.Sink) {
	o.audit = sink
}

// SetMetrics attaches the Prometheus recorders for locks and reconcile
// activity. Unset, the orchestrator runs without a metrics dependency.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

func holderIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// MigrateTable is the `execute` entry point: migrateTable(name, db_role,
// partition_type, version?) (spec §4.8).
func (o *Orchestrator) MigrateTable(ctx context.Context, tableName string, dbType catalog.DatabaseType, partType catalog.PartitionType, version string) (BatchResult, error) {
	key := &catalog.Key{TableName: tableName, DatabaseType: dbType, PartitionType: partType}

	lock, err := o.acquireLock(ctx, catalog.LockSingleTable, key)
	if err != nil {
		return BatchResult{}, err
	}
	defer o.releaseLock(ctx, lock)

	schema, err := o.resolveSchema(ctx, tableName, dbType, partType, version)
	if err != nil {
		return BatchResult{}, err
	}

	batchID := uuid.NewString()
	result := o.migrateSchemaAcrossTenants(ctx, batchID, schema)
	result.BatchID = batchID
	result.Success = allSucceeded(result.Schemas)
	return result, nil
}

// resolveSchema finds the active TableSchema for (tableName, dbType),
// disambiguating on partition_type when the caller omitted it and
// multiple partition types exist (spec §4.2).
func (o *Orchestrator) resolveSchema(ctx context.Context, tableName string, dbType catalog.DatabaseType, partType catalog.PartitionType, version string) (catalog.TableSchema, error) {
	if partType != "" {
		s, err := o.store.GetActive(ctx, catalog.Key{TableName: tableName, DatabaseType: dbType, PartitionType: partType})
		if err != nil {
			return catalog.TableSchema{}, err
		}
		return o.pinVersion(ctx, s, version)
	}

	matches, err := o.store.FindActiveMatches(ctx, tableName, dbType)
	if err != nil {
		return catalog.TableSchema{}, err
	}
	if len(matches) == 0 {
		return catalog.TableSchema{}, catalog.ErrNotFound
	}
	if len(matches) > 1 {
		distinct := map[catalog.PartitionType]bool{}
		for _, m := range matches {
			distinct[m.PartitionType] = true
		}
		if len(distinct) > 1 {
			return catalog.TableSchema{}, catalog.ErrDisambiguationRequired
		}
	}
	return o.pinVersion(ctx, matches[0], version)
}

func (o *Orchestrator) pinVersion(ctx context.Context, active catalog.TableSchema, version string) (catalog.TableSchema, error) {
	if version == "" || version == active.SchemaVersion {
		return active, nil
	}
	history, err := o.store.History(ctx, active.TableName, active.DatabaseType)
	if err != nil {
		return catalog.TableSchema{}, err
	}
	for _, h := range history {
		if h.SchemaVersion == version && h.PartitionType == active.PartitionType {
			return h, nil
		}
	}
	return catalog.TableSchema{}, catalog.ErrNotFound
}

// MigrateAllTables is the `execute-all` entry point.
func (o *Orchestrator) MigrateAllTables(ctx context.Context) (BatchResult, error) {
	lock, err := o.acquireLock(ctx, catalog.LockAllTables, nil)
	if err != nil {
		return BatchResult{}, err
	}
	defer o.releaseLock(ctx, lock)

	schemas, err := o.store.ListAllActive(ctx, catalog.ListSchemasParams{})
	if err != nil {
		return BatchResult{}, err
	}
	schemas = sortBySchemaVersionDesc(schemas)

	batchID := uuid.NewString()
	overall := BatchResult{BatchID: batchID, Success: true}
	for _, schema := range schemas {
		select {
		case <-ctx.Done():
			return overall, ctx.Err()
		default:
		}
		r := o.migrateSchemaAcrossTenants(ctx, batchID, schema)
		overall.Schemas = append(overall.Schemas, r.Schemas...)
		overall.FailedSQLs = append(overall.FailedSQLs, r.FailedSQLs...)
		if !allSucceeded(r.Schemas) {
			overall.Success = false
		}
	}
	return overall, nil
}

// sortBySchemaVersionDesc orders active schemas newest-version-first
// within each (table_name, database_type) group, the deterministic sweep
// order spec §5 requires of migrateAllTables.
func sortBySchemaVersionDesc(schemas []catalog.TableSchema) []catalog.TableSchema {
	out := make([]catalog.TableSchema, len(schemas))
	copy(out, schemas)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 {
			a, b := out[j-1], out[j]
			if a.TableName == b.TableName && a.DatabaseType == b.DatabaseType && catalog.CompareSemver(a.SchemaVersion, b.SchemaVersion) < 0 {
				out[j-1], out[j] = out[j], out[j-1]
				j--
				continue
			}
			break
		}
	}
	return out
}

// MigrateStoreShards is the `execute-store` entry point: reconcile only
// the <table>_<store_id> physical name for one tenant, across every
// active store-sharded schema.
func (o *Orchestrator) MigrateStoreShards(ctx context.Context, storeID, enterpriseID string) (BatchResult, error) {
	key := &catalog.Key{TableName: "ALL_STORE_SHARDS", DatabaseType: catalog.DatabaseMain, PartitionType: catalog.PartitionStore}
	lock, err := o.acquireLock(ctx, catalog.LockSingleTable, key)
	if err != nil {
		return BatchResult{}, err
	}
	defer o.releaseLock(ctx, lock)

	schemas, err := o.store.ListAllActive(ctx, catalog.ListSchemasParams{PartitionType: catalog.PartitionStore})
	if err != nil {
		return BatchResult{}, err
	}

	tenants, err := o.tenants.ListNormalTenants(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list tenants: %w", err)
	}
	var target *tenant.Descriptor
	for i := range tenants {
		if tenants[i].ID == enterpriseID {
			target = &tenants[i]
			break
		}
	}
	if target == nil {
		return BatchResult{}, fmt.Errorf("%w: enterprise %s is not a normal tenant", catalog.ErrNotFound, enterpriseID)
	}

	batchID := uuid.NewString()
	overall := BatchResult{BatchID: batchID, Success: true}
	for _, schema := range schemas {
		physical := schema.TableName + "_" + storeID
		outcome := o.reconcileOnePhysical(ctx, batchID, schema, *target, physical, catalog.RuleStore)
		overall.Schemas = append(overall.Schemas, outcome.result)
		overall.FailedSQLs = append(overall.FailedSQLs, outcome.failed...)
		if !outcome.result.Success {
			overall.Success = false
		}
	}
	return overall, nil
}

// acquireLock wraps catalog.Store.AcquireLock with the lock-acquire
// Prometheus counter (spec SPEC_FULL.md §11 "lock-conflict counter").
func (o *Orchestrator) acquireLock(ctx context.Context, lockType catalog.LockType, key *catalog.Key) (catalog.MigrationLock, error) {
	lock, err := o.store.AcquireLock(ctx, lockType, key, o.holder)
	if o.metrics != nil {
		o.metrics.RecordLockAcquire(string(lockType), err == nil)
	}
	return lock, err
}

func (o *Orchestrator) releaseLock(ctx context.Context, lock catalog.MigrationLock) {
	if err := o.store.ReleaseLock(ctx, lock.LockKey, o.holder); err != nil {
		o.logger.Warn("failed to release migration lock", "lock_key", lock.LockKey, "error", err)
	}
	if o.metrics != nil {
		o.metrics.RecordLockHold(string(lock.LockType), time.Since(lock.StartTime))
	}
}

type physicalOutcome struct {
	result SchemaResult
	failed []FailedSQL
}

func allSucceeded(schemas []SchemaResult) bool {
	for _, s := range schemas {
		if !s.Success {
			return false
		}
	}
	return true
}

// migrateSchemaAcrossTenants runs C10->C6->C5->C2 for one TableSchema
// across every normal tenant (spec §4.8 migrateTable/migrateAllTables
// shared pipeline).
func (o *Orchestrator) migrateSchemaAcrossTenants(ctx context.Context, batchID string, schema catalog.TableSchema) BatchResult {
	tenants, err := o.tenants.ListNormalTenants(ctx)
	if err != nil {
		return BatchResult{
			BatchID: batchID,
			Schemas: []SchemaResult{{
				TableName: schema.TableName, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType,
				Success: false, Error: fmt.Sprintf("list tenants: %v", err),
			}},
		}
	}

	var schemaResults []SchemaResult
	var failed []FailedSQL

	for _, t := range tenants {
		physicals, rule, err := o.expandPhysicals(ctx, t, schema)
		if err != nil {
			schemaResults = append(schemaResults, SchemaResult{
				TableName: schema.TableName, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType,
				Success: false, Error: err.Error(),
			})
			continue
		}
		for _, physical := range physicals {
			outcome := o.reconcileOnePhysical(ctx, batchID, schema, t, physical, rule)
			schemaResults = append(schemaResults, outcome.result)
			failed = append(failed, outcome.failed...)
		}
	}

	return BatchResult{BatchID: batchID, Schemas: schemaResults, FailedSQLs: failed}
}

// expandPhysicals resolves the physical table names a schema maps to for
// one tenant, per spec §4.6's three partition_type modes.
func (o *Orchestrator) expandPhysicals(ctx context.Context, t tenant.Descriptor, schema catalog.TableSchema) ([]string, catalog.PartitionRule, error) {
	switch schema.PartitionType {
	case catalog.PartitionNone:
		return shard.ExpandNone(schema.TableName), catalog.RuleNone, nil
	case catalog.PartitionStore:
		mainDB, err := o.conns.GetConnection(ctx, t, catalog.DatabaseMain)
		if err != nil {
			return nil, catalog.RuleStore, fmt.Errorf("open main connection: %w", err)
		}
		names, err := o.expander.ExpandStore(ctx, mainDB, schema.TableName)
		return names, catalog.RuleStore, err
	case catalog.PartitionTime:
		current, next := shard.CurrentAndNextWindows(schema.TimeInterval, o.now())
		names := shard.ExpandTime(schema.TableName, schema.TimeFormat, schema.TimeInterval, []time.Time{current, next})
		return names, catalog.TimePartitionRule(schema.TimeInterval), nil
	default:
		return nil, catalog.RuleNone, fmt.Errorf("unknown partition_type: %s", schema.PartitionType)
	}
}

func (o *Orchestrator) reconcileOnePhysical(ctx context.Context, batchID string, schema catalog.TableSchema, t tenant.Descriptor, physical string, rule catalog.PartitionRule) physicalOutcome {
	// Keyed on the physical table name, not the logical schema.TableName: a
	// store- or time-sharded schema expands to several physicals per tenant
	// in one call, and each needs its own memo row or shard #2+ would read
	// shard #1's just-advanced memo and be skipped (ShouldSkip == true)
	// even though they were never reconciled.
	if o.gate.ShouldSkip(ctx, t.ID, physical, schema.DatabaseType, rule, schema.SchemaVersion) {
		return physicalOutcome{result: SchemaResult{TableName: physical, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType, Success: true}}
	}

	db, err := o.conns.GetConnection(ctx, t, schema.DatabaseType)
	if err != nil {
		return physicalOutcome{result: SchemaResult{
			TableName: physical, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType,
			Success: false, Error: fmt.Sprintf("open connection: %v", err),
		}}
	}

	reconcileStart := o.now()
	result := reconcile.Reconcile(ctx, db, physical, schema.SchemaDefinition)
	if o.metrics != nil {
		o.metrics.RecordReconcile(physical, o.now().Sub(reconcileStart), result.Fatal != nil)
	}
	if result.Fatal != nil {
		o.logger.Error("fatal reconcile failure", "physical_name", physical, "error", result.Fatal)
		return physicalOutcome{result: SchemaResult{
			TableName: physical, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType,
			Success: false, Error: result.Fatal.Error(),
		}}
	}

	var failed []FailedSQL
	for _, stmt := range result.Statements {
		if o.metrics != nil {
			o.metrics.RecordReconcileStatement(string(stmt.MigrationType), stmt.Status == catalog.StatusSuccess)
		}
		h := catalog.MigrationHistory{
			TableName: physical, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType,
			SchemaVersion: schema.SchemaVersion, MigrationType: stmt.MigrationType, SQLStatement: stmt.SQL,
			ExecutionStatus: stmt.Status, ExecutionTimeMs: stmt.DurationMs, ErrorMessage: stmt.ErrorMessage,
			MigrationBatchID: batchID,
		}
		if err := o.store.RecordHistory(ctx, h); err != nil {
			o.logger.Warn("failed to record migration history", "physical_name", physical, "error", err)
		}
		if stmt.Status != catalog.StatusSuccess {
			failed = append(failed, FailedSQL{TableName: physical, BatchID: batchID, Statement: stmt.SQL, Error: stmt.ErrorMessage})
			o.audit.Record(h)
		}
	}

	success := len(failed) == 0
	if success {
		o.gate.Advance(ctx, t.ID, physical, schema.DatabaseType, rule, schema.SchemaVersion)
	}

	sr := SchemaResult{TableName: physical, DatabaseType: schema.DatabaseType, PartitionType: schema.PartitionType, Success: success}
	if !success {
		sr.Error = fmt.Sprintf("%d statement(s) failed", len(failed))
	}
	return physicalOutcome{result: sr, failed: failed}
}
