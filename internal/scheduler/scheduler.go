// Package scheduler runs the two daily background jobs (C9): shard
// pre-creation and retention cleanup. The start/stop shape is grounded on
// the teacher's auth.Service background cache-refresh goroutine
// (internal/auth/service.go), generalized from a fixed-interval ticker to
// a daily-clock-time scheduler with per-job singleton guards.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
	"github.com/axonops/tenant-schema-engine/internal/orchestrator"
	"github.com/axonops/tenant-schema-engine/internal/reconcile"
	"github.com/axonops/tenant-schema-engine/internal/shard"
	"github.com/axonops/tenant-schema-engine/internal/tenant"
)

const (
	jobShardPreCreation = "shard_pre_creation"
	jobRetentionCleanup = "retention_cleanup"
)

// RetentionConfig controls how long time-sharded tables are kept before
// the cleanup job drops them, per database_type (spec §4.9).
type RetentionConfig struct {
	DayShards   int // default 30
	MonthShards int // default 3
	YearShards  int // default 3
}

// DefaultRetentionConfig matches spec §4.9's stated defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{DayShards: 30, MonthShards: 3, YearShards: 3}
}

func (r RetentionConfig) keepFor(interval catalog.TimeInterval) int {
	switch interval {
	case catalog.IntervalDay:
		return r.DayShards
	case catalog.IntervalMonth:
		return r.MonthShards
	case catalog.IntervalYear:
		return r.YearShards
	default:
		return 0
	}
}

// BaselineOpener resolves a tenant + database role to the *sql.DB the
// cleanup job issues DROP TABLE against.
type BaselineOpener interface {
	GetConnection(ctx context.Context, t tenant.Descriptor, role catalog.DatabaseType) (*sql.DB, error)
}

// Scheduler owns the two daily jobs. Each job guards itself with an
// atomic "in-flight" flag so a slow run is never overlapped by the next
// tick (spec §4.9 "the two jobs never overlap their own previous run").
type Scheduler struct {
	store   catalog.Store
	tenants orchestrator.TenantLister
	conns   BaselineOpener
	retain  RetentionConfig
	logger  *slog.Logger

	shardRunning   atomic.Bool
	cleanupRunning atomic.Bool
	stop           chan struct{}
	done           chan struct{}
	now            func() time.Time
	metrics        *metrics.Metrics
}

// SetMetrics attaches the Prometheus recorders updated as the two jobs
// run. Unset, the scheduler runs without a metrics dependency.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func New(store catalog.Store, tenants orchestrator.TenantLister, conns BaselineOpener, retain RetentionConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		tenants: tenants,
		conns:   conns,
		retain:  retain,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Run starts the background loop; call Stop to terminate it cleanly.
func (s *Scheduler) Run() {
	go s.loop()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// loop wakes once a minute and fires a job when the clock crosses its
// configured time-of-day, per spec §4.9: shard pre-creation at 00:00,
// retention cleanup at 02:00.
func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastShardDay, lastCleanupDay int

	for {
		select {
		case <-s.stop:
			return
		case t := <-ticker.C:
			t = t.UTC()
			if t.Hour() == 0 && t.Minute() == 0 && t.YearDay() != lastShardDay {
				lastShardDay = t.YearDay()
				s.runShardPreCreation()
			}
			if t.Hour() == 2 && t.Minute() == 0 && t.YearDay() != lastCleanupDay {
				lastCleanupDay = t.YearDay()
				s.runRetentionCleanup()
			}
		}
	}
}

// RunShardPreCreationNow triggers the shard pre-creation job out of band
// (the admin CLI's `schedule run-shards` command).
func (s *Scheduler) RunShardPreCreationNow() { s.runShardPreCreation() }

// RunRetentionCleanupNow triggers the retention cleanup job out of band
// (the admin CLI's `schedule run-cleanup` command).
func (s *Scheduler) RunRetentionCleanupNow() { s.runRetentionCleanup() }

// runShardPreCreation creates tomorrow's time-shard physical tables ahead
// of the boundary crossing, so a write at midnight never races table
// creation (spec §4.9 scenario, property B3).
func (s *Scheduler) runShardPreCreation() {
	if !s.shardRunning.CompareAndSwap(false, true) {
		s.logger.Warn("shard pre-creation skipped: previous run still in flight")
		return
	}
	defer s.shardRunning.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	schemas, err := s.store.ListAllActive(ctx, catalog.ListSchemasParams{PartitionType: catalog.PartitionTime})
	if err != nil {
		s.logger.Error("shard pre-creation: list active time-sharded schemas failed", "error", err)
		s.recordRun(jobShardPreCreation, false)
		return
	}

	tenants, err := s.tenants.ListNormalTenants(ctx)
	if err != nil {
		s.logger.Error("shard pre-creation: list tenants failed", "error", err)
		s.recordRun(jobShardPreCreation, false)
		return
	}

	created := 0
	for _, schema := range schemas {
		_, next := shard.CurrentAndNextWindows(schema.TimeInterval, s.now())
		physical := schema.TableName + shard.FormatSuffix(schema.TimeFormat, schema.TimeInterval, next)

		for _, t := range tenants {
			db, err := s.conns.GetConnection(ctx, t, schema.DatabaseType)
			if err != nil {
				s.logger.Error("shard pre-creation: open connection failed", "tenant_id", t.ID, "table", physical, "error", err)
				continue
			}
			// Reconcile is idempotent: it only issues CREATE TABLE when the
			// physical name does not exist yet, so a late pre-creation run
			// racing the boundary never double-creates (property P3).
			result := reconcile.Reconcile(ctx, db, physical, schema.SchemaDefinition)
			if result.Fatal != nil {
				s.logger.Error("shard pre-creation: create failed", "tenant_id", t.ID, "table", physical, "error", result.Fatal)
				continue
			}
			created++
		}
	}
	s.logger.Info("shard pre-creation complete", "shards_created", created)
	s.recordRun(jobShardPreCreation, true)
}

// runRetentionCleanup drops time-shard physical tables that have aged
// past their interval's retention window. Only database_type=log schemas
// are swept, per the retention-scope decision recorded in DESIGN.md: logs
// are append-only event streams safe to prune on a schedule, while order
// and static tables are never subject to automatic deletion.
func (s *Scheduler) runRetentionCleanup() {
	if !s.cleanupRunning.CompareAndSwap(false, true) {
		s.logger.Warn("retention cleanup skipped: previous run still in flight")
		return
	}
	defer s.cleanupRunning.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	schemas, err := s.store.ListAllActive(ctx, catalog.ListSchemasParams{DatabaseType: catalog.DatabaseLog, PartitionType: catalog.PartitionTime})
	if err != nil {
		s.logger.Error("retention cleanup: list active time-sharded log schemas failed", "error", err)
		s.recordRun(jobRetentionCleanup, false)
		return
	}

	tenants, err := s.tenants.ListNormalTenants(ctx)
	if err != nil {
		s.logger.Error("retention cleanup: list tenants failed", "error", err)
		s.recordRun(jobRetentionCleanup, false)
		return
	}

	dropped := 0
	for _, schema := range schemas {
		keep := s.retain.keepFor(schema.TimeInterval)
		if keep <= 0 {
			continue
		}
		cutoff := retentionCutoff(schema.TimeInterval, s.now(), keep)

		for _, t := range tenants {
			db, err := s.conns.GetConnection(ctx, t, schema.DatabaseType)
			if err != nil {
				s.logger.Error("retention cleanup: open connection failed", "tenant_id", t.ID, "error", err)
				continue
			}
			names, err := listShardTables(ctx, db, schema.TableName)
			if err != nil {
				s.logger.Error("retention cleanup: list shard tables failed", "tenant_id", t.ID, "table", schema.TableName, "error", err)
				continue
			}
			for _, physical := range names {
				at, ok := shard.ParseSuffixDate(physical, schema.TableName, schema.TimeFormat, schema.TimeInterval)
				if !ok || !at.Before(cutoff) {
					continue
				}
				if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS `"+escapeIdent(physical)+"`"); err != nil {
					s.logger.Error("retention cleanup: drop failed", "tenant_id", t.ID, "table", physical, "error", err)
					continue
				}
				dropped++
			}
		}
	}
	s.logger.Info("retention cleanup complete", "shards_dropped", dropped)
	s.recordRun(jobRetentionCleanup, true)
}

// recordRun reports one completed job run to Prometheus, if a metrics
// dependency is attached.
func (s *Scheduler) recordRun(job string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordSchedulerRun(job, success, s.now())
	}
}

// retentionCutoff returns the window-start instant before which a shard
// is eligible for deletion: `keep` full windows back from the current one.
// Boundary note: this is a strict `keep`-window cutoff, so a shard exactly
// `keep` windows old is retained and one older is dropped — spec scenario 4
// and the §4.9 prose disagree by one day at this edge; this follows §4.9.
func retentionCutoff(interval catalog.TimeInterval, now time.Time, keep int) time.Time {
	current, _ := shard.CurrentAndNextWindows(interval, now)
	switch interval {
	case catalog.IntervalDay:
		return current.AddDate(0, 0, -keep)
	case catalog.IntervalMonth:
		return current.AddDate(0, -keep, 0)
	case catalog.IntervalYear:
		return current.AddDate(-keep, 0, 0)
	default:
		return current
	}
}

func listShardTables(ctx context.Context, db *sql.DB, baseName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME LIKE ?`, baseName+"\\_%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func escapeIdent(ident string) string {
	out := make([]byte, 0, len(ident))
	for i := 0; i < len(ident); i++ {
		if ident[i] == '`' {
			out = append(out, '`', '`')
			continue
		}
		out = append(out, ident[i])
	}
	return string(out)
}
