// Package drift implements the Drift Detector (C7): introspecting a
// reference baseline database, diffing it against the catalog, and
// emitting proposed new TableSchema versions.
package drift

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/introspect"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
	"github.com/axonops/tenant-schema-engine/internal/reconcile"
	"github.com/axonops/tenant-schema-engine/internal/shard"
)

var routingSuffix = regexp.MustCompile(`@(log|order|static)$`)

// stripMarkers parses a baseline table name for the optional routing
// (@log|order|static) and partition (#store|#time_day|#time_month|
// #time_year) markers described in spec §4.7 step 2 / §6 "Baseline-table
// naming conventions", returning the clean logical name.
func stripMarkers(name string) (logical string, dbType catalog.DatabaseType, partType catalog.PartitionType, interval catalog.TimeInterval) {
	dbType = catalog.DatabaseMain
	partType = catalog.PartitionNone

	rest := name
	switch {
	case strings.HasSuffix(rest, "#store"):
		partType = catalog.PartitionStore
		rest = strings.TrimSuffix(rest, "#store")
	case strings.HasSuffix(rest, "#time_day"):
		partType, interval = catalog.PartitionTime, catalog.IntervalDay
		rest = strings.TrimSuffix(rest, "#time_day")
	case strings.HasSuffix(rest, "#time_month"):
		partType, interval = catalog.PartitionTime, catalog.IntervalMonth
		rest = strings.TrimSuffix(rest, "#time_month")
	case strings.HasSuffix(rest, "#time_year"):
		partType, interval = catalog.PartitionTime, catalog.IntervalYear
		rest = strings.TrimSuffix(rest, "#time_year")
	}

	if m := routingSuffix.FindStringSubmatch(rest); m != nil {
		dbType = catalog.DatabaseType(m[1])
		rest = strings.TrimSuffix(rest, "@"+m[1])
	}

	logical = rest
	return
}

// Proposal is one batch entry: either a newly synthesized TableSchema at
// 1.0.0, a superseding version for an Existing table whose structure
// drifted, or a DROP tombstone for a catalog entry with no matching
// baseline table.
type Proposal struct {
	Schema catalog.TableSchema
	Reason string
}

// Detector runs the baseline-vs-catalog diff.
type Detector struct {
	baseline *sql.DB
	catalog  catalog.Store
	metrics  *metrics.Metrics
}

func New(baseline *sql.DB, store catalog.Store) *Detector {
	return &Detector{baseline: baseline, catalog: store}
}

// SetMetrics attaches the Prometheus counter for emitted proposals.
// Unset, the detector runs without a metrics dependency.
func (d *Detector) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

func (d *Detector) recordProposal(reason string) {
	if d.metrics != nil {
		d.metrics.RecordDriftProposal(reason)
	}
}

// DetectAll runs the full workflow of spec §4.7 over every active catalog
// entry and every baseline base table.
func (d *Detector) DetectAll(ctx context.Context, nowTimestamp string) ([]Proposal, error) {
	baselineTables, err := d.listBaseTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baseline tables: %w", err)
	}

	active, err := d.catalog.ListAllActive(ctx, catalog.ListSchemasParams{})
	if err != nil {
		return nil, fmt.Errorf("list active catalog entries: %w", err)
	}

	var proposals []Proposal

	matched := make(map[int]bool) // index into active, by logical key
	for _, physical := range baselineTables {
		logical, dbType, partType, interval := stripMarkers(physical)

		idx := findCatalogMatch(active, logical, dbType, partType)
		if idx < 0 {
			// A store-shard or time-shard physical instance (e.g. "orders_1001")
			// never carries a marker of its own; it matches a declared base
			// table's shard regex instead of the direct (name, db_role,
			// partition_type) key (spec §4.7 step 3).
			idx = findShardMatch(active, physical)
		}
		if idx < 0 {
			p, err := d.proposeNew(ctx, physical, logical, dbType, partType, interval)
			if err != nil {
				return nil, err
			}
			proposals = append(proposals, p)
			d.recordProposal(p.Reason)
			continue
		}
		matched[idx] = true

		p, changed, err := d.proposeIfDrifted(ctx, physical, active[idx], nowTimestamp)
		if err != nil {
			return nil, err
		}
		if changed {
			proposals = append(proposals, p)
			d.recordProposal(p.Reason)
		}
	}

	for i, s := range active {
		if matched[i] {
			continue
		}
		if s.SchemaDefinition.IsDrop() {
			continue // already tombstoned, skip per spec §4.7 step 4
		}
		d.recordProposal("no matching baseline table")
		proposals = append(proposals, Proposal{
			Schema: catalog.TableSchema{
				TableName:     s.TableName,
				DatabaseType:  s.DatabaseType,
				PartitionType: s.PartitionType,
				TimeInterval:  s.TimeInterval,
				TimeFormat:    s.TimeFormat,
				SchemaVersion: catalog.NextPatch(s.SchemaVersion, nowTimestamp),
				SchemaDefinition: catalog.TableDefinition{
					TableName: s.TableName,
					Action:    catalog.ActionDrop,
				},
			},
			Reason: "no matching baseline table",
		})
	}

	return proposals, nil
}

func findCatalogMatch(active []catalog.TableSchema, logical string, dbType catalog.DatabaseType, partType catalog.PartitionType) int {
	for i, s := range active {
		if s.TableName == logical && s.DatabaseType == dbType && s.PartitionType == partType {
			return i
		}
	}
	return -1
}

// findShardMatch reports whether a raw (unstripped) baseline table name is
// a store-shard or time-shard physical instance of a declared sharded
// base (spec §4.7 step 3's "shard regex" clause).
func findShardMatch(active []catalog.TableSchema, physical string) int {
	for i, s := range active {
		switch s.PartitionType {
		case catalog.PartitionStore:
			prefix := s.TableName + "_"
			if strings.HasPrefix(physical, prefix) && len(physical) > len(prefix) {
				return i
			}
		case catalog.PartitionTime:
			if _, ok := shard.ParseSuffixDate(physical, s.TableName, s.TimeFormat, s.TimeInterval); ok {
				return i
			}
		}
	}
	return -1
}

func (d *Detector) listBaseTables(ctx context.Context) ([]string, error) {
	rows, err := d.baseline.QueryContext(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'`)
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

func (d *Detector) proposeNew(ctx context.Context, physical, logical string, dbType catalog.DatabaseType, partType catalog.PartitionType, interval catalog.TimeInterval) (Proposal, error) {
	insp := introspect.New(d.baseline)
	cols, err := insp.Columns(ctx, physical)
	if err != nil {
		return Proposal{}, fmt.Errorf("introspect new baseline table %s: %w", physical, err)
	}
	idx, err := insp.Indexes(ctx, physical)
	if err != nil {
		return Proposal{}, fmt.Errorf("introspect new baseline indexes %s: %w", physical, err)
	}

	def := reconcile.SynthesizeDefinition(logical, cols, idx)
	applyPrimaryKeyInference(&def, cols, logical)

	timeFormat := ""
	if partType == catalog.PartitionTime {
		timeFormat = interval.DefaultTimeFormat()
	}

	return Proposal{
		Schema: catalog.TableSchema{
			TableName:        logical,
			DatabaseType:     dbType,
			PartitionType:    partType,
			TimeInterval:     interval,
			TimeFormat:       timeFormat,
			SchemaVersion:    "1.0.0",
			SchemaDefinition: def,
		},
		Reason: "new baseline table",
	}, nil
}

func (d *Detector) proposeIfDrifted(ctx context.Context, physical string, active catalog.TableSchema, nowTimestamp string) (Proposal, bool, error) {
	insp := introspect.New(d.baseline)
	cols, err := insp.Columns(ctx, physical)
	if err != nil {
		return Proposal{}, false, fmt.Errorf("introspect existing baseline table %s: %w", physical, err)
	}
	idx, err := insp.Indexes(ctx, physical)
	if err != nil {
		return Proposal{}, false, fmt.Errorf("introspect existing baseline indexes %s: %w", physical, err)
	}

	if !reconcile.HasDrift(cols, idx, active.SchemaDefinition) {
		return Proposal{}, false, nil
	}

	def := reconcile.SynthesizeDefinition(active.TableName, cols, idx)
	applyPrimaryKeyInference(&def, cols, active.TableName)

	next := active
	next.SchemaVersion = catalog.NextPatch(active.SchemaVersion, nowTimestamp)
	next.SchemaDefinition = def

	return Proposal{Schema: next, Reason: "structural drift detected"}, true, nil
}

// applyPrimaryKeyInference implements spec §4.7's primary-key inference
// for new tables: prefer "<base>_id" auto-increment integer; else the
// sole auto-increment integer column; else a single PRI-keyed integer
// column whose name contains "id"; else leave whatever PRI columns the
// source had.
func applyPrimaryKeyInference(def *catalog.TableDefinition, live []introspect.LiveColumn, baseName string) {
	preferredName := baseName + "_id"
	if idx := integerColIndex(def.Columns, func(c catalog.Column) bool {
		return c.Name == preferredName && c.AutoIncrement && isIntegerType(c.Type)
	}); idx >= 0 {
		markOnlyPrimary(def, idx)
		return
	}

	autoIncCols := []int{}
	for i, c := range def.Columns {
		if c.AutoIncrement && isIntegerType(c.Type) {
			autoIncCols = append(autoIncCols, i)
		}
	}
	if len(autoIncCols) == 1 {
		markOnlyPrimary(def, autoIncCols[0])
		return
	}

	priCols := []int{}
	for i, c := range def.Columns {
		if c.PrimaryKey && isIntegerType(c.Type) && strings.Contains(strings.ToLower(c.Name), "id") {
			priCols = append(priCols, i)
		}
	}
	if len(priCols) == 1 {
		markOnlyPrimary(def, priCols[0])
		return
	}
	// Otherwise: leave whatever PRI columns the source had (already
	// reflected via LiveColumn.KeyRole == "PRI" in SynthesizeDefinition).
}

func integerColIndex(cols []catalog.Column, pred func(catalog.Column) bool) int {
	for i, c := range cols {
		if pred(c) {
			return i
		}
	}
	return -1
}

func isIntegerType(t string) bool {
	switch strings.ToUpper(t) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT":
		return true
	}
	return false
}

func markOnlyPrimary(def *catalog.TableDefinition, idx int) {
	for i := range def.Columns {
		def.Columns[i].PrimaryKey = i == idx
	}
}

// SaveDetectedChanges persists a batch of proposals through the catalog
// store (spec §4.7 "saveDetectedChanges(batch)").
func SaveDetectedChanges(ctx context.Context, store catalog.Store, proposals []Proposal) ([]catalog.TableSchema, error) {
	saved := make([]catalog.TableSchema, 0, len(proposals))
	for _, p := range proposals {
		s, err := store.PutNewVersion(ctx, p.Schema)
		if err != nil {
			return saved, fmt.Errorf("save detected change for %s: %w", p.Schema.TableName, err)
		}
		saved = append(saved, s)
	}
	return saved, nil
}

// Timestamp renders the current time as the fallback version suffix used
// by catalog.NextPatch when a version is not standard semver.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
