// Package reconcile implements the Reconciliation Engine (C5): given a
// target catalog.TableDefinition and a physical table name, it creates or
// alters that table to match, via a typed DDL emitter (ddl.go) rather than
// ad-hoc string splicing (spec §9 "Replacing dynamic SQL assembly").
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/introspect"
)

// Statement is one emitted DDL statement and its outcome.
type Statement struct {
	MigrationType catalog.MigrationType
	SQL           string
	Status        catalog.ExecutionStatus
	ErrorMessage  string
	DurationMs    int64
}

// Result is the per-table batch report: every DDL attempted, and whether
// the reconcile as a whole succeeded (false only on a FatalSqlError —
// individual TransientSqlErrors are collected, not fatal; spec §4.5).
type Result struct {
	Statements []Statement
	Fatal      error
}

// FailedSQLs returns the statements that did not succeed, for the
// orchestrator's aggregated failure report (§4.8).
func (r Result) FailedSQLs() []Statement {
	var out []Statement
	for _, s := range r.Statements {
		if s.Status != catalog.StatusSuccess {
			out = append(out, s)
		}
	}
	return out
}

// Reconcile makes physical match target, per the state machine in spec
// §4.5: DROP action -> drop table; absent -> single CREATE; present ->
// four ordered phases (drop columns, add columns, modify columns, sync
// indexes).
func Reconcile(ctx context.Context, db *sql.DB, physical string, target catalog.TableDefinition) Result {
	insp := introspect.New(db)

	if target.IsDrop() {
		stmt := run(ctx, db, catalog.MigrationDrop, emitDropTable(physical))
		return Result{Statements: []Statement{stmt}}
	}

	exists, err := insp.Exists(ctx, physical)
	if err != nil {
		return Result{Fatal: fmt.Errorf("introspect existence of %s: %w", physical, err)}
	}

	if !exists {
		stmt := run(ctx, db, catalog.MigrationCreate, emitCreateTable(physical, target))
		return Result{Statements: []Statement{stmt}}
	}

	liveCols, err := insp.Columns(ctx, physical)
	if err != nil {
		return Result{Fatal: fmt.Errorf("introspect columns of %s: %w", physical, err)}
	}
	liveIdx, err := insp.Indexes(ctx, physical)
	if err != nil {
		return Result{Fatal: fmt.Errorf("introspect indexes of %s: %w", physical, err)}
	}

	var stmts []Statement
	stmts = append(stmts, phaseDropColumns(ctx, db, physical, target, liveCols)...)
	stmts = append(stmts, phaseAddColumns(ctx, db, physical, target, liveCols)...)
	stmts = append(stmts, phaseModifyColumns(ctx, db, physical, target, liveCols)...)
	stmts = append(stmts, phaseSyncIndexes(ctx, db, physical, target, liveIdx)...)

	return Result{Statements: stmts}
}

func run(ctx context.Context, db *sql.DB, mtype catalog.MigrationType, sql_ string) Statement {
	start := time.Now()
	_, err := db.ExecContext(ctx, sql_)
	elapsed := time.Since(start).Milliseconds()
	stmt := Statement{MigrationType: mtype, SQL: sql_, DurationMs: elapsed, Status: catalog.StatusSuccess}
	if err != nil {
		stmt.Status = catalog.StatusFailed
		stmt.ErrorMessage = err.Error()
	}
	return stmt
}

// runTolerant runs a DDL statement, treating a specific "already handled"
// MySQL error as success (duplicate column / duplicate index).
func runTolerant(ctx context.Context, db *sql.DB, mtype catalog.MigrationType, sql_ string, tolerate func(error) bool) Statement {
	start := time.Now()
	_, err := db.ExecContext(ctx, sql_)
	elapsed := time.Since(start).Milliseconds()
	stmt := Statement{MigrationType: mtype, SQL: sql_, DurationMs: elapsed, Status: catalog.StatusSuccess}
	if err != nil {
		if tolerate(err) {
			return stmt
		}
		stmt.Status = catalog.StatusFailed
		stmt.ErrorMessage = err.Error()
	}
	return stmt
}

// phaseDropColumns emits DROP COLUMN for every live column absent from
// target, except primary-key columns, which are never auto-dropped (spec
// §4.5 Phase A, boundary B1).
func phaseDropColumns(ctx context.Context, db *sql.DB, physical string, target catalog.TableDefinition, live []introspect.LiveColumn) []Statement {
	targetCols := make(map[string]bool, len(target.Columns))
	for _, c := range target.Columns {
		targetCols[c.Name] = true
	}

	var stmts []Statement
	for _, lc := range live {
		if targetCols[lc.Name] {
			continue
		}
		if lc.KeyRole == "PRI" {
			continue
		}
		stmts = append(stmts, run(ctx, db, catalog.MigrationAlter, emitDropColumn(physical, lc.Name)))
	}
	return stmts
}

// phaseAddColumns emits ADD COLUMN for every target column absent from
// live (spec §4.5 Phase B). A duplicate-column error is treated as
// success.
func phaseAddColumns(ctx context.Context, db *sql.DB, physical string, target catalog.TableDefinition, live []introspect.LiveColumn) []Statement {
	liveCols := make(map[string]bool, len(live))
	for _, lc := range live {
		liveCols[lc.Name] = true
	}

	var stmts []Statement
	for _, c := range target.Columns {
		if liveCols[c.Name] {
			continue
		}
		stmts = append(stmts, runTolerant(ctx, db, catalog.MigrationAlter, emitAddColumn(physical, c), isDuplicateColumnError))
	}
	return stmts
}

// phaseModifyColumns emits MODIFY COLUMN for columns present in both live
// and target whose attributes differ under the normalization rules of
// spec §4.5 Phase C.
func phaseModifyColumns(ctx context.Context, db *sql.DB, physical string, target catalog.TableDefinition, live []introspect.LiveColumn) []Statement {
	liveByName := make(map[string]introspect.LiveColumn, len(live))
	for _, lc := range live {
		liveByName[lc.Name] = lc
	}

	var stmts []Statement
	for _, c := range target.Columns {
		lc, ok := liveByName[c.Name]
		if !ok {
			continue
		}
		if columnChanged(lc, c) {
			stmts = append(stmts, run(ctx, db, catalog.MigrationAlter, emitModifyColumn(physical, c)))
		}
	}
	return stmts
}

// columnChanged applies the Phase C comparison rules.
func columnChanged(lc introspect.LiveColumn, c catalog.Column) bool {
	if normalizeType(lc.DataType) != normalizeType(c.Type) {
		return true
	}
	// B2: nullable transitioning true -> false is a change even with the
	// type unchanged.
	if lc.Nullable != c.NullAllowed() {
		return true
	}
	if c.DefaultValue != nil {
		live := ""
		if lc.Default != nil {
			live = strings.TrimSpace(*lc.Default)
		}
		if live != strings.TrimSpace(*c.DefaultValue) {
			return true
		}
	}
	liveComment := strings.TrimSpace(lc.Comment)
	targetComment := strings.TrimSpace(c.Comment)
	if liveComment != targetComment {
		return true
	}

	base := normalizeType(c.Type)
	if base == "ENUM" || base == "SET" {
		liveValues := introspect.ParseEnumValues(lc.ColumnType)
		if !stringsEqual(liveValues, c.Values) {
			return true
		}
	}
	if base == "DECIMAL" || base == "NUMERIC" {
		if lc.Precision != nil && int64(c.Precision) != *lc.Precision {
			return true
		}
		if lc.Scale != nil && int64(c.Scale) != *lc.Scale {
			return true
		}
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// phaseSyncIndexes enumerates live indexes (excluding PRIMARY), dropping
// ones absent from target and creating target ones absent live. Single-
// column uniqueness already represented by a column's unique attribute is
// deduplicated before emission (spec §4.5 Phase D).
func phaseSyncIndexes(ctx context.Context, db *sql.DB, physical string, target catalog.TableDefinition, live []introspect.LiveIndex) []Statement {
	targetIdx := dedupeIndexes(target)
	targetByName := make(map[string]catalog.Index, len(targetIdx))
	for _, idx := range targetIdx {
		targetByName[idx.Name] = idx
	}

	var stmts []Statement
	for _, li := range live {
		if li.Name == "PRIMARY" {
			continue
		}
		if _, ok := targetByName[li.Name]; !ok {
			stmts = append(stmts, runTolerant(ctx, db, catalog.MigrationIndex, emitDropIndex(physical, li.Name), func(error) bool { return false }))
		}
	}

	liveByName := make(map[string]bool, len(live))
	for _, li := range live {
		liveByName[li.Name] = true
	}
	for _, idx := range targetIdx {
		if liveByName[idx.Name] {
			continue
		}
		stmts = append(stmts, runTolerant(ctx, db, catalog.MigrationIndex, emitCreateIndex(physical, idx), isDuplicateIndexError))
	}
	return stmts
}

// HasDrift reports whether a live table's columns/indexes differ from
// target under the same comparison rules Phases A-D use, without issuing
// any DDL. Used by the Drift Detector (C7) to decide whether to propose a
// new catalog version for an Existing baseline table (spec §4.7 step 5,
// property P4/P5).
func HasDrift(live []introspect.LiveColumn, liveIdx []introspect.LiveIndex, target catalog.TableDefinition) bool {
	liveByName := make(map[string]introspect.LiveColumn, len(live))
	for _, lc := range live {
		liveByName[lc.Name] = lc
	}
	targetByName := make(map[string]catalog.Column, len(target.Columns))
	for _, c := range target.Columns {
		targetByName[c.Name] = c
	}

	for name := range targetByName {
		if _, ok := liveByName[name]; !ok {
			return true // a target column is missing live
		}
	}
	for _, lc := range live {
		if lc.KeyRole == "PRI" {
			if _, ok := targetByName[lc.Name]; !ok {
				continue // primary-key columns are never auto-dropped
			}
		} else if _, ok := targetByName[lc.Name]; !ok {
			return true // a live column would be dropped
		}
	}
	for _, c := range target.Columns {
		lc, ok := liveByName[c.Name]
		if !ok {
			continue
		}
		if columnChanged(lc, c) {
			return true
		}
	}

	targetIdx := dedupeIndexes(target)
	targetIdxByName := make(map[string]bool, len(targetIdx))
	for _, idx := range targetIdx {
		targetIdxByName[idx.Name] = true
	}
	liveIdxByName := make(map[string]bool, len(liveIdx))
	for _, li := range liveIdx {
		if li.Name == "PRIMARY" {
			continue
		}
		liveIdxByName[li.Name] = true
		if !targetIdxByName[li.Name] {
			return true
		}
	}
	for name := range targetIdxByName {
		if !liveIdxByName[name] {
			return true
		}
	}
	return false
}

// SynthesizeDefinition builds a TableDefinition from live introspection
// data, for the Drift Detector's "New" baseline table path (spec §4.7
// step 3) and for round-trip property R1.
func SynthesizeDefinition(tableName string, live []introspect.LiveColumn, liveIdx []introspect.LiveIndex) catalog.TableDefinition {
	def := catalog.TableDefinition{TableName: tableName}
	for _, lc := range live {
		col := catalog.Column{
			Name:          lc.Name,
			Type:          normalizeType(lc.DataType),
			PrimaryKey:    lc.KeyRole == "PRI",
			AutoIncrement: lc.AutoIncrement(),
			Comment:       lc.Comment,
		}
		allowNull := lc.Nullable
		col.AllowNull = &allowNull
		if lc.Default != nil {
			v := *lc.Default
			col.DefaultValue = &v
		}
		if lc.Length != nil {
			col.Length = int(*lc.Length)
		}
		if lc.Precision != nil {
			col.Precision = int(*lc.Precision)
		}
		if lc.Scale != nil {
			col.Scale = int(*lc.Scale)
		}
		if normalizeType(lc.DataType) == "ENUM" || normalizeType(lc.DataType) == "SET" {
			col.Values = introspect.ParseEnumValues(lc.ColumnType)
		}
		if lc.KeyRole == "UNI" {
			col.Unique = true
		}
		def.Columns = append(def.Columns, col)
	}
	for _, li := range liveIdx {
		if li.Name == "PRIMARY" {
			continue
		}
		def.Indexes = append(def.Indexes, catalog.Index{Name: li.Name, Fields: li.Columns, Unique: li.Unique})
	}
	return def
}
