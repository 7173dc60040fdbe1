// Package shard implements the Shard Expander (C6): resolving a logical
// TableSchema plus a tenant into the concrete list of physical table names.
// Expansion is deterministic given its inputs and never opens DDL
// connections — it only reads store metadata via the tenant Connection
// Registry (spec §4.6).
package shard

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// StoreDirectoryConfig names the tenant-level store catalog table used for
// partition_type=store enumeration. Spec §9 explicitly leaves the exact
// table/column heuristic undefined in the source and instructs treating it
// as configuration rather than reproducing a name-guessing heuristic.
type StoreDirectoryConfig struct {
	TableName       string // e.g. "stores"
	IDColumn        string // e.g. "store_id"
	ActivePredicate string // a full boolean SQL expression, e.g. "status = 'active'"
}

// DefaultStoreDirectoryConfig is a reasonable default a deployment can
// override per spec §9's configuration guidance.
func DefaultStoreDirectoryConfig() StoreDirectoryConfig {
	return StoreDirectoryConfig{
		TableName:       "stores",
		IDColumn:        "store_id",
		ActivePredicate: "status = 'active'",
	}
}

// Window is a [start, end) time-shard window boundary.
type Window struct {
	Start time.Time
	End   time.Time
}

// Expander resolves TableSchema + tenant into physical table names.
type Expander struct {
	storeCfg StoreDirectoryConfig
}

func New(storeCfg StoreDirectoryConfig) *Expander {
	return &Expander{storeCfg: storeCfg}
}

// ExpandNone returns the single physical name for an unsharded table.
func ExpandNone(tableName string) []string {
	return []string{tableName}
}

// ExpandStore queries the tenant's main DB for the configured store
// directory table and returns "<table>_<store_id>" per active store.
func (e *Expander) ExpandStore(ctx context.Context, mainDB *sql.DB, tableName string) ([]string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		quoteIdent(e.storeCfg.IDColumn), quoteIdent(e.storeCfg.TableName), e.storeCfg.ActivePredicate)
	rows, err := mainDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read store directory %s: %w", e.storeCfg.TableName, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan store id: %w", err)
		}
		out = append(out, tableName+"_"+id)
	}
	return out, rows.Err()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// FormatSuffix renders a time-shard suffix from a TableSchema's
// time_format (or the interval's default format) and a window start, via
// YYYY/MM/DD token substitution (spec §4.6).
func FormatSuffix(format string, interval catalog.TimeInterval, at time.Time) string {
	if format == "" {
		format = interval.DefaultTimeFormat()
	}
	r := strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", at.Year()),
		"MM", fmt.Sprintf("%02d", int(at.Month())),
		"DD", fmt.Sprintf("%02d", at.Day()),
	)
	return r.Replace(format)
}

// CurrentAndNextWindows returns the "current" and "next" window start
// instants for an interval, anchored at `now` (spec §4.9 / B3). Both
// windows are normalized to the start of their period.
func CurrentAndNextWindows(interval catalog.TimeInterval, now time.Time) (current, next time.Time) {
	now = now.UTC()
	switch interval {
	case catalog.IntervalDay:
		current = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		next = current.AddDate(0, 0, 1)
	case catalog.IntervalMonth:
		current = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		next = current.AddDate(0, 1, 0)
	case catalog.IntervalYear:
		current = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		next = current.AddDate(1, 0, 0)
	}
	return
}

// ExpandTime returns the physical names for every window start in the
// supplied range (the orchestrator supplies the range; the scheduler uses
// CurrentAndNextWindows for its daily pre-creation pass).
func ExpandTime(tableName, format string, interval catalog.TimeInterval, windows []time.Time) []string {
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		out = append(out, tableName+FormatSuffix(format, interval, w))
	}
	return out
}

// ParseSuffixDate recovers the window start a physical shard name encodes,
// given the base table name, format, and interval — used by the retention
// job to determine a shard's age (spec §4.9 scenario 4).
func ParseSuffixDate(physical, tableName, format string, interval catalog.TimeInterval) (time.Time, bool) {
	if format == "" {
		format = interval.DefaultTimeFormat()
	}
	suffix := strings.TrimPrefix(physical, tableName)
	if suffix == physical {
		return time.Time{}, false
	}

	// Build a position map: for each token in format, record its offset and
	// width so the corresponding digits can be sliced out of suffix.
	type slot struct {
		token string
		pos   int
	}
	var slots []slot
	for i := 0; i < len(format); {
		switch {
		case strings.HasPrefix(format[i:], "YYYY"):
			slots = append(slots, slot{"YYYY", i})
			i += 4
		case strings.HasPrefix(format[i:], "MM"):
			slots = append(slots, slot{"MM", i})
			i += 2
		case strings.HasPrefix(format[i:], "DD"):
			slots = append(slots, slot{"DD", i})
			i += 2
		default:
			i++
		}
	}

	year, month, day := 1970, 1, 1
	for _, s := range slots {
		width := len(s.token)
		if s.pos+width > len(suffix) {
			return time.Time{}, false
		}
		digits := suffix[s.pos : s.pos+width]
		n, err := strconv.Atoi(digits)
		if err != nil {
			return time.Time{}, false
		}
		switch s.token {
		case "YYYY":
			year = n
		case "MM":
			month = n
		case "DD":
			day = n
		}
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
