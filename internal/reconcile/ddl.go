package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// lengthSuppressed types are emitted without a (length) clause (spec
// §4.5 "Length suppression").
var lengthSuppressed = map[string]bool{
	"TINYBLOB": true, "BLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
	"TINYTEXT": true, "TEXT": true, "MEDIUMTEXT": true, "LONGTEXT": true,
	"JSON": true, "GEOMETRY": true, "POINT": true, "LINESTRING": true, "POLYGON": true,
	"MULTIPOINT": true, "MULTILINESTRING": true, "MULTIPOLYGON": true, "GEOMETRYCOLLECTION": true,
	"DATE": true, "TIME": true, "DATETIME": true, "TIMESTAMP": true, "YEAR": true,
	"ENUM": true, "SET": true,
}

const (
	sentinelCurrentTimestamp         = "CURRENT_TIMESTAMP"
	sentinelCurrentTimestampOnUpdate = "CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP"
)

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// normalizeType upper-cases and strips any parenthesized length/precision
// suffix, for type comparison in Phase C (spec §4.5).
func normalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if i := strings.Index(t, "("); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// typeClause renders a column's data type including any length/precision
// clause, honoring the length-suppression set and enum value lists.
func typeClause(c catalog.Column) string {
	base := normalizeType(c.Type)

	if base == "ENUM" || base == "SET" {
		quoted := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			quoted = append(quoted, quoteLiteral(v))
		}
		return fmt.Sprintf("%s(%s)", base, strings.Join(quoted, ","))
	}
	if base == "DECIMAL" || base == "NUMERIC" {
		if c.Precision > 0 {
			if c.Scale > 0 {
				return fmt.Sprintf("%s(%d,%d)", base, c.Precision, c.Scale)
			}
			return fmt.Sprintf("%s(%d)", base, c.Precision)
		}
		return base
	}
	if lengthSuppressed[base] {
		return base
	}
	if c.Length > 0 {
		return fmt.Sprintf("%s(%d)", base, c.Length)
	}
	return base
}

// defaultClause renders "DEFAULT ..." for a column, recognizing the two
// timestamp sentinels (emitted unquoted) and string-escaping everything
// else.
func defaultClause(c catalog.Column) string {
	if c.DefaultValue == nil {
		return ""
	}
	v := *c.DefaultValue
	switch v {
	case sentinelCurrentTimestamp, sentinelCurrentTimestampOnUpdate:
		return "DEFAULT " + v
	default:
		return "DEFAULT " + quoteLiteral(v)
	}
}

// columnClause renders a full column definition for CREATE/ADD/MODIFY.
func columnClause(c catalog.Column) string {
	parts := []string{quoteIdent(c.Name), typeClause(c)}

	if !c.NullAllowed() {
		parts = append(parts, "NOT NULL")
	} else {
		parts = append(parts, "NULL")
	}

	if d := defaultClause(c); d != "" {
		parts = append(parts, d)
	}

	if c.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if c.Unique && !c.PrimaryKey {
		parts = append(parts, "UNIQUE")
	}
	if c.Comment != "" {
		parts = append(parts, "COMMENT "+quoteLiteral(c.Comment))
	}
	return strings.Join(parts, " ")
}

// emitCreateTable builds one CREATE TABLE statement containing every
// column and non-primary index (spec §4.5 step 2).
func emitCreateTable(physical string, def catalog.TableDefinition) string {
	var lines []string
	for _, c := range def.Columns {
		lines = append(lines, columnClause(c))
	}
	if pk := def.PrimaryKeyColumns(); len(pk) > 0 {
		quoted := make([]string, 0, len(pk))
		for _, n := range pk {
			quoted = append(quoted, quoteIdent(n))
		}
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	for _, idx := range dedupeIndexes(def) {
		lines = append(lines, indexClauseForCreate(idx))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
		quoteIdent(physical), strings.Join(lines, ",\n  "))
}

func indexClauseForCreate(idx catalog.Index) string {
	cols := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		cols = append(cols, quoteIdent(f))
	}
	kw := "KEY"
	if idx.Unique {
		kw = "UNIQUE KEY"
	}
	return fmt.Sprintf("%s %s (%s)", kw, quoteIdent(idx.Name), strings.Join(cols, ", "))
}

// dedupeIndexes drops any target index whose single field duplicates a
// column already marked unique=true (spec §4.5 / §4.7 dedup rule).
func dedupeIndexes(def catalog.TableDefinition) []catalog.Index {
	uniqueCols := map[string]bool{}
	for _, c := range def.Columns {
		if c.Unique {
			uniqueCols[c.Name] = true
		}
	}
	var out []catalog.Index
	for _, idx := range def.Indexes {
		if len(idx.Fields) == 1 && idx.Unique && uniqueCols[idx.Fields[0]] {
			continue
		}
		out = append(out, idx)
	}
	return out
}

func emitDropTable(physical string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(physical))
}

func emitAddColumn(physical string, c catalog.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(physical), columnClause(c))
}

func emitDropColumn(physical, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(physical), quoteIdent(column))
}

func emitModifyColumn(physical string, c catalog.Column) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", quoteIdent(physical), columnClause(c))
}

func emitCreateIndex(physical string, idx catalog.Index) string {
	kw := "INDEX"
	if idx.Unique {
		kw = "UNIQUE INDEX"
	}
	cols := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		cols = append(cols, quoteIdent(f))
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, quoteIdent(idx.Name), quoteIdent(physical), strings.Join(cols, ", "))
}

func emitDropIndex(physical, indexName string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", quoteIdent(indexName), quoteIdent(physical))
}

// isDuplicateColumnError reports a MySQL 1060 "duplicate column" error,
// treated as success per spec §4.5 Phase B.
func isDuplicateColumnError(err error) bool {
	return containsErrorCode(err, 1060)
}

// isDuplicateIndexError reports MySQL 1061 "duplicate key name", treated
// as success per spec §4.5 Phase D.
func isDuplicateIndexError(err error) bool {
	return containsErrorCode(err, 1061)
}

func containsErrorCode(err error, code uint16) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == code
	}
	return false
}
