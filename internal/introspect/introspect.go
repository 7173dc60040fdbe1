// Package introspect implements the SQL Introspector (C4): reading live
// column and index metadata from a tenant database via INFORMATION_SCHEMA.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// LiveColumn is one column as it actually exists in a physical table.
type LiveColumn struct {
	Name          string
	DataType      string
	ColumnType    string // full COLUMN_TYPE, e.g. "enum('a','b')" or "varchar(100)"
	Length        *int64
	Precision     *int64
	Scale         *int64
	Nullable      bool
	Default       *string
	KeyRole       string // PRI, UNI, MUL or ""
	Extra         string // e.g. "auto_increment"
	Comment       string
}

// AutoIncrement reports whether the "auto_increment" flag appears in Extra.
func (c LiveColumn) AutoIncrement() bool {
	return strings.Contains(c.Extra, "auto_increment")
}

// LiveIndex is one secondary index (or the PRIMARY pseudo-index) as it
// exists in a physical table, with columns preserved in their defined
// order.
type LiveIndex struct {
	Name    string
	Columns []string
	Unique  bool
}

// Introspector reads INFORMATION_SCHEMA for a given connection.
type Introspector struct {
	db *sql.DB
}

func New(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

// Exists reports whether a physical table exists, using SHOW TABLES as the
// primary check and a direct SELECT as fallback (spec §4.4).
func (i *Introspector) Exists(ctx context.Context, name string) (bool, error) {
	rows, err := i.db.QueryContext(ctx, "SHOW TABLES LIKE ?", name)
	if err != nil {
		return i.existsFallback(ctx, name)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var got string
		if err := rows.Scan(&got); err != nil {
			return i.existsFallback(ctx, name)
		}
		if got == name {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return i.existsFallback(ctx, name)
	}
	return found, nil
}

func (i *Introspector) existsFallback(ctx context.Context, name string) (bool, error) {
	_, err := i.db.ExecContext(ctx, fmt.Sprintf("SELECT 1 FROM `%s` LIMIT 1", escapeIdent(name)))
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Columns returns live columns ordered by ORDINAL_POSITION.
func (i *Introspector) Columns(ctx context.Context, name string) ([]LiveColumn, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, CHARACTER_MAXIMUM_LENGTH,
		       NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE, COLUMN_DEFAULT,
		       COLUMN_KEY, EXTRA, COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, name)
	if err != nil {
		return nil, fmt.Errorf("read INFORMATION_SCHEMA.COLUMNS: %w", err)
	}
	defer rows.Close()

	var out []LiveColumn
	for rows.Next() {
		var c LiveColumn
		var nullable string
		var length, precision, scale sql.NullInt64
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.DataType, &c.ColumnType, &length, &precision, &scale, &nullable, &def, &c.KeyRole, &c.Extra, &c.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Nullable = nullable == "YES"
		if length.Valid {
			v := length.Int64
			c.Length = &v
		}
		if precision.Valid {
			v := precision.Int64
			c.Precision = &v
		}
		if scale.Valid {
			v := scale.Int64
			c.Scale = &v
		}
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Indexes returns live indexes (including PRIMARY) grouped by name with
// columns preserved in SEQ_IN_INDEX order.
func (i *Introspector) Indexes(ctx context.Context, name string) ([]LiveIndex, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, SEQ_IN_INDEX, NON_UNIQUE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, name)
	if err != nil {
		return nil, fmt.Errorf("read INFORMATION_SCHEMA.STATISTICS: %w", err)
	}
	defer rows.Close()

	type entry struct {
		cols    []string
		nonUniq int
	}
	order := []string{}
	byName := map[string]*entry{}
	for rows.Next() {
		var idxName, colName string
		var seq, nonUnique int
		if err := rows.Scan(&idxName, &colName, &seq, &nonUnique); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		e, ok := byName[idxName]
		if !ok {
			e = &entry{}
			byName[idxName] = e
			order = append(order, idxName)
		}
		e.cols = append(e.cols, colName)
		e.nonUniq = nonUnique
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]LiveIndex, 0, len(order))
	for _, name := range order {
		e := byName[name]
		out = append(out, LiveIndex{Name: name, Columns: e.cols, Unique: e.nonUniq == 0})
	}
	return out, nil
}

// ShowCreate is a diagnostic fallback returning the table's CREATE TABLE
// statement.
func (i *Introspector) ShowCreate(ctx context.Context, name string) (string, error) {
	var tbl, ddl string
	err := i.db.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`", escapeIdent(name))).Scan(&tbl, &ddl)
	if err != nil {
		return "", fmt.Errorf("show create table: %w", err)
	}
	return ddl, nil
}

func escapeIdent(ident string) string {
	return strings.ReplaceAll(ident, "`", "``")
}

// ParseEnumValues parses a MySQL COLUMN_TYPE string like
// enum('a','b','c''c') into ["a","b","c'c"], honoring doubled-quote
// escaping (spec §4.4).
func ParseEnumValues(columnType string) []string {
	open := strings.Index(columnType, "(")
	close := strings.LastIndex(columnType, ")")
	if open < 0 || close < 0 || close <= open {
		return nil
	}
	body := columnType[open+1 : close]

	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if !inQuote {
			if ch == '\'' {
				inQuote = true
				continue
			}
			continue // skip commas/whitespace between literals
		}
		if ch == '\'' {
			if i+1 < len(body) && body[i+1] == '\'' {
				cur.WriteByte('\'')
				i++
				continue
			}
			inQuote = false
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(ch)
	}
	return out
}

// SortIndexNames is a small helper used by tests to get deterministic
// comparisons over a LiveIndex slice.
func SortIndexNames(idx []LiveIndex) []string {
	names := make([]string, 0, len(idx))
	for _, i := range idx {
		names = append(names, i.Name)
	}
	sort.Strings(names)
	return names
}
