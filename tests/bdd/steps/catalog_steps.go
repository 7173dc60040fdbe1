//go:build bdd

package steps

import (
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// boolColumns are the column-table fields that carry boolean semantics in
// catalog.Column; everything else passes through as a string (or, for
// "length"/"precision"/"scale", an int).
var boolColumns = map[string]bool{"primaryKey": true, "autoIncrement": true, "unique": true, "allowNull": true}
var intColumns = map[string]bool{"length": true, "precision": true, "scale": true}

func columnCellValue(field, raw string) interface{} {
	if raw == "" {
		return nil
	}
	if boolColumns[field] {
		return raw == "true"
	}
	if intColumns[field] {
		n, _ := strconv.Atoi(raw)
		return n
	}
	return raw
}

// RegisterCatalogSteps registers step definitions for the schema catalog
// CRUD surface (spec §8 scenario 1's catalog-level portion, plus I1/I2).
func RegisterCatalogSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the catalog is empty$`, func() error { return nil })

	ctx.Step(`^a new schema is submitted for table "([^"]*)" database "([^"]*)" partition "([^"]*)" version "([^"]*)" with columns:$`,
		func(table, dbType, partType, version string, cols *godog.Table) error {
			columns := []map[string]interface{}{}
			header := cols.Rows[0].Cells
			for _, row := range cols.Rows[1:] {
				col := map[string]interface{}{}
				for i, cell := range row.Cells {
					field := header[i].Value
					if v := columnCellValue(field, cell.Value); v != nil {
						col[field] = v
					}
				}
				columns = append(columns, col)
			}
			body := map[string]interface{}{
				"table_name":     table,
				"database_type":  dbType,
				"partition_type": partType,
				"schema_version": version,
				"schema_definition": map[string]interface{}{
					"tableName": table,
					"columns":   columns,
				},
			}
			return tc.POST("/schemas", body)
		})

	ctx.Step(`^the response status is (\d+)$`, func(want int) error {
		if tc.LastStatusCode != want {
			return fmt.Errorf("expected status %d, got %d: %s", want, tc.LastStatusCode, string(tc.LastBody))
		}
		return nil
	})

	ctx.Step(`^the active schema for table "([^"]*)" database "([^"]*)" partition "([^"]*)" has version "([^"]*)"$`,
		func(table, dbType, partType, version string) error {
			if err := tc.GET(fmt.Sprintf("/schemas/%s?database_type=%s&partition_type=%s", table, dbType, partType)); err != nil {
				return err
			}
			if tc.LastStatusCode != 200 {
				return fmt.Errorf("expected 200 fetching active schema, got %d: %s", tc.LastStatusCode, string(tc.LastBody))
			}
			got, _ := tc.LastJSON["SchemaVersion"].(string)
			if got != version {
				return fmt.Errorf("active schema_version = %q, want %q", got, version)
			}
			return nil
		})

	ctx.Step(`^the history for table "([^"]*)" database "([^"]*)" has (\d+) versions$`,
		func(table, dbType string, want int) error {
			if err := tc.GET(fmt.Sprintf("/schemas/%s/history?database_type=%s", table, dbType)); err != nil {
				return err
			}
			if tc.LastStatusCode != 200 {
				return fmt.Errorf("expected 200 fetching history, got %d: %s", tc.LastStatusCode, string(tc.LastBody))
			}
			if len(tc.LastJSONArray) != want {
				return fmt.Errorf("history length = %d, want %d", len(tc.LastJSONArray), want)
			}
			return nil
		})

	ctx.Step(`^table "([^"]*)" database "([^"]*)" partition "([^"]*)" is deleted$`,
		func(table, dbType, partType string) error {
			return tc.DELETE(fmt.Sprintf("/schemas/%s?database_type=%s&partition_type=%s", table, dbType, partType))
		})

	ctx.Step(`^no active schema exists for table "([^"]*)" database "([^"]*)" partition "([^"]*)"$`,
		func(table, dbType, partType string) error {
			if err := tc.GET(fmt.Sprintf("/schemas/%s?database_type=%s&partition_type=%s", table, dbType, partType)); err != nil {
				return err
			}
			if tc.LastStatusCode != 404 {
				return fmt.Errorf("expected 404 for deleted schema, got %d", tc.LastStatusCode)
			}
			return nil
		})
}
