// Package validate checks an incoming schema_definition payload against
// a fixed JSON Schema before it reaches catalog.Store.PutNewVersion,
// giving the concrete shape of spec §7's ValidationError for malformed
// column/index definitions.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tableDefinitionSchema mirrors catalog.TableDefinition's shape: either
// a DROP action with just a name, or a full column/index definition.
const tableDefinitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tableName"],
  "properties": {
    "tableName": {"type": "string", "minLength": 1},
    "action": {"type": "string", "enum": ["CREATE", "DROP"]},
    "columns": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "length": {"type": "integer", "minimum": 0},
          "precision": {"type": "integer", "minimum": 0},
          "scale": {"type": "integer", "minimum": 0},
          "allowNull": {"type": ["boolean", "null"]},
          "defaultValue": {"type": ["string", "null"]},
          "autoIncrement": {"type": "boolean"},
          "primaryKey": {"type": "boolean"},
          "unique": {"type": "boolean"},
          "comment": {"type": "string"},
          "values": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "indexes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "fields"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "fields": {"type": "array", "minItems": 1, "items": {"type": "string"}},
          "unique": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiled *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource("table_definition.json", strings.NewReader(tableDefinitionSchema)); err != nil {
		panic(fmt.Sprintf("validate: failed to add table_definition.json resource: %v", err))
	}
	sch, err := c.Compile("table_definition.json")
	if err != nil {
		panic(fmt.Sprintf("validate: failed to compile table_definition.json: %v", err))
	}
	compiled = sch
}

// TableDefinition validates a raw schema_definition JSON payload,
// returning a ValidationError-shaped error listing every violation when
// the payload does not conform.
func TableDefinition(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("schema_definition is not valid JSON: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("schema_definition failed validation: %w", err)
	}
	return nil
}
