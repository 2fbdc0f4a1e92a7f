package operator

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchemaDoc is the JSON Schema for the Plan wire shape from §6,
// checked before planmodel.Parse's own DSL-level validation so a
// structurally malformed body fails fast with a schema-shaped error.
const planSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {"type": "string"},
    "tokens": {"type": "integer", "minimum": 0},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["op"],
        "properties": {
          "op": {"type": "string", "enum": ["Fetch", "WriteFile", "Run"]}
        }
      }
    }
  }
}`

func compilePlanSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", strings.NewReader(planSchemaDoc)); err != nil {
		return nil, err
	}
	return compiler.Compile("plan.json")
}
