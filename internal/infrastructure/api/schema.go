package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// planSchemaJSON describes the minimum shape a plan snapshot must have
// before it is allowed to replace the working projection. The remote
// service owns build semantics; this only rejects documents that are not
// plans at all.
const planSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "build_id"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "build_id": { "type": "string", "minLength": 1 },
    "project_id": { "type": "string" },
    "status": { "type": "string" },
    "total_tasks": { "type": "integer", "minimum": 0 },
    "completed_tasks": { "type": "integer", "minimum": 0 },
    "failed_tasks": { "type": "integer", "minimum": 0 },
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "status": { "type": "string" }
        }
      }
    }
  }
}`

var planSchemaLoader = gojsonschema.NewStringLoader(planSchemaJSON)

// validatePlanDocument checks a raw snapshot payload against the plan
// schema. Returns the first validation issue, or nil when the document is
// acceptable.
func validatePlanDocument(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(planSchemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate plan snapshot: %w", err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			return fmt.Errorf("invalid plan snapshot: %s", desc)
		}
	}
	return nil
}
