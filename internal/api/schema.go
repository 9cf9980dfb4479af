package api

import "github.com/xeipuuv/gojsonschema"

const submitJobSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["prompt"],
  "additionalProperties": false,
  "properties": {
    "prompt": {
      "type": "string",
      "minLength": 1,
      "pattern": "\\S"
    },
    "config": {
      "type": "object"
    }
  }
}`

// SubmitJobSchemaLoader validates POST /jobs bodies.
func SubmitJobSchemaLoader() gojsonschema.JSONLoader {
	return gojsonschema.NewStringLoader(submitJobSchema)
}
