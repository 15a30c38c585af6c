package rewrite

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	stageerr "github.com/docstage/docstage/internal/errors"
)

// documentSchema is the JSON Schema every uploaded document must satisfy in
// validating mode. It recurses through the document structure and constrains
// the field-value objects the rewriter operates on: "data" values are
// strings, "encoding" values come from the known set, and an encoding is
// meaningless without a data value beside it.
const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"$ref": "#/definitions/fieldObject",
	"definitions": {
		"value": {
			"anyOf": [
				{"type": ["string", "number", "boolean", "null"]},
				{"type": "array", "items": {"$ref": "#/definitions/value"}},
				{"$ref": "#/definitions/fieldObject"}
			]
		},
		"fieldObject": {
			"type": "object",
			"properties": {
				"data": {"type": "string"},
				"encoding": {
					"type": "string",
					"enum": ["utf8", "base64", "local_ref", "storage_ref"]
				}
			},
			"dependencies": {"encoding": ["data"]},
			"additionalProperties": {"$ref": "#/definitions/value"}
		}
	}
}`

// Validator checks uploaded documents against the document schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the embedded document schema. Compilation failure is
// a programming error surfaced at startup, not a request-time condition.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling document schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks one raw document against the schema and reports violations
// as invalid-document errors.
func (v *Validator) Validate(doc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return stageerr.ErrInvalidBatch.WithMessage("invalid document: %v", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return stageerr.ErrInvalidBatch.WithMessage("invalid document: %s", strings.Join(msgs, "; "))
}
