package archive

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const manifestSchema = `{
  "type": "object",
  "required": ["format", "version", "templates"],
  "properties": {
    "format": {"const": "certly-archive"},
    "version": {"type": "integer", "minimum": 1, "maximum": 1},
    "templates": {
      "type": "array",
      "items": {"type": "string", "pattern": "^templates/[0-9]+\\.json$"}
    },
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "mimetype"],
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z0-9_-]+$"},
          "name": {"type": "string"},
          "mimetype": {"type": "string"},
          "size": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

const documentSchema = `{
  "type": "object",
  "required": ["name", "pages"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "pages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["sequence", "width", "height", "elements"],
        "properties": {
          "sequence": {"type": "integer"},
          "width": {"type": "number", "minimum": 0},
          "height": {"type": "number", "minimum": 0},
          "left_margin": {"type": "number", "minimum": 0},
          "right_margin": {"type": "number", "minimum": 0},
          "elements": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type", "data"],
              "properties": {
                "type": {"type": "string", "minLength": 1},
                "name": {"type": "string"},
                "sequence": {"type": "integer"},
                "posx": {"type": "number"},
                "posy": {"type": "number"},
                "width": {"type": "number", "minimum": 0},
                "refpoint": {"type": "integer", "minimum": 0, "maximum": 2},
                "alignment": {"type": "string"},
                "font": {"type": "string"},
                "fontsize": {"type": "number", "minimum": 0},
                "colour": {"type": "string"},
                "data": {
                  "type": "object",
                  "additionalProperties": {"type": "object"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

var (
	manifestLoader = gojsonschema.NewStringLoader(manifestSchema)
	documentLoader = gojsonschema.NewStringLoader(documentSchema)
)

// SchemaError lists the violations of an archive member
type SchemaError struct {
	Name   string
	Errors []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s does not match the archive schema: %s", e.Name, strings.Join(e.Errors, "; "))
}

func validate(schema gojsonschema.JSONLoader, name string, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &SchemaError{Name: name, Errors: []string{err.Error()}}
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return &SchemaError{Name: name, Errors: errs}
	}
	return nil
}
