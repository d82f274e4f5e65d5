package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the opaque validator boundary: the registry only consumes
// pass/fail plus error detail and defines no schema syntax of its own.
type Schema interface {
	// Validate checks a value and returns a descriptive error on violation.
	Validate(v any) error
}

// jsonSchema adapts a compiled JSON Schema to the Schema interface.
type jsonSchema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (a decoded JSON value,
// typically map[string]any) into a Schema usable as a tool's input or
// output validator.
func CompileSchema(doc any) (Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &jsonSchema{compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for statically-known documents.
// Panics on compile failure.
func MustCompileSchema(doc any) Schema {
	s, err := CompileSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate normalizes the value through a JSON round-trip so Go-native
// types (ints, custom structs) validate the same way a decoded request
// body would, then runs the compiled schema.
func (s *jsonSchema) Validate(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return fmt.Errorf("normalize value: %w", err)
	}
	return s.compiled.Validate(normalized)
}
