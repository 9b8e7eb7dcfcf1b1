// Package decode extracts a JSON object of a declared schema from raw
// model text and reports schema errors.
package decode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaError reports that raw model text failed to conform to the
// declared output schema.
type SchemaError struct {
	SchemaID string
	Raw      string
	Cause    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("decode: response does not conform to schema %q: %v", e.SchemaID, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Schema wraps a compiled JSON Schema with the identifier used in error
// messages and cache fingerprints.
type Schema struct {
	ID         string
	compiled   *jsonschema.Schema
}

// CompileSchema compiles a raw JSON Schema document, tagging it with id.
func CompileSchema(id string, raw json.RawMessage) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	resourceName := id
	if resourceName == "" {
		resourceName = "schema.json"
	}
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("decode: compile schema %q: %w", id, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("decode: compile schema %q: %w", id, err)
	}
	return &Schema{ID: id, compiled: compiled}, nil
}

// Decode extracts the first top-level JSON object found in raw (tolerating
// surrounding prose or markdown code fences) and validates it against
// schema. On success it returns the parsed value as a generic map; callers
// re-marshal/unmarshal into a concrete type as needed.
func Decode(schema *Schema, raw string) (map[string]any, error) {
	schemaID := ""
	if schema != nil {
		schemaID = schema.ID
	}

	jsonText := extractJSON(raw)
	if jsonText == "" {
		return nil, &SchemaError{SchemaID: schemaID, Raw: truncate(raw, 500), Cause: fmt.Errorf("no JSON object found in response")}
	}

	var value any
	if err := json.Unmarshal([]byte(jsonText), &value); err != nil {
		return nil, &SchemaError{SchemaID: schemaID, Raw: truncate(raw, 500), Cause: err}
	}

	if schema != nil && schema.compiled != nil {
		if err := schema.compiled.Validate(value); err != nil {
			return nil, &SchemaError{SchemaID: schemaID, Raw: truncate(raw, 500), Cause: err}
		}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &SchemaError{SchemaID: schemaID, Raw: truncate(raw, 500), Cause: fmt.Errorf("decoded value is not a JSON object")}
	}
	return obj, nil
}

// extractJSON finds the first balanced {...} span in text, stripping
// markdown fences (```json ... ```) if present.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
