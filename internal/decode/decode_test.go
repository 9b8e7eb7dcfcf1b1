package decode

import "testing"

const testSchema = `{
  "type": "object",
  "properties": {
    "response": {"type": "string"},
    "diagnostics": {"type": "object"}
  },
  "required": ["response"]
}`

func TestDecodePlainJSON(t *testing.T) {
	schema, err := CompileSchema("test", []byte(testSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	obj, err := Decode(schema, `{"response": "hello", "diagnostics": {"thoughts": "ok"}}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if obj["response"] != "hello" {
		t.Fatalf("unexpected response: %v", obj["response"])
	}
}

func TestDecodeFencedAndSurroundedByProse(t *testing.T) {
	schema, err := CompileSchema("test", []byte(testSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	raw := "Sure, here you go:\n```json\n{\"response\": \"hi\"}\n```\nLet me know if you need more."
	obj, err := Decode(schema, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if obj["response"] != "hi" {
		t.Fatalf("unexpected response: %v", obj["response"])
	}
}

func TestDecodeMissingRequiredField(t *testing.T) {
	schema, err := CompileSchema("test", []byte(testSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = Decode(schema, `{"diagnostics": {}}`)
	if err == nil {
		t.Fatalf("expected schema error")
	}
	var schemaErr *SchemaError
	if !asSchemaError(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
}

func TestDecodeNoJSONFound(t *testing.T) {
	schema, _ := CompileSchema("test", []byte(testSchema))
	_, err := Decode(schema, "no json here at all")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func asSchemaError(err error, target **SchemaError) bool {
	se, ok := err.(*SchemaError)
	if ok {
		*target = se
	}
	return ok
}
