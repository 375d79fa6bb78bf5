package llm

import (
	"reflect"
	"testing"

	"google.golang.org/genai"
)

func TestGeminiFunctionDecl(t *testing.T) {
	spec := ToolSpec{
		Name:        "read_file",
		Description: "Read a file",
		Schema: map[string]interface{}{
			"$schema": "http://json-schema.org/draft-07/schema#",
			"type":    "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":      "string",
					"format":    "uri",
					"maxLength": 4096,
				},
				"limit": map[string]interface{}{"type": "integer"},
			},
			"required":             []interface{}{"path"},
			"additionalProperties": false,
		},
	}

	decl := geminiFunctionDecl(spec)
	if decl.Name != "read_file" || decl.Description != "Read a file" {
		t.Errorf("decl = %q / %q", decl.Name, decl.Description)
	}

	params := decl.Parameters
	if params.Type != genai.TypeObject {
		t.Errorf("type = %v, want object", params.Type)
	}
	if params.Properties["path"].Type != genai.TypeString {
		t.Errorf("path type = %v", params.Properties["path"].Type)
	}
	if params.Properties["limit"].Type != genai.TypeInteger {
		t.Errorf("limit type = %v", params.Properties["limit"].Type)
	}
	// Gemini rejects partially-required objects, so every property is
	// listed regardless of what the schema declared.
	if !reflect.DeepEqual(params.Required, []string{"limit", "path"}) {
		t.Errorf("required = %v, want all properties", params.Required)
	}

	// Building the declaration must not touch the spec's schema.
	if _, ok := spec.Schema["$schema"]; !ok {
		t.Error("conversion mutated the input schema")
	}
	if got := spec.Schema["required"].([]interface{}); len(got) != 1 {
		t.Errorf("input required = %v, want untouched", got)
	}
}

func TestGenaiSchemaArrayItems(t *testing.T) {
	s := genaiSchema(map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string", "enum": []interface{}{"a", "b"}},
	})
	if s.Type != genai.TypeArray {
		t.Errorf("type = %v", s.Type)
	}
	if s.Items == nil || s.Items.Type != genai.TypeString {
		t.Fatalf("items = %+v", s.Items)
	}
	if !reflect.DeepEqual(s.Items.Enum, []string{"a", "b"}) {
		t.Errorf("enum = %v", s.Items.Enum)
	}
}

func TestGenaiSchemaNil(t *testing.T) {
	if got := genaiSchema(nil); got.Type != genai.TypeString {
		t.Errorf("nil schema type = %v", got.Type)
	}
}

func TestStringList(t *testing.T) {
	if got := stringList([]interface{}{"x", 3, "y"}); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("stringList = %v", got)
	}
	if got := stringList([]string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("stringList = %v", got)
	}
	if got := stringList(nil); got != nil {
		t.Errorf("stringList(nil) = %v", got)
	}
}
