package tool

import (
	"errors"
	"testing"

	"refagent/internal/domain"
)

// --- ToolParameters ---

func TestToolParameters_WithRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"name": {Type: "string", Description: "The name"},
			"age":  {Type: "number", Description: "The age in years"},
		},
		[]string{"name"},
	)

	if params["type"] != "object" {
		t.Fatal("expected type=object")
	}
	props := params["properties"].(map[string]any)
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(props))
	}

	nameParam := props["name"].(map[string]any)
	if nameParam["description"] != "The name" {
		t.Fatalf("expected 'The name', got %q", nameParam["description"])
	}

	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("unexpected required: %v", required)
	}
}

func TestToolParameters_NoRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query"},
		},
		nil,
	)
	if _, ok := params["required"]; ok {
		t.Fatal("should not have 'required' key when nil")
	}
}

func TestToolParameters_DefaultAndEnum(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"max_hops": {Type: "integer", Description: "Hop limit", Default: 3},
			"kind":     {Type: "string", Description: "Kind", Enum: []string{"a", "b"}},
		},
		nil,
	)
	props := params["properties"].(map[string]any)
	if props["max_hops"].(map[string]any)["default"] != 3 {
		t.Fatalf("expected default 3, got %v", props["max_hops"])
	}
	if enum := props["kind"].(map[string]any)["enum"].([]string); len(enum) != 2 {
		t.Fatalf("expected 2 enum values, got %v", enum)
	}
}

func TestDefine_NilParameters(t *testing.T) {
	def := Define("stats", "Network statistics", nil)
	if def.Parameters["type"] != "object" {
		t.Fatalf("expected empty object schema, got %v", def.Parameters)
	}
}

// --- ArgsString ---

func TestArgsString_StringValue(t *testing.T) {
	args := map[string]any{"key": "value"}
	if got := ArgsString(args, "key"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestArgsString_MissingKey(t *testing.T) {
	args := map[string]any{"other": "value"}
	if got := ArgsString(args, "key"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestArgsString_NilArgs(t *testing.T) {
	if got := ArgsString(nil, "key"); got != "" {
		t.Fatalf("expected empty for nil args, got %q", got)
	}
}

func TestArgsString_NonStringValue(t *testing.T) {
	args := map[string]any{"num": 42.0}
	got := ArgsString(args, "num")
	if got == "" {
		t.Fatal("expected non-empty for numeric value")
	}
}

func TestArgsRequiredString_Missing(t *testing.T) {
	_, err := ArgsRequiredString(map[string]any{}, "hospital_name")
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

// --- ArgsBool / ArgsInt ---

func TestArgsBool(t *testing.T) {
	if v, ok := ArgsBool(map[string]any{"rural": true}, "rural"); !ok || !v {
		t.Fatalf("expected true/present, got %v/%v", v, ok)
	}
	if v, ok := ArgsBool(map[string]any{"rural": "false"}, "rural"); !ok || v {
		t.Fatalf("expected false/present from string, got %v/%v", v, ok)
	}
	if _, ok := ArgsBool(map[string]any{}, "rural"); ok {
		t.Fatal("expected absent")
	}
}

func TestArgsInt(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{4, 4},
		{4.0, 4},
		{"7", 7},
		{"seven", 3},
		{nil, 3},
	}
	for _, c := range cases {
		if got := ArgsInt(map[string]any{"n": c.in}, "n", 3); got != c.want {
			t.Fatalf("ArgsInt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
