package agent

import (
	"strings"
	"testing"
)

func testContentCalls() *contentCalls {
	return newContentCalls(wire("find_hospital", "get_referral_sources", "get_network_statistics"))
}

// --- contentCalls.Extract ---

func TestExtract_SingleObject(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "find_hospital", "arguments": {"state": "MO"}}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "find_hospital" {
		t.Fatalf("expected 'find_hospital', got %q", calls[0].Name)
	}
	if calls[0].Arguments["state"] != "MO" {
		t.Fatalf("expected 'MO', got %v", calls[0].Arguments["state"])
	}
	if !strings.HasPrefix(calls[0].ID, "extracted_") {
		t.Fatalf("unexpected id %q", calls[0].ID)
	}
}

func TestExtract_ParametersField(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "get_referral_sources", "parameters": {"hospital_name": "Prairie Community Hospital"}}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["hospital_name"] != "Prairie Community Hospital" {
		t.Fatalf("expected hospital_name, got %v", calls[0].Arguments)
	}
}

func TestExtract_StringEncodedArguments(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "find_hospital", "arguments": "{\"rural\": true}"}`)
	if len(calls) != 1 || calls[0].Arguments["rural"] != true {
		t.Fatalf("expected decoded string arguments, got %+v", calls)
	}
}

func TestExtract_Array(t *testing.T) {
	calls := testContentCalls().Extract(`[{"name": "find_hospital", "arguments": {"state": "MO"}}, {"name": "find_hospital", "arguments": {"state": "KS"}}]`)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID == calls[1].ID {
		t.Fatal("extracted calls share an id")
	}
}

func TestExtract_CodeFenceAndSurroundingText(t *testing.T) {
	input := "Let me look that up.\n```json\n{\"name\": \"find_hospital\", \"arguments\": {\"rural\": true}}\n```\nOne moment."
	calls := testContentCalls().Extract(input)
	if len(calls) != 1 || calls[0].Name != "find_hospital" {
		t.Fatalf("expected find_hospital from fenced block, got %+v", calls)
	}
}

func TestExtract_SeveralBlocks(t *testing.T) {
	input := `First {"name": "find_hospital", "arguments": {"state": "MO"}} then {"name": "get_network_statistics"}.`
	calls := testContentCalls().Extract(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %+v", calls)
	}
	if calls[1].Name != "get_network_statistics" {
		t.Fatalf("unexpected second call %q", calls[1].Name)
	}
}

func TestExtract_NameSpellings(t *testing.T) {
	for _, name := range []string{"find_hospital", "Find-Hospital", "find hospital", "FindHospital"} {
		calls := testContentCalls().Extract(`{"name": "` + name + `", "arguments": {}}`)
		if len(calls) != 1 || calls[0].Name != "find_hospital" {
			t.Fatalf("%q: expected find_hospital, got %+v", name, calls)
		}
	}
}

func TestExtract_UnpublishedNameIsAnswer(t *testing.T) {
	calls := testContentCalls().Extract(`The top hospital is {"name": "Children's Mercy Kansas City", "state": "MO"}.`)
	if len(calls) != 0 {
		t.Fatalf("answer JSON must not become a tool call, got %+v", calls)
	}
	if calls := newContentCalls(nil).Extract(`{"name": "find_hospital"}`); len(calls) != 0 {
		t.Fatalf("empty catalog accepted %+v", calls)
	}
}

func TestExtract_MalformedArgumentsCarryError(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "find_hospital", "arguments": ["MO"]}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ArgumentsError == "" {
		t.Fatal("non-object arguments should be reported, not dropped")
	}
	if calls[0].Arguments == nil || len(calls[0].Arguments) != 0 {
		t.Fatalf("expected empty arguments, got %v", calls[0].Arguments)
	}
}

func TestExtract_PlainText(t *testing.T) {
	if calls := testContentCalls().Extract("Sure, let me help you with that!"); len(calls) != 0 {
		t.Fatalf("expected 0 calls for plain text, got %d", len(calls))
	}
	if calls := testContentCalls().Extract(""); len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty input, got %d", len(calls))
	}
	if calls := testContentCalls().Extract(`{"name": "", "arguments": {}}`); len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty name, got %d", len(calls))
	}
}

func TestExtract_UnbalancedPrefix(t *testing.T) {
	calls := testContentCalls().Extract(`Ranges like [1, 2 are open. {"name": "find_hospital"}`)
	if len(calls) != 1 {
		t.Fatalf("expected call after unbalanced bracket, got %+v", calls)
	}
}

func TestExtract_NilArguments(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "get_network_statistics", "arguments": null}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
	if calls[0].ArgumentsError != "" {
		t.Fatalf("null arguments are not an error: %s", calls[0].ArgumentsError)
	}
}

func TestExtract_WithInvalidEscapes(t *testing.T) {
	calls := testContentCalls().Extract(`{"name": "find_hospital", "arguments": {"name": "St. Louis 100\% Children's"}}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after sanitization, got %d", len(calls))
	}
	if calls[0].Arguments["name"] != "St. Louis 100% Children's" {
		t.Fatalf("unexpected name %v", calls[0].Arguments["name"])
	}
}

// --- sanitizeJSONEscapes ---

func TestSanitizeJSONEscapes(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"key": "value with \"quotes\" and \\backslash"}`, `{"key": "value with \"quotes\" and \\backslash"}`},
		{`{"key": "100\% done"}`, `{"key": "100% done"}`},
		{`{"msg": "Hello \World \! \?"}`, `{"msg": "Hello World ! ?"}`},
		{`{"text": "line1\nline2\ttab"}`, `{"text": "line1\nline2\ttab"}`},
		{`{"path": "C:\\"}`, `{"path": "C:\\"}`},
		{`{}`, `{}`},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeJSONEscapes(c.in); got != c.want {
			t.Errorf("sanitizeJSONEscapes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// --- stripRolePrefix ---

func TestStripRolePrefix(t *testing.T) {
	cases := map[string]string{
		"Assistant: Five hospitals.":  "Five hospitals.",
		"assistant\nFive hospitals.":  "Five hospitals.",
		"ASSISTANT:\nFive hospitals.": "Five hospitals.",
		"Five hospitals.":             "Five hospitals.",
	}
	for in, want := range cases {
		if got := stripRolePrefix(in); got != want {
			t.Errorf("stripRolePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
