package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"refagent/internal/domain"

	"github.com/google/uuid"
)

// contentCalls recovers tool calls that a model wrote into its answer text
// instead of the structured tool_calls field. Only tools in the published
// catalog are recognised, so an answer that happens to contain a JSON object
// with a "name" key stays an answer.
type contentCalls struct {
	byFolded map[string]string // foldToolName(name) -> published name
}

func newContentCalls(tools []domain.WireTool) *contentCalls {
	p := &contentCalls{byFolded: make(map[string]string, len(tools))}
	for _, t := range tools {
		p.byFolded[foldToolName(t.Function.Name)] = t.Function.Name
	}
	return p
}

// contentCall is the shape models use when they write a call as text. Some
// put the arguments under "parameters", and some send them as a string
// holding JSON the way the structured field does.
type contentCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

// Extract scans content for JSON objects or arrays of calls and returns every
// call naming a published tool. Text around and between the JSON, including
// markdown fences, is skipped.
func (p *contentCalls) Extract(content string) []domain.ToolCall {
	if len(p.byFolded) == 0 {
		return nil
	}
	var calls []domain.ToolCall
	rest := content
	for {
		start, end := findJSONBounds(rest)
		if start < 0 {
			return calls
		}
		calls = append(calls, p.decode(rest[start:end])...)
		rest = rest[end:]
	}
}

func (p *contentCalls) decode(block string) []domain.ToolCall {
	raw := []byte(block)
	if !json.Valid(raw) {
		raw = []byte(sanitizeJSONEscapes(block))
	}

	var candidates []contentCall
	if block[0] == '[' {
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return nil
		}
	} else {
		var one contentCall
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		candidates = append(candidates, one)
	}

	var calls []domain.ToolCall
	for _, c := range candidates {
		name, ok := p.byFolded[foldToolName(c.Name)]
		if !ok || c.Name == "" {
			continue
		}
		call := domain.ToolCall{ID: "extracted_" + uuid.NewString(), Name: name, Arguments: map[string]any{}}
		args := c.Parameters
		if isJSONNull(args) {
			args = c.Arguments
		}
		if !isJSONNull(args) {
			if err := decodeArguments(args, &call.Arguments); err != nil {
				call.ArgumentsError = fmt.Sprintf("arguments are not a JSON object: %v", err)
			}
		}
		calls = append(calls, call)
	}
	return calls
}

// decodeArguments accepts an object or a string containing one.
func decodeArguments(raw json.RawMessage, into *map[string]any) error {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = json.RawMessage(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m != nil {
		*into = m
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// foldToolName lowercases name and drops separators so that "FindHospital",
// "find-hospital" and "find hospital" all match find_hospital.
func foldToolName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '\t':
			return -1
		}
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, strings.TrimSpace(name))
}

// findJSONBounds locates the first balanced JSON object or array in s and
// returns its start and end+1, or (-1, -1). Brackets inside strings are
// ignored.
func findJSONBounds(s string) (int, int) {
	for offset := 0; ; {
		i := strings.IndexAny(s[offset:], "{[")
		if i < 0 {
			return -1, -1
		}
		start := offset + i
		if end := matchBracket(s, start); end > 0 {
			return start, end
		}
		offset = start + 1
	}
}

func matchBracket(s string, start int) int {
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch ch {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var rolePrefixes = []string{"assistant:\n", "assistant: ", "assistant\n"}

// stripRolePrefix removes a leaked role name from the start of model output,
// e.g. "Assistant: Five hospitals." becomes "Five hospitals.".
func stripRolePrefix(content string) string {
	lower := strings.ToLower(content)
	for _, p := range rolePrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does
// not define, such as \% or \W, which some models emit inside strings.
func sanitizeJSONEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case !inStr:
			if ch == '"' {
				inStr = true
			}
		case ch == '"':
			inStr = false
		case ch == '\\' && i+1 < len(s):
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				b.WriteByte(ch)
				b.WriteByte(s[i+1])
				i++
			}
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
