// Package tool holds the building blocks domain modules use to declare their
// tools: parameter schemas, argument accessors and argument validation.
package tool

import (
	"encoding/json"
	"fmt"
	"strconv"

	"refagent/internal/domain"
)

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
	Default     any      // applied when the caller omits the argument
	Enum        []string // optional set of allowed string values
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// NoParameters is the schema for a tool that takes no arguments.
func NoParameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Define is shorthand for a ToolDefinition literal.
func Define(name, description string, params map[string]any) domain.ToolDefinition {
	if params == nil {
		params = NoParameters()
	}
	return domain.ToolDefinition{Name: name, Description: description, Parameters: params}
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsRequiredString returns the string argument or an ErrInvalidArguments error.
func ArgsRequiredString(args map[string]any, key string) (string, error) {
	s := ArgsString(args, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidArguments, key)
	}
	return s, nil
}

// ArgsBool returns the boolean argument and whether it was present.
func ArgsBool(args map[string]any, key string) (value bool, ok bool) {
	v, present := args[key]
	if !present || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

// ArgsInt returns the integer argument, or fallback when absent or not numeric.
func ArgsInt(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return fallback
}
