package domain

import "context"

// ToolFunc is a tool binding: it receives named arguments and returns a
// JSON-serialisable value.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDefinition describes a tool to the LLM. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// WireTool is a ToolDefinition in the OpenAI function-calling shape.
type WireTool struct {
	Type     string       `json:"type"` // always "function"
	Function WireFunction `json:"function"`
}

type WireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToWire wraps the definition in the function-calling envelope.
func (d ToolDefinition) ToWire() WireTool {
	return WireTool{
		Type: "function",
		Function: WireFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// DomainModule is the contract every pluggable domain satisfies. The registry
// filters both lists against the domain's configured allowlist, so a module
// may define more tools than it publishes.
type DomainModule interface {
	ListToolBindings() map[string]ToolFunc
	ListToolDefinitions() []ToolDefinition
}
