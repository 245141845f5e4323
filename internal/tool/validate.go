package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"refagent/internal/domain"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks call arguments against a tool's parameter schema and fills
// in declared defaults.
type Validator struct {
	tool     string
	schema   *jsonschema.Schema
	defaults map[string]any
}

// CompileValidator compiles the parameter schema of def. A definition without
// parameters accepts any argument object.
func CompileValidator(def domain.ToolDefinition) (*Validator, error) {
	v := &Validator{tool: def.Name, defaults: schemaDefaults(def.Parameters)}
	if len(def.Parameters) == 0 {
		return v, nil
	}

	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters of %s: %w", def.Name, err)
	}

	url := "mem://tools/" + def.Name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load parameters of %s: %w", def.Name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile parameters of %s: %w", def.Name, err)
	}
	v.schema = schema
	return v, nil
}

// Prepare returns a normalised copy of args with defaults applied, or an
// ErrInvalidArguments error when the arguments do not match the schema.
// The caller's map is never modified.
func (v *Validator) Prepare(args map[string]any) (map[string]any, error) {
	prepared := make(map[string]any, len(args)+len(v.defaults))
	for k, val := range v.defaults {
		prepared[k] = val
	}
	for k, val := range args {
		if val == nil {
			continue
		}
		prepared[k] = val
	}

	// Round-trip through JSON so the validator and the tool see the same
	// types an LLM would have sent (float64 numbers, []any slices).
	raw, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, v.tool, err)
	}
	var normalised map[string]any
	if err := json.Unmarshal(raw, &normalised); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, v.tool, err)
	}
	if normalised == nil {
		normalised = make(map[string]any)
	}

	if v.schema != nil {
		if err := v.schema.Validate(normalised); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, v.tool, err)
		}
	}
	return normalised, nil
}

// Wrap returns a ToolFunc that prepares arguments before calling fn.
func (v *Validator) Wrap(fn domain.ToolFunc) domain.ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		prepared, err := v.Prepare(args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, prepared)
	}
}

func schemaDefaults(params map[string]any) map[string]any {
	defaults := make(map[string]any)
	props, _ := params["properties"].(map[string]any)
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if d, ok := prop["default"]; ok && d != nil {
			defaults[name] = d
		}
	}
	return defaults
}
