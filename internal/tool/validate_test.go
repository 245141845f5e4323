package tool

import (
	"context"
	"testing"

	"refagent/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathDefinition() domain.ToolDefinition {
	return Define("find_referral_path", "Find a path", ToolParameters(
		map[string]Param{
			"source_hospital": {Type: "string", Description: "Start"},
			"target_hospital": {Type: "string", Description: "End"},
			"max_hops":        {Type: "integer", Description: "Hop limit", Default: 3},
		},
		[]string{"source_hospital", "target_hospital"},
	))
}

func TestValidator_AppliesDefaults(t *testing.T) {
	v, err := CompileValidator(pathDefinition())
	require.NoError(t, err)

	args := map[string]any{"source_hospital": "A", "target_hospital": "B"}
	prepared, err := v.Prepare(args)
	require.NoError(t, err)

	assert.Equal(t, float64(3), prepared["max_hops"])
	assert.NotContains(t, args, "max_hops", "caller map must not be modified")
}

func TestValidator_CallerValueWinsOverDefault(t *testing.T) {
	v, err := CompileValidator(pathDefinition())
	require.NoError(t, err)

	prepared, err := v.Prepare(map[string]any{"source_hospital": "A", "target_hospital": "B", "max_hops": 5})
	require.NoError(t, err)
	assert.Equal(t, float64(5), prepared["max_hops"])
}

func TestValidator_MissingRequired(t *testing.T) {
	v, err := CompileValidator(pathDefinition())
	require.NoError(t, err)

	_, err = v.Prepare(map[string]any{"source_hospital": "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestValidator_WrongType(t *testing.T) {
	v, err := CompileValidator(pathDefinition())
	require.NoError(t, err)

	_, err = v.Prepare(map[string]any{"source_hospital": "A", "target_hospital": "B", "max_hops": "many"})
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestValidator_NoParameters(t *testing.T) {
	v, err := CompileValidator(domain.ToolDefinition{Name: "stats"})
	require.NoError(t, err)

	prepared, err := v.Prepare(nil)
	require.NoError(t, err)
	assert.Empty(t, prepared)
}

func TestValidator_BadSchema(t *testing.T) {
	_, err := CompileValidator(domain.ToolDefinition{
		Name:       "broken",
		Parameters: map[string]any{"type": 42},
	})
	assert.Error(t, err)
}

func TestValidator_Wrap(t *testing.T) {
	v, err := CompileValidator(pathDefinition())
	require.NoError(t, err)

	called := false
	fn := v.Wrap(func(ctx context.Context, args map[string]any) (any, error) {
		called = true
		return args["max_hops"], nil
	})

	out, err := fn(context.Background(), map[string]any{"source_hospital": "A", "target_hospital": "B"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, float64(3), out)

	called = false
	_, err = fn(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
	assert.False(t, called, "binding must not run on invalid arguments")
}
