package domains

import (
	"context"
	"errors"
	"strings"
	"testing"

	"refagent/internal/domains/quality"
	"refagent/internal/graph"
	"refagent/internal/graph/graphtest"
	"refagent/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleDescriptorsLoadWithBuiltinModules(t *testing.T) {
	descriptors, err := registry.ParseDescriptors(SampleDescriptors)
	require.NoError(t, err)

	r := registry.New(registry.Options{
		Descriptors: descriptors,
		Modules:     Builtin(graphtest.NewReader()),
	})
	require.NoError(t, r.Load(context.Background()))

	order, err := r.LoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"referral_network", "quality_improvement"}, order)

	tools, err := r.ListTools()
	require.NoError(t, err)
	assert.Len(t, tools, 12)
	assert.NotContains(t, tools, "get_protocol_spread_path", "implemented but not published")

	byDomain, err := r.ToolsByDomain()
	require.NoError(t, err)
	assert.Len(t, byDomain["quality_improvement"], 4)
}

func TestBuiltinModuleNames(t *testing.T) {
	assert.Equal(t, []string{"quality_improvement", "referral_network"}, Builtin(nil).Names())
}

func seededGraph() *graphtest.Reader {
	return graphtest.NewReader().On("AS hospitals", graph.Record{"hospitals": int64(8)})
}

func TestSeed_DependenciesFirst(t *testing.T) {
	descriptors, err := registry.ParseDescriptors(SampleDescriptors)
	require.NoError(t, err)

	g := seededGraph()
	var seeded []string
	err = Seed(context.Background(), g, descriptors, true, func(id, _ string) { seeded = append(seeded, id) })
	require.NoError(t, err)
	assert.Equal(t, []string{"referral_network", "quality_improvement"}, seeded)
	assert.Equal(t, 15, g.Writes())

	var hospitalsAt, protocolsAt int
	for i, c := range g.Calls() {
		switch {
		case strings.Contains(c.Query, "MERGE (h:Hospital"):
			hospitalsAt = i
			assert.Len(t, c.Params["rows"], 8)
		case strings.Contains(c.Query, "MERGE (p:Protocol"):
			protocolsAt = i
		}
	}
	assert.Less(t, hospitalsAt, protocolsAt)
}

func TestSeed_SkipsDisabledDomains(t *testing.T) {
	descriptors := []registry.Descriptor{
		{ID: "network", Enabled: true, Module: "referral_network"},
		{ID: "qi", Enabled: false, Module: "quality_improvement", DependsOn: []string{"network"}},
	}
	g := seededGraph()
	require.NoError(t, Seed(context.Background(), g, descriptors, false, nil))
	assert.Equal(t, 6, g.Writes())
	for _, c := range g.Calls() {
		assert.NotContains(t, c.Query, ":Protocol")
	}
}

func TestSeed_QualityNeedsHospitals(t *testing.T) {
	descriptors := []registry.Descriptor{
		{ID: "qi", Enabled: true, Module: "quality_improvement"},
	}
	g := graphtest.NewReader()
	err := Seed(context.Background(), g, descriptors, false, nil)
	assert.ErrorIs(t, err, quality.ErrNoHospitals)
	assert.Zero(t, g.Writes())
}

func TestSeed_WriteFailureStops(t *testing.T) {
	boom := errors.New("constraint violation")
	descriptors, err := registry.ParseDescriptors(SampleDescriptors)
	require.NoError(t, err)

	g := seededGraph().Fail("MERGE (a)-[r:REFERS_TO]", boom)
	err = Seed(context.Background(), g, descriptors, false, nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "referral_network")
	assert.Equal(t, 4, g.Writes())
}
