package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"refagent/internal/domain"
	"refagent/internal/domains/referral"
	"refagent/internal/graph"
	"refagent/internal/graph/graphtest"
	"refagent/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	resolveFragment   = "ORDER BY size(p.name)"
	adoptersFragment  = "a.adoption_phase AS phase"
	gapsFragment      = "adopter_connections"
	nonAdoptFragment  = "WHERE NOT (h)-[:ADOPTED]"
	adoptionFragment  = "{name: $hospital})-[a:ADOPTED]"
	spreadFragment    = "LEARNED_FROM*1..5"
	championsFragment = "min_compliance"
	outcomesFragment  = "OutcomeMetric"
)

type fakeLookup struct {
	hospitals []referral.Hospital
	filters   []referral.HospitalFilter
	err       error
}

func (f *fakeLookup) FindHospitals(_ context.Context, filter referral.HospitalFilter) ([]referral.Hospital, error) {
	f.filters = append(f.filters, filter)
	return f.hospitals, f.err
}

func sepsis() graph.Record {
	return graph.Record{"name": "Sepsis Bundle v2.0", "category": "clinical_pathway", "release_date": "2024-01-15"}
}

func newModule(reader *graphtest.Reader, lookup *fakeLookup) *Module {
	if lookup == nil {
		lookup = &fakeLookup{}
	}
	m := New(reader, lookup, nil)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func call(t *testing.T, m *Module, name string, args map[string]any) map[string]any {
	t.Helper()
	fn, ok := m.ListToolBindings()[name]
	require.True(t, ok, "no binding for %s", name)
	out, err := fn(context.Background(), args)
	require.NoError(t, err)
	result, ok := out.(map[string]any)
	require.True(t, ok, "unexpected result type %T", out)
	return result
}

func TestModule_DefinitionsMatchBindings(t *testing.T) {
	m := newModule(graphtest.NewReader(), nil)
	bindings := m.ListToolBindings()
	defs := m.ListToolDefinitions()

	require.Len(t, defs, len(bindings))
	for _, d := range defs {
		_, ok := bindings[d.Name]
		assert.True(t, ok, "definition %s has no binding", d.Name)
	}
}

func TestAdoptionStatus(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(adoptersFragment,
			graph.Record{"hospital": "Mercy", "compliance_rate": int64(92), "phase": "full"},
			graph.Record{"hospital": "St. Luke", "compliance_rate": 80.5, "phase": "partial"},
			graph.Record{"hospital": "Rural A", "compliance_rate": int64(60)},
		).
		On(nonAdoptFragment, graph.Record{"hospital": "Rural B"})
	m := newModule(reader, nil)

	result := call(t, m, "get_protocol_adoption_status", map[string]any{"protocol_name": "sepsis"})

	assert.Equal(t, "Sepsis Bundle v2.0", result["protocol"])
	assert.Equal(t, true, result["found"])
	assert.Equal(t, 4, result["total_hospitals"])
	assert.Equal(t, 3, result["adopted_count"])
	assert.Equal(t, 75.0, result["adoption_rate"])
	assert.Equal(t, map[string]int{"full": 1, "partial": 1, "pilot": 1}, result["by_phase"])
	assert.Equal(t, 77.5, result["avg_compliance_rate"])

	assert.Equal(t, "sepsis", reader.LastParams(resolveFragment)["protocol"])
	assert.Equal(t, "Sepsis Bundle v2.0", reader.LastParams(adoptersFragment)["protocol"],
		"later queries use the resolved name")
}

func TestAdoptionStatus_UnknownProtocol(t *testing.T) {
	m := newModule(graphtest.NewReader(), nil)
	result := call(t, m, "get_protocol_adoption_status", map[string]any{"protocol_name": "Nope"})
	assert.Equal(t, false, result["found"])
	assert.Equal(t, "Protocol 'Nope' not found", result["message"])
}

func TestAdoptionGaps(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(gapsFragment,
			graph.Record{"hospital": "A", "state": "KS", "adopter_connections": int64(2)},
			graph.Record{"hospital": "B", "state": "MO", "adopter_connections": int64(0)},
			graph.Record{"hospital": "C", "state": "KS", "adopter_connections": int64(1)},
			graph.Record{"hospital": "D", "state": "KS", "adopter_connections": int64(5)},
		)
	m := newModule(reader, nil)

	result := call(t, m, "find_adoption_gaps", map[string]any{"protocol_name": "sepsis"})

	high := result["high_potential_targets"].([]GapHospital)
	require.Len(t, high, 2)
	assert.Equal(t, "D", high[0].Hospital, "sorted by connections")
	assert.Equal(t, "A", high[1].Hospital)
	isolated := result["isolated_hospitals"].([]GapHospital)
	require.Len(t, isolated, 1)
	assert.Equal(t, "B", isolated[0].Hospital)
	assert.Equal(t, map[string]int{"high_potential_count": 2, "isolated_count": 1, "total_non_adopters": 4}, result["summary"])
	assert.Equal(t, "2026-03-01", result["analysis_date"])
}

func TestAdoptionGaps_StateUsesHospitalLookup(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(gapsFragment,
			graph.Record{"hospital": "A", "adopter_connections": int64(3)},
			graph.Record{"hospital": "B", "adopter_connections": int64(0)},
		)
	lookup := &fakeLookup{hospitals: []referral.Hospital{{Name: "B", State: "MO"}}}
	m := newModule(reader, lookup)

	result := call(t, m, "find_adoption_gaps", map[string]any{"protocol_name": "sepsis", "state": "MO", "min_connections": float64(1)})

	require.Len(t, lookup.filters, 1)
	assert.Equal(t, "MO", lookup.filters[0].State)
	assert.Empty(t, result["high_potential_targets"])
	assert.Len(t, result["isolated_hospitals"], 1)
	assert.Equal(t, "MO", result["state"])
}

func TestAdoptionGaps_RejectsMinConnections(t *testing.T) {
	m := newModule(graphtest.NewReader(), nil)
	_, err := m.adoptionGaps(context.Background(), map[string]any{"protocol_name": "x", "min_connections": float64(0)})
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestSpreadPath(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(adoptionFragment, graph.Record{"adoption_date": "2025-04-01"}).
		On(spreadFragment, graph.Record{
			"hospitals":    []any{"Rural A", "Regional B", "Mercy"},
			"interactions": []any{"site_visit", "webinar"},
			"dates":        []any{"2025-03-01", "2024-11-12"},
		})
	lookup := &fakeLookup{hospitals: []referral.Hospital{{Name: "Rural A North"}, {Name: "Rural A"}}}
	m := newModule(reader, lookup)

	result := call(t, m, "get_protocol_spread_path", map[string]any{"protocol_name": "sepsis", "hospital_name": "rural a"})

	assert.Equal(t, "Rural A", result["hospital"], "exact match wins over the first partial match")
	assert.Equal(t, "2025-04-01", result["adoption_date"])
	assert.Equal(t, "Mercy", result["original_source"])
	assert.Equal(t, 2, result["chain_length"])
	assert.Equal(t, []SpreadStep{
		{Step: 1, From: "Regional B", To: "Rural A", Interaction: "site_visit", Date: "2025-03-01"},
		{Step: 2, From: "Mercy", To: "Regional B", Interaction: "webinar", Date: "2024-11-12"},
	}, result["influence_chain"])
	assert.Equal(t, "Rural A", reader.LastParams(spreadFragment)["hospital"])
}

func TestSpreadPath_NotAdopted(t *testing.T) {
	reader := graphtest.NewReader().On(resolveFragment, sepsis())
	m := newModule(reader, &fakeLookup{hospitals: []referral.Hospital{{Name: "Rural A"}}})

	result := call(t, m, "get_protocol_spread_path", map[string]any{"protocol_name": "sepsis", "hospital_name": "Rural A"})
	assert.Equal(t, false, result["found"])
	assert.Contains(t, result["message"], "has not adopted")
}

func TestSpreadPath_NoChainMeansSelfSource(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(adoptionFragment, graph.Record{"adoption_date": "2024-01-20"})
	m := newModule(reader, &fakeLookup{hospitals: []referral.Hospital{{Name: "Mercy"}}})

	result := call(t, m, "get_protocol_spread_path", map[string]any{"protocol_name": "sepsis", "hospital_name": "Mercy"})
	assert.Equal(t, "Mercy", result["original_source"])
	assert.Equal(t, 0, result["chain_length"])
}

func TestSpreadPath_UnknownHospital(t *testing.T) {
	reader := graphtest.NewReader().On(resolveFragment, sepsis())
	m := newModule(reader, &fakeLookup{})

	result := call(t, m, "get_protocol_spread_path", map[string]any{"protocol_name": "sepsis", "hospital_name": "Ghost"})
	assert.Equal(t, false, result["found"])
	assert.Equal(t, "Hospital 'Ghost' not found", result["message"])
}

func TestChampions(t *testing.T) {
	reader := graphtest.NewReader().On(championsFragment,
		graph.Record{"hospital": "Quiet", "influenced": int64(0)},
		graph.Record{"hospital": "Mercy", "state": "MO", "influenced": int64(3),
			"methods": []any{"site_visit", "webinar", "site_visit"}, "protocols": []any{"Sepsis Bundle v2.0"}},
		graph.Record{"hospital": "Luke", "influenced": int64(1), "methods": []any{}, "protocols": []any{}},
	)
	m := newModule(reader, nil)

	result := call(t, m, "find_quality_champions", nil)

	champions := result["champions"].([]Champion)
	require.Len(t, champions, 2)
	assert.Equal(t, "Mercy", champions[0].Hospital)
	assert.Equal(t, map[string]int{"site_visit": 2, "webinar": 1}, champions[0].Methods)
	assert.Equal(t, 30.0, champions[0].Score)
	assert.Equal(t, 2, result["total_champions_identified"])
	assert.Equal(t, "All protocols", result["protocol_filter"])

	params := reader.LastParams(championsFragment)
	assert.Nil(t, params["protocol"])
	assert.Equal(t, championCompliance, params["min_compliance"])
}

func TestChampions_FilterResolvesProtocol(t *testing.T) {
	reader := graphtest.NewReader().On(resolveFragment, sepsis())
	m := newModule(reader, nil)

	result := call(t, m, "find_quality_champions", map[string]any{"protocol_name": "sepsis"})
	assert.Equal(t, "Sepsis Bundle v2.0", result["protocol_filter"])
	assert.Equal(t, "Sepsis Bundle v2.0", reader.LastParams(championsFragment)["protocol"])
}

func TestOutcomeImprovement(t *testing.T) {
	reader := graphtest.NewReader().
		On(resolveFragment, sepsis()).
		On(outcomesFragment,
			graph.Record{"hospital": "A", "metric": "Sepsis Mortality Rate", "unit": "percentage", "direction": "lower_better", "baseline": 10.0, "current": 8.0},
			graph.Record{"hospital": "B", "metric": "Sepsis Mortality Rate", "unit": "percentage", "direction": "lower_better", "baseline": 12.0, "current": 6.0},
			graph.Record{"hospital": "A", "metric": "Bundle Compliance", "unit": "percentage", "direction": "higher_better", "baseline": int64(50), "current": int64(75)},
		)
	m := newModule(reader, nil)

	result := call(t, m, "analyze_outcome_improvement", map[string]any{"protocol_name": "sepsis"})

	metrics := result["metrics_analyzed"].([]MetricSummary)
	require.Len(t, metrics, 2)

	mortality := metrics[0]
	assert.Equal(t, "Sepsis Mortality Rate", mortality.Metric)
	assert.Equal(t, 2, mortality.HospitalsWithData)
	assert.Equal(t, 11.0, mortality.AvgBaseline)
	assert.Equal(t, 7.0, mortality.AvgCurrent)
	assert.Equal(t, 35.0, mortality.AvgImprovementPct)
	assert.Equal(t, "B", mortality.TopImprovers[0].Hospital)
	assert.Equal(t, 50.0, mortality.TopImprovers[0].ImprovementPct)

	assert.Equal(t, 50.0, metrics[1].AvgImprovementPct)
	assert.Equal(t, map[string]int{"total_outcome_records": 3, "metrics_count": 2}, result["overall_summary"])
	assert.Nil(t, reader.LastParams(outcomesFragment)["metric"])
}

func TestOutcomeImprovement_NoData(t *testing.T) {
	reader := graphtest.NewReader().On(resolveFragment, sepsis())
	m := newModule(reader, nil)

	result := call(t, m, "analyze_outcome_improvement", map[string]any{"protocol_name": "sepsis", "metric_name": "LOS"})
	assert.Equal(t, "No outcome data found for protocol adopters", result["message"])
	assert.Equal(t, "LOS", reader.LastParams(outcomesFragment)["metric"])
}

func TestImprovement(t *testing.T) {
	assert.Equal(t, 20.0, improvement(10, 8, "lower_better"))
	assert.Equal(t, -20.0, improvement(10, 12, "lower_better"))
	assert.Equal(t, 33.3, improvement(30, 40, "higher_better"))
	assert.Equal(t, 0.0, improvement(0, 5, "higher_better"))
}

func TestGraphErrorsPropagate(t *testing.T) {
	boom := errors.New("graph unavailable")
	m := newModule(graphtest.NewReader().Fail(resolveFragment, boom), nil)

	_, err := m.adoptionStatus(context.Background(), map[string]any{"protocol_name": "sepsis"})
	assert.ErrorIs(t, err, boom)
}

func TestFactory_RequiresReferralDependency(t *testing.T) {
	_, err := Factory(graphtest.NewReader())(registry.ModuleEnv{})
	assert.ErrorContains(t, err, referral.ModuleRef)

	_, err = Factory(graphtest.NewReader())(registry.ModuleEnv{
		Descriptor:        registry.Descriptor{ID: "qi", DependsOn: []string{"network"}},
		Dependencies:      map[string]domain.DomainModule{"network": &registry.StaticModule{}},
		DependencyModules: map[string]string{"network": referral.ModuleRef},
	})
	assert.ErrorContains(t, err, "hospital lookup")
}

func TestFactory_DomainIDsDifferFromModules(t *testing.T) {
	reader := graphtest.NewReader()
	r := registry.New(registry.Options{
		Descriptors: []registry.Descriptor{
			{ID: "network", Enabled: true, Module: referral.ModuleRef, Tools: []string{"find_hospital"}},
			{ID: "qi", Enabled: true, Module: ModuleRef, DependsOn: []string{"network"},
				Tools: []string{"find_quality_champions"}},
		},
		Modules: registry.ModuleSet{
			ModuleRef:          Factory(reader),
			referral.ModuleRef: referral.Factory(reader),
		},
	})
	require.NoError(t, r.Load(context.Background()))

	owner, err := r.ToolDomain("find_quality_champions")
	require.NoError(t, err)
	assert.Equal(t, "qi", owner)
}

func TestFactory_DependencyOnOtherModuleRejected(t *testing.T) {
	reader := graphtest.NewReader()
	r := registry.New(registry.Options{
		Descriptors: []registry.Descriptor{
			{ID: "network", Enabled: true, Module: "static", Tools: []string{}},
			{ID: "qi", Enabled: true, Module: ModuleRef, DependsOn: []string{"network"},
				Tools: []string{"find_quality_champions"}},
		},
		Modules: registry.ModuleSet{
			ModuleRef: Factory(reader),
			"static": func(registry.ModuleEnv) (domain.DomainModule, error) {
				return &registry.StaticModule{}, nil
			},
		},
	})
	err := r.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.ErrorContains(t, err, "requires a "+referral.ModuleRef)
}

func TestFactory_ThroughRegistry(t *testing.T) {
	reader := graphtest.NewReader()
	r := registry.New(registry.Options{
		Descriptors: []registry.Descriptor{
			{ID: ModuleRef, Enabled: true, Module: ModuleRef, DependsOn: []string{referral.ModuleRef},
				Tools: []string{"get_protocol_adoption_status", "find_quality_champions"}},
			{ID: referral.ModuleRef, Enabled: true, Module: referral.ModuleRef, Tools: []string{"find_hospital"}},
		},
		Modules: registry.ModuleSet{
			ModuleRef:          Factory(reader),
			referral.ModuleRef: referral.Factory(reader),
		},
	})
	require.NoError(t, r.Load(context.Background()))

	order, err := r.LoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{referral.ModuleRef, ModuleRef}, order)

	names, err := r.ListTools()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"find_hospital", "get_protocol_adoption_status", "find_quality_champions"}, names)
}

func TestSampleAdoptions_ComplianceIsPercent(t *testing.T) {
	champions := 0
	for _, a := range sampleAdoptions {
		rate := a["compliance_rate"].(float64)
		assert.Greater(t, rate, 1.0, "%s/%s stored as a fraction", a["hospital"], a["protocol"])
		assert.LessOrEqual(t, rate, 100.0)
		if rate >= championCompliance {
			champions++
		}
	}
	assert.Positive(t, champions)
	assert.Less(t, champions, len(sampleAdoptions))
}
