package referral

import (
	"refagent/internal/domain"
	"refagent/internal/tool"
)

const (
	defaultMaxHops = 3
	maxPathHops    = 6
	maxPaths       = 10
)

func (m *Module) ListToolDefinitions() []domain.ToolDefinition {
	hospitalName := func(desc string) map[string]any {
		return tool.ToolParameters(
			map[string]tool.Param{"hospital_name": {Type: "string", Description: desc}},
			[]string{"hospital_name"},
		)
	}
	serviceName := tool.ToolParameters(
		map[string]tool.Param{"service_name": {Type: "string", Description: "Name of the service line (e.g. 'Cardiac Surgery')"}},
		[]string{"service_name"},
	)

	return []domain.ToolDefinition{
		tool.Define("find_hospital",
			"Search for hospitals by name, state, type, or rural status. Partial names like 'Mercy' match.",
			tool.ToolParameters(map[string]tool.Param{
				"name":          {Type: "string", Description: "Hospital name (partial, case-insensitive match)"},
				"state":         {Type: "string", Description: "State abbreviation (e.g. 'MO', 'KS')"},
				"hospital_type": {Type: "string", Description: "Hospital type", Enum: []string{"tertiary", "community", "regional", "specialty"}},
				"rural":         {Type: "boolean", Description: "Whether the hospital is in a rural area"},
			}, nil)),
		tool.Define("get_referral_sources",
			"Find all hospitals that refer patients to a specific hospital, ordered by referral volume",
			hospitalName("Exact name of the receiving hospital")),
		tool.Define("get_referral_destinations",
			"Find all hospitals that receive referrals from a specific hospital, ordered by referral volume",
			hospitalName("Exact name of the referring hospital")),
		tool.Define("get_network_statistics",
			"Get overall statistics about the referral network",
			nil),
		tool.Define("find_referral_path",
			"Find referral paths between two hospitals, shortest first",
			tool.ToolParameters(map[string]tool.Param{
				"from_hospital": {Type: "string", Description: "Starting hospital name"},
				"to_hospital":   {Type: "string", Description: "Destination hospital name"},
				"max_hops":      {Type: "integer", Description: "Maximum number of referral hops (1-6)", Default: defaultMaxHops},
			}, []string{"from_hospital", "to_hospital"})),
		tool.Define("get_providers_by_specialty",
			"Find providers by medical specialty and the hospitals that employ them",
			tool.ToolParameters(
				map[string]tool.Param{"specialty": {Type: "string", Description: "Medical specialty (e.g. 'Pediatric Cardiology')"}},
				[]string{"specialty"},
			)),
		tool.Define("get_hospitals_by_service",
			"Find hospitals offering a specific service line with case volume and national ranking",
			serviceName),
		tool.Define("analyze_rural_access",
			"Analyze whether rural hospitals have a direct referral route to hospitals offering a service",
			serviceName),
	}
}
