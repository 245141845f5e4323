package quality

import (
	"refagent/internal/domain"
	"refagent/internal/tool"
)

func (m *Module) ListToolDefinitions() []domain.ToolDefinition {
	protocol := tool.Param{Type: "string", Description: "Protocol name, partial match (e.g. 'Sepsis Bundle', 'CLABSI Prevention')"}

	return []domain.ToolDefinition{
		tool.Define("get_protocol_adoption_status",
			"Get adoption status for a quality improvement protocol across all hospitals: adoption rate, phases, compliance, adopters and non-adopters.",
			tool.ToolParameters(map[string]tool.Param{"protocol_name": protocol}, []string{"protocol_name"})),
		tool.Define("find_adoption_gaps",
			"Find non-adopting hospitals that are well connected to adopters (high-potential outreach targets) and isolated hospitals that need direct intervention.",
			tool.ToolParameters(map[string]tool.Param{
				"protocol_name":   protocol,
				"min_connections": {Type: "integer", Description: "Minimum connections to adopters for a high-potential target", Default: defaultMinConnections},
				"state":           {Type: "string", Description: "Optional state abbreviation to limit the analysis"},
			}, []string{"protocol_name"})),
		tool.Define("get_protocol_spread_path",
			"Trace how a protocol spread to a hospital: the chain of hospitals it learned from, with interaction types and dates.",
			tool.ToolParameters(map[string]tool.Param{
				"protocol_name": protocol,
				"hospital_name": {Type: "string", Description: "Hospital to trace the path to (partial match)"},
			}, []string{"protocol_name", "hospital_name"})),
		tool.Define("find_quality_champions",
			"Identify high-compliance hospitals that have influenced others to adopt protocols, ranked by influence.",
			tool.ToolParameters(map[string]tool.Param{
				"protocol_name": {Type: "string", Description: "Optional protocol filter; omit to analyze all protocols"},
			}, nil)),
		tool.Define("analyze_outcome_improvement",
			"Analyze outcome improvements for hospitals that adopted a protocol: baseline vs current, improvement percentages, top improvers.",
			tool.ToolParameters(map[string]tool.Param{
				"protocol_name": protocol,
				"metric_name":   {Type: "string", Description: "Optional outcome metric (partial match)"},
			}, []string{"protocol_name"})),
	}
}
