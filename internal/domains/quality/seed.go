package quality

import (
	"context"
	"errors"
	"fmt"

	"refagent/internal/graph"
)

// ErrNoHospitals is returned by Seed when the referral network has not been
// loaded yet.
var ErrNoHospitals = errors.New("no hospitals in the graph; load the referral network first")

var sampleProtocols = []map[string]any{
	{"id": "proto-001", "name": "Sepsis Bundle v2.0", "category": "infection_control", "release_date": "2024-01-15",
		"source": "CHA IPSO Collaborative", "evidence_level": "high", "version": "2.0",
		"description": "Evidence-based bundle for early sepsis recognition and treatment"},
	{"id": "proto-002", "name": "CLABSI Prevention Bundle", "category": "infection_control", "release_date": "2023-06-01",
		"source": "CHA Quality Collaborative", "evidence_level": "high", "version": "1.5",
		"description": "Central line-associated bloodstream infection prevention"},
	{"id": "proto-003", "name": "Pediatric Early Warning Score", "category": "safety", "release_date": "2023-09-15",
		"source": "CHA Safety Committee", "evidence_level": "moderate", "version": "1.0",
		"description": "Standardized assessment for detecting clinical deterioration"},
	{"id": "proto-004", "name": "Safe Medication Administration", "category": "medication_safety", "release_date": "2024-03-01",
		"source": "CHA Pharmacy Network", "evidence_level": "high", "version": "2.0",
		"description": "Five rights verification and barcode scanning protocol"},
}

var sampleMetrics = []map[string]any{
	{"id": "metric-001", "name": "Sepsis Mortality Rate", "unit": "percentage", "direction": "lower_better", "benchmark": 5.0, "data_source": "PHIS"},
	{"id": "metric-002", "name": "Time to Antibiotics", "unit": "minutes", "direction": "lower_better", "benchmark": 60.0, "data_source": "PHIS"},
	{"id": "metric-003", "name": "CLABSI Rate", "unit": "per 1000 line days", "direction": "lower_better", "benchmark": 1.0, "data_source": "NHSN"},
	{"id": "metric-004", "name": "Unplanned ICU Transfers", "unit": "per 1000 patient days", "direction": "lower_better", "benchmark": 5.0, "data_source": "Internal"},
}

var sampleMeasures = []map[string]any{
	{"protocol": "proto-001", "metric": "metric-001", "weight": 0.6, "target_improvement": 40.0, "is_primary": true},
	{"protocol": "proto-001", "metric": "metric-002", "weight": 0.4, "target_improvement": 35.0, "is_primary": false},
	{"protocol": "proto-002", "metric": "metric-003", "weight": 1.0, "target_improvement": 50.0, "is_primary": true},
	{"protocol": "proto-003", "metric": "metric-004", "weight": 1.0, "target_improvement": 30.0, "is_primary": true},
}

// Compliance rates are percentages.
var sampleAdoptions = []map[string]any{
	{"hospital": "hosp-001", "protocol": "proto-001", "adoption_date": "2024-02-15", "compliance_rate": 94.2, "adoption_phase": "full", "champion": "Dr. Sarah Chen"},
	{"hospital": "hosp-002", "protocol": "proto-001", "adoption_date": "2024-03-01", "compliance_rate": 91.0, "adoption_phase": "full", "champion": "Dr. Michael Roberts"},
	{"hospital": "hosp-003", "protocol": "proto-001", "adoption_date": "2024-04-01", "compliance_rate": 88.5, "adoption_phase": "full", "champion": "Dr. James Park"},
	{"hospital": "hosp-008", "protocol": "proto-001", "adoption_date": "2024-05-15", "compliance_rate": 86.0, "adoption_phase": "partial", "champion": "Dr. Lisa Martinez"},
	{"hospital": "hosp-007", "protocol": "proto-001", "adoption_date": "2024-09-01", "compliance_rate": 78.0, "adoption_phase": "partial", "champion": "Dr. Amy Wilson"},
	{"hospital": "hosp-001", "protocol": "proto-002", "adoption_date": "2023-07-15", "compliance_rate": 96.0, "adoption_phase": "full", "champion": "Dr. Sarah Chen"},
	{"hospital": "hosp-002", "protocol": "proto-002", "adoption_date": "2023-08-01", "compliance_rate": 94.5, "adoption_phase": "full", "champion": "Dr. Emily Watson"},
	{"hospital": "hosp-003", "protocol": "proto-002", "adoption_date": "2023-09-01", "compliance_rate": 92.0, "adoption_phase": "full", "champion": "Dr. James Park"},
	{"hospital": "hosp-007", "protocol": "proto-002", "adoption_date": "2024-01-15", "compliance_rate": 85.0, "adoption_phase": "full", "champion": "Dr. Amy Wilson"},
	{"hospital": "hosp-008", "protocol": "proto-002", "adoption_date": "2024-02-01", "compliance_rate": 88.0, "adoption_phase": "full", "champion": "Dr. Lisa Martinez"},
}

// learner is the hospital that picked the practice up from mentor.
var sampleLearnedFrom = []map[string]any{
	{"mentor": "hosp-001", "learner": "hosp-002", "interaction_type": "collaborative_meeting", "date": "2024-02-01", "protocol_context": "Sepsis Bundle v2.0", "effectiveness_rating": 5},
	{"mentor": "hosp-001", "learner": "hosp-003", "interaction_type": "site_visit", "date": "2024-03-15", "protocol_context": "Sepsis Bundle v2.0", "effectiveness_rating": 5},
	{"mentor": "hosp-002", "learner": "hosp-008", "interaction_type": "webinar", "date": "2024-04-20", "protocol_context": "Sepsis Bundle v2.0", "effectiveness_rating": 4},
	{"mentor": "hosp-003", "learner": "hosp-007", "interaction_type": "peer_consult", "date": "2024-07-10", "protocol_context": "Sepsis Bundle v2.0", "effectiveness_rating": 4},
	{"mentor": "hosp-001", "learner": "hosp-002", "interaction_type": "conference_presentation", "date": "2023-06-15", "protocol_context": "CLABSI Prevention Bundle", "effectiveness_rating": 5},
	{"mentor": "hosp-001", "learner": "hosp-003", "interaction_type": "site_visit", "date": "2023-08-01", "protocol_context": "CLABSI Prevention Bundle", "effectiveness_rating": 5},
	{"mentor": "hosp-002", "learner": "hosp-007", "interaction_type": "webinar", "date": "2023-11-15", "protocol_context": "CLABSI Prevention Bundle", "effectiveness_rating": 4},
	{"mentor": "hosp-003", "learner": "hosp-008", "interaction_type": "peer_consult", "date": "2024-01-10", "protocol_context": "CLABSI Prevention Bundle", "effectiveness_rating": 4},
}

var sampleOutcomes = []map[string]any{
	{"hospital": "hosp-001", "metric": "metric-001", "protocol": "proto-001", "baseline": 7.5, "current": 3.2, "measurement_period": "Q4-2025", "sample_size": 150},
	{"hospital": "hosp-001", "metric": "metric-002", "protocol": "proto-001", "baseline": 95.0, "current": 52.0, "measurement_period": "Q4-2025", "sample_size": 150},
	{"hospital": "hosp-002", "metric": "metric-001", "protocol": "proto-001", "baseline": 8.0, "current": 4.1, "measurement_period": "Q4-2025", "sample_size": 120},
	{"hospital": "hosp-003", "metric": "metric-001", "protocol": "proto-001", "baseline": 7.2, "current": 4.5, "measurement_period": "Q4-2025", "sample_size": 135},
	{"hospital": "hosp-001", "metric": "metric-003", "protocol": "proto-002", "baseline": 2.1, "current": 0.8, "measurement_period": "Q4-2025", "sample_size": 8500},
	{"hospital": "hosp-002", "metric": "metric-003", "protocol": "proto-002", "baseline": 1.9, "current": 0.7, "measurement_period": "Q4-2025", "sample_size": 9200},
	{"hospital": "hosp-003", "metric": "metric-003", "protocol": "proto-002", "baseline": 2.3, "current": 1.0, "measurement_period": "Q4-2025", "sample_size": 7800},
}

const hospitalCountQuery = `MATCH (h:Hospital) RETURN count(h) AS hospitals`

var clearQueries = []string{
	`MATCH (n) WHERE n:Protocol OR n:OutcomeMetric DETACH DELETE n`,
	`MATCH (:Hospital)-[r:LEARNED_FROM]->(:Hospital) DELETE r`,
}

var seedSteps = []struct {
	name  string
	query string
	rows  []map[string]any
}{
	{"protocols", `
UNWIND $rows AS row
MERGE (p:Protocol {id: row.id})
SET p.name = row.name, p.category = row.category, p.release_date = row.release_date,
    p.source = row.source, p.evidence_level = row.evidence_level,
    p.description = row.description, p.version = row.version`, sampleProtocols},
	{"outcome metrics", `
UNWIND $rows AS row
MERGE (m:OutcomeMetric {id: row.id})
SET m.name = row.name, m.unit = row.unit, m.direction = row.direction,
    m.benchmark = row.benchmark, m.data_source = row.data_source`, sampleMetrics},
	{"protocol measures", `
UNWIND $rows AS row
MATCH (p:Protocol {id: row.protocol}), (m:OutcomeMetric {id: row.metric})
MERGE (p)-[r:MEASURES]->(m)
SET r.weight = row.weight, r.target_improvement = row.target_improvement, r.is_primary = row.is_primary`, sampleMeasures},
	{"adoptions", `
UNWIND $rows AS row
MATCH (h:Hospital {id: row.hospital}), (p:Protocol {id: row.protocol})
MERGE (h)-[a:ADOPTED]->(p)
SET a.adoption_date = row.adoption_date, a.compliance_rate = row.compliance_rate,
    a.adoption_phase = row.adoption_phase, a.champion = row.champion`, sampleAdoptions},
	{"learning relationships", `
UNWIND $rows AS row
MATCH (learner:Hospital {id: row.learner}), (mentor:Hospital {id: row.mentor})
MERGE (learner)-[l:LEARNED_FROM {protocol_context: row.protocol_context}]->(mentor)
SET l.interaction_type = row.interaction_type, l.date = row.date,
    l.effectiveness_rating = row.effectiveness_rating`, sampleLearnedFrom},
	{"outcomes", `
UNWIND $rows AS row
MATCH (h:Hospital {id: row.hospital}), (m:OutcomeMetric {id: row.metric}), (p:Protocol {id: row.protocol})
MERGE (h)-[o:ACHIEVED {protocol: p.name}]->(m)
SET o.baseline = row.baseline, o.current = row.current,
    o.measurement_period = row.measurement_period, o.sample_size = row.sample_size`, sampleOutcomes},
}

// Seed loads the sample protocols, adoptions, learning relationships and
// outcomes on top of the referral network. It needs a graph that can be both
// read and written because it refuses to run before hospitals exist.
func Seed(ctx context.Context, g interface {
	graph.Reader
	graph.Writer
}, reset bool) error {
	records, err := g.Execute(ctx, hospitalCountQuery, nil)
	if err != nil {
		return fmt.Errorf("count hospitals: %w", err)
	}
	if len(records) == 0 || graph.GetInt(records[0], "hospitals") == 0 {
		return ErrNoHospitals
	}

	if reset {
		for _, q := range clearQueries {
			if err := g.ExecuteWrite(ctx, q, nil); err != nil {
				return fmt.Errorf("clear quality data: %w", err)
			}
		}
	}
	for _, step := range seedSteps {
		if err := g.ExecuteWrite(ctx, step.query, map[string]any{"rows": graph.ListParam(step.rows)}); err != nil {
			return fmt.Errorf("load %s: %w", step.name, err)
		}
	}
	return nil
}
