package referral

import (
	"context"
	"fmt"

	"refagent/internal/graph"
)

// Sample network: eight Midwest children's hospitals with their referral
// flows, providers and service lines.

var sampleHospitals = []map[string]any{
	{"id": "hosp-001", "name": "Children's Mercy Kansas City", "city": "Kansas City", "state": "MO", "type": "tertiary", "beds": 354, "rural": false},
	{"id": "hosp-002", "name": "Children's Hospital Colorado", "city": "Aurora", "state": "CO", "type": "tertiary", "beds": 434, "rural": false},
	{"id": "hosp-003", "name": "St. Louis Children's Hospital", "city": "St. Louis", "state": "MO", "type": "tertiary", "beds": 402, "rural": false},
	{"id": "hosp-004", "name": "Regional Medical Center", "city": "Joplin", "state": "MO", "type": "community", "beds": 85, "rural": true},
	{"id": "hosp-005", "name": "Prairie Community Hospital", "city": "Salina", "state": "KS", "type": "community", "beds": 45, "rural": true},
	{"id": "hosp-006", "name": "Heartland Pediatrics", "city": "Topeka", "state": "KS", "type": "specialty", "beds": 30, "rural": false},
	{"id": "hosp-007", "name": "Ozark Regional Medical", "city": "Springfield", "state": "MO", "type": "regional", "beds": 120, "rural": false},
	{"id": "hosp-008", "name": "Nebraska Children's", "city": "Omaha", "state": "NE", "type": "tertiary", "beds": 145, "rural": false},
}

var sampleProviders = []map[string]any{
	{"id": "prov-001", "name": "Dr. Sarah Chen", "specialty": "Pediatric Cardiology", "npi": "1234567890"},
	{"id": "prov-002", "name": "Dr. Michael Roberts", "specialty": "Pediatric Oncology", "npi": "2345678901"},
	{"id": "prov-003", "name": "Dr. Emily Watson", "specialty": "Pediatric Neurology", "npi": "3456789012"},
	{"id": "prov-004", "name": "Dr. James Park", "specialty": "Pediatric Surgery", "npi": "4567890123"},
	{"id": "prov-005", "name": "Dr. Lisa Martinez", "specialty": "Neonatology", "npi": "5678901234"},
	{"id": "prov-006", "name": "Dr. Robert Kim", "specialty": "Pediatric Cardiology", "npi": "6789012345"},
}

var sampleServiceLines = []map[string]any{
	{"id": "svc-001", "name": "Cardiac Surgery", "category": "surgical"},
	{"id": "svc-002", "name": "Oncology", "category": "medical"},
	{"id": "svc-003", "name": "NICU", "category": "critical_care"},
	{"id": "svc-004", "name": "Neurology", "category": "medical"},
	{"id": "svc-005", "name": "General Pediatrics", "category": "primary"},
}

var sampleReferrals = []map[string]any{
	{"from": "hosp-004", "to": "hosp-001", "count": 145, "avg_acuity": 3.2},
	{"from": "hosp-005", "to": "hosp-001", "count": 87, "avg_acuity": 2.8},
	{"from": "hosp-006", "to": "hosp-001", "count": 62, "avg_acuity": 3.5},
	{"from": "hosp-007", "to": "hosp-001", "count": 93, "avg_acuity": 2.9},
	{"from": "hosp-007", "to": "hosp-003", "count": 78, "avg_acuity": 3.1},
	{"from": "hosp-004", "to": "hosp-003", "count": 34, "avg_acuity": 3.4},
	{"from": "hosp-005", "to": "hosp-002", "count": 23, "avg_acuity": 3.0},
	{"from": "hosp-004", "to": "hosp-007", "count": 56, "avg_acuity": 2.1},
	{"from": "hosp-005", "to": "hosp-006", "count": 41, "avg_acuity": 2.3},
	{"from": "hosp-001", "to": "hosp-002", "count": 12, "avg_acuity": 4.2},
	{"from": "hosp-001", "to": "hosp-008", "count": 8, "avg_acuity": 3.8},
	{"from": "hosp-003", "to": "hosp-001", "count": 15, "avg_acuity": 4.0},
}

var sampleEmployment = []map[string]any{
	{"hospital": "hosp-001", "provider": "prov-001", "fte": 1.0},
	{"hospital": "hosp-001", "provider": "prov-002", "fte": 1.0},
	{"hospital": "hosp-001", "provider": "prov-005", "fte": 0.8},
	{"hospital": "hosp-002", "provider": "prov-003", "fte": 1.0},
	{"hospital": "hosp-003", "provider": "prov-004", "fte": 1.0},
	{"hospital": "hosp-003", "provider": "prov-006", "fte": 1.0},
	{"hospital": "hosp-008", "provider": "prov-005", "fte": 0.2},
}

var sampleServices = []map[string]any{
	{"hospital": "hosp-001", "service": "svc-001", "volume": 850, "ranking": 5},
	{"hospital": "hosp-001", "service": "svc-002", "volume": 620, "ranking": 12},
	{"hospital": "hosp-001", "service": "svc-003", "volume": 1200, "ranking": 3},
	{"hospital": "hosp-002", "service": "svc-001", "volume": 920, "ranking": 3},
	{"hospital": "hosp-002", "service": "svc-004", "volume": 780, "ranking": 8},
	{"hospital": "hosp-003", "service": "svc-001", "volume": 780, "ranking": 8},
	{"hospital": "hosp-003", "service": "svc-002", "volume": 890, "ranking": 6},
	{"hospital": "hosp-007", "service": "svc-005", "volume": 2400, "ranking": 25},
	{"hospital": "hosp-008", "service": "svc-003", "volume": 650, "ranking": 15},
}

const clearQuery = `
MATCH (n)
WHERE n:Hospital OR n:Provider OR n:ServiceLine
DETACH DELETE n`

var seedSteps = []struct {
	name  string
	query string
	rows  []map[string]any
}{
	{"hospitals", `
UNWIND $rows AS row
MERGE (h:Hospital {id: row.id})
SET h.name = row.name, h.city = row.city, h.state = row.state,
    h.type = row.type, h.beds = row.beds, h.rural = row.rural`, sampleHospitals},
	{"providers", `
UNWIND $rows AS row
MERGE (p:Provider {id: row.id})
SET p.name = row.name, p.specialty = row.specialty, p.npi = row.npi`, sampleProviders},
	{"service lines", `
UNWIND $rows AS row
MERGE (s:ServiceLine {id: row.id})
SET s.name = row.name, s.category = row.category`, sampleServiceLines},
	{"referrals", `
UNWIND $rows AS row
MATCH (a:Hospital {id: row.from}), (b:Hospital {id: row.to})
MERGE (a)-[r:REFERS_TO]->(b)
SET r.count = row.count, r.avg_acuity = row.avg_acuity`, sampleReferrals},
	{"employment", `
UNWIND $rows AS row
MATCH (h:Hospital {id: row.hospital}), (p:Provider {id: row.provider})
MERGE (h)-[e:EMPLOYS]->(p)
SET e.fte = row.fte`, sampleEmployment},
	{"service volumes", `
UNWIND $rows AS row
MATCH (h:Hospital {id: row.hospital}), (s:ServiceLine {id: row.service})
MERGE (h)-[r:SPECIALIZES_IN]->(s)
SET r.volume = row.volume, r.ranking = row.ranking`, sampleServices},
}

// Seed loads the sample referral network. Loading is idempotent; with reset
// the existing hospitals, providers and service lines are removed first.
func Seed(ctx context.Context, w graph.Writer, reset bool) error {
	if reset {
		if err := w.ExecuteWrite(ctx, clearQuery, nil); err != nil {
			return fmt.Errorf("clear referral network: %w", err)
		}
	}
	for _, step := range seedSteps {
		if err := w.ExecuteWrite(ctx, step.query, map[string]any{"rows": graph.ListParam(step.rows)}); err != nil {
			return fmt.Errorf("load %s: %w", step.name, err)
		}
	}
	return nil
}
