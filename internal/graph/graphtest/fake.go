// Package graphtest provides an in-memory graph.Reader and graph.Writer for
// tests.
package graphtest

import (
	"context"
	"strings"
	"sync"

	"refagent/internal/graph"
)

type rule struct {
	fragment string
	records  []graph.Record
	err      error
}

// Call is one query the fake received.
type Call struct {
	Query  string
	Params map[string]any
}

// Reader answers queries by matching a fragment of the query text. Rules are
// checked in the order they were added; unmatched queries return no rows.
type Reader struct {
	mu    sync.Mutex
	rules  []rule
	calls  []Call
	writes int
}

func NewReader() *Reader { return &Reader{} }

// On answers queries containing fragment with records.
func (r *Reader) On(fragment string, records ...graph.Record) *Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{fragment: fragment, records: records})
	return r
}

// Fail makes queries containing fragment return err.
func (r *Reader) Fail(fragment string, err error) *Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{fragment: fragment, err: err})
	return r
}

func (r *Reader) Execute(ctx context.Context, query string, params map[string]any) ([]graph.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	r.calls = append(r.calls, Call{Query: query, Params: copied})

	for _, rl := range r.rules {
		if strings.Contains(query, rl.fragment) {
			return rl.records, rl.err
		}
	}
	return nil, nil
}

// ExecuteWrite records the write. Fail rules apply to writes too.
func (r *Reader) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	r.calls = append(r.calls, Call{Query: query, Params: copied})
	r.writes++

	for _, rl := range r.rules {
		if rl.err != nil && strings.Contains(query, rl.fragment) {
			return rl.err
		}
	}
	return nil
}

// Writes returns how many write queries were received.
func (r *Reader) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Calls returns the queries received so far.
func (r *Reader) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// LastParams returns the parameters of the most recent query containing
// fragment, or nil.
func (r *Reader) LastParams(fragment string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if strings.Contains(r.calls[i].Query, fragment) {
			return r.calls[i].Params
		}
	}
	return nil
}
