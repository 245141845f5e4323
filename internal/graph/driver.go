// Package graph is the data-store layer domain tools query. Tools depend on
// Reader only; the concrete Neo4j driver is wired at the composition root.
package graph

import (
	"context"
	"time"
)

// Record is a single result row keyed by the RETURN aliases of the query.
type Record map[string]any

// Reader runs read-only Cypher queries.
type Reader interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// Writer runs write queries (CREATE, MERGE, SET, DELETE).
type Writer interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Driver is the full graph database handle.
type Driver interface {
	Reader
	Writer

	Close(ctx context.Context) error
	Ping(ctx context.Context) error
}

type Config struct {
	URI      string
	Username string // empty means no authentication
	Password string
	Database string // empty selects the server default
	// QueryTimeout bounds every query. Zero disables the bound.
	QueryTimeout time.Duration
}
