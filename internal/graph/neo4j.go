package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4j implements Driver over the Bolt protocol. It works against Neo4j and
// Memgraph alike.
type Neo4j struct {
	driver neo4j.DriverWithContext
	config Config
}

func NewNeo4j(cfg Config) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, errors.New("graph uri is required")
	}
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	return &Neo4j{driver: driver, config: cfg}, nil
}

// Execute runs a read query and collects every row.
func (n *Neo4j) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: n.config.Database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var records []Record
	for result.Next(ctx) {
		rec := result.Record()
		record := make(Record, len(rec.Keys))
		for i, key := range rec.Keys {
			record[key] = rec.Values[i]
		}
		records = append(records, record)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}
	return records, nil
}

func (n *Neo4j) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: n.config.Database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}
	return nil
}

func (n *Neo4j) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// Ping checks database connectivity.
func (n *Neo4j) Ping(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}

func (n *Neo4j) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, n.config.QueryTimeout)
}

// IsConnectionError reports whether err looks like the database is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF")
}
