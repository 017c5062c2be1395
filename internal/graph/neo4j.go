package graph

import (
	"context"
	"fmt"
	"log"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig contains the driver connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4j implements Store on a Neo4j server.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *log.Logger
}

// NewNeo4j connects to the configured server.
func NewNeo4j(cfg Neo4jConfig) (*Neo4j, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return &Neo4j{
		driver:   driver,
		database: cfg.Database,
		logger:   log.New(log.Writer(), "[GRAPH] ", log.LstdFlags),
	}, nil
}

// MergeEntities upserts nodes. The label is interpolated only after
// schema validation; the name always travels as a parameter.
func (g *Neo4j) MergeEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range entities {
			query := fmt.Sprintf("MERGE (e:%s {name: $name})", e.Type)
			if _, err := tx.Run(ctx, query, map[string]any{"name": e.Name}); err != nil {
				return nil, fmt.Errorf("merge entity %s:%s: %w", e.Type, e.Name, err)
			}
		}
		return nil, nil
	})
	return err
}

// MergeRelationships upserts edges between existing nodes. Endpoints are
// matched, never created: a relationship whose endpoint is absent from
// the graph produces zero edges and no error. Typed endpoints match by
// label and name; untyped ones by name alone, first match wins when a
// name spans several labels.
func (g *Neo4j) MergeRelationships(ctx context.Context, rels []Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	for _, r := range rels {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, r := range rels {
			query := fmt.Sprintf(
				"MATCH %s MATCH %s WITH a, b LIMIT 1 MERGE (a)-[:%s]->(b)",
				endpointPattern("a", "$source", r.SourceType),
				endpointPattern("b", "$target", r.TargetType),
				r.Type,
			)
			params := map[string]any{"source": r.SourceName, "target": r.TargetName}
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, fmt.Errorf("merge relationship %s-[%s]->%s: %w", r.SourceName, r.Type, r.TargetName, err)
			}
		}
		return nil, nil
	})
	return err
}

// endpointPattern renders a node pattern for a relationship endpoint.
// label comes from the validated schema enumeration only; the name is
// always a query parameter.
func endpointPattern(alias, param, label string) string {
	if label == "" {
		return fmt.Sprintf("(%s {name: %s})", alias, param)
	}
	return fmt.Sprintf("(%s:%s {name: %s})", alias, label, param)
}

// ReadQuery runs a guarded read-only statement and returns plain maps.
func (g *Neo4j) ReadQuery(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if err := EnsureReadOnly(cypher); err != nil {
		return nil, err
	}
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]interface{}, 0, len(records))
		for _, rec := range records {
			out = append(out, rec.AsMap())
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	return rows.([]map[string]interface{}), nil
}

// Ping verifies server connectivity.
func (g *Neo4j) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts the driver down.
func (g *Neo4j) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   mode,
	})
}
