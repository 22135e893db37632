// Package neo4j exports ontologies into a Neo4j database as :Term nodes
// linked by :SUBSUMES relationships.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultBatchSize = 2000

// GraphSink writes ontologies through a Neo4j driver.
type GraphSink struct {
	driver    neo4j.DriverWithContext
	database  string
	batchSize int
}

// NewGraphSinkParams configures the connection. User defaults to "neo4j".
type NewGraphSinkParams struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
	BatchSize   int
}

// NewGraphSink connects and verifies connectivity. An empty URI returns a
// nil sink, which callers treat as "export disabled".
func NewGraphSink(ctx context.Context, params NewGraphSinkParams) (*GraphSink, error) {
	if params.URI == "" {
		return nil, nil
	}
	if params.User == "" {
		params.User = "neo4j"
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.MaxPoolSize <= 0 {
		params.MaxPoolSize = 50
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}

	auth := neo4j.BasicAuth(params.User, params.Password, "")
	driver, err := neo4j.NewDriverWithContext(params.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = params.MaxPoolSize
		cfg.SocketConnectTimeout = params.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return &GraphSink{
		driver:    driver,
		database:  params.Database,
		batchSize: params.BatchSize,
	}, nil
}

var _ store.GraphSink = (*GraphSink)(nil)

// UpsertOntology replaces every term of o.Metadata.Name with the current
// nodes and edges.
func (s *GraphSink) UpsertOntology(ctx context.Context, o *graph.Ontology) error {
	if s == nil || s.driver == nil {
		return nil
	}
	name := o.Metadata.Name
	nodes, err := termProperties(o)
	if err != nil {
		return err
	}
	edges := subsumptions(o)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			logger.Warn("[Neo4j] Schema init failed, continuing", "err", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}

	if err := s.write(ctx, session, deleteTermsCypher, map[string]any{"ontology": name}); err != nil {
		return fmt.Errorf("failed to clear %s: %w", name, err)
	}
	err = store.ChunkRange(len(nodes), s.batchSize, func(start, end int) error {
		return s.write(ctx, session, mergeTermsCypher, map[string]any{"ontology": name, "terms": nodes[start:end]})
	})
	if err != nil {
		return fmt.Errorf("failed to write terms of %s: %w", name, err)
	}
	err = store.ChunkRange(len(edges), s.batchSize, func(start, end int) error {
		return s.write(ctx, session, mergeEdgesCypher, map[string]any{"ontology": name, "edges": edges[start:end]})
	})
	if err != nil {
		return fmt.Errorf("failed to write edges of %s: %w", name, err)
	}

	logger.Info("[Neo4j] Exported ontology", "ontology", name, "terms", len(nodes), "edges", len(edges))
	return nil
}

func (s *GraphSink) write(ctx context.Context, session neo4j.SessionWithContext, cypher string, params map[string]any) error {
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// Close shuts the driver down.
func (s *GraphSink) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	return err
}

// termProperties flattens node attributes into Neo4j properties. Scalars and
// string lists are kept as is; nested values are stored as JSON text under a
// "_json" suffixed key.
func termProperties(o *graph.Ontology) ([]map[string]any, error) {
	out := make([]map[string]any, 0, o.Len())
	for _, id := range o.Nodes() {
		attrs, err := o.Attributes(id)
		if err != nil {
			return nil, err
		}
		props := make(map[string]any, len(attrs))
		for k, v := range attrs {
			flat, key, err := flatten(k, v)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", id, err)
			}
			if flat != nil {
				props[key] = flat
			}
		}
		out = append(out, map[string]any{"id": id.String(), "props": props})
	}
	return out, nil
}

func flatten(key string, v any) (any, string, error) {
	switch val := v.(type) {
	case nil:
		return nil, key, nil
	case string, bool, int, int64, float64:
		return val, key, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, key, nil
		}
		f, err := val.Float64()
		return f, key, err
	case []string:
		return val, key, nil
	case []any:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				break
			}
			strs = append(strs, s)
		}
		if len(strs) == len(val) {
			return strs, key, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, key, err
	}
	return string(raw), key + "_json", nil
}

func subsumptions(o *graph.Ontology) []map[string]any {
	edges := o.Edges()
	out := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		predicate := ""
		if p, ok := e.Attributes["predicate"].(string); ok {
			predicate = p
		}
		out = append(out, map[string]any{
			"parent":    e.Parent.String(),
			"child":     e.Child.String(),
			"predicate": predicate,
		})
	}
	return out
}

var schemaStatements = []string{
	`CREATE CONSTRAINT term_ontology_id_unique IF NOT EXISTS FOR (t:Term) REQUIRE (t.ontology, t.id) IS UNIQUE`,
}

const deleteTermsCypher = `
MATCH (t:Term {ontology: $ontology})
DETACH DELETE t
`

const mergeTermsCypher = `
UNWIND $terms AS term
MERGE (t:Term {ontology: $ontology, id: term.id})
SET t += term.props
`

const mergeEdgesCypher = `
UNWIND $edges AS edge
MATCH (p:Term {ontology: $ontology, id: edge.parent})
MATCH (c:Term {ontology: $ontology, id: edge.child})
MERGE (p)-[r:SUBSUMES]->(c)
SET r.predicate = edge.predicate
`
