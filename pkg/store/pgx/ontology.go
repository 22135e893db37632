package pgx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

var (
	nodeColumns = []string{"ontology", "position", "node_key", "is_int", "attributes"}
	edgeColumns = []string{"ontology", "position", "parent_key", "parent_is_int", "child_key", "child_is_int", "attributes"}
)

// SaveOntology replaces the stored copy of o, identified by its metadata name,
// inside a single transaction.
func (s *OntologyDBStorage) SaveOntology(ctx context.Context, runID string, o *graph.Ontology) error {
	if !o.Frozen() {
		return graph.ErrNotFrozen
	}
	name := o.Metadata.Name
	if name == "" {
		return fmt.Errorf("ontology has no name")
	}

	extra, err := json.Marshal(sanitizeValue(map[string]any(o.Metadata.Extra)))
	if err != nil {
		return fmt.Errorf("failed to encode metadata of %s: %w", name, err)
	}
	nodes, err := nodeRows(o)
	if err != nil {
		return err
	}
	edges, err := edgeRows(o)
	if err != nil {
		return err
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	logger.Debug("[Store][SaveOntology] Replacing ontology", "ontology", name, "nodes", len(nodes), "edges", len(edges))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteOntologySQL, name); err != nil {
		return fmt.Errorf("failed to delete previous %s: %w", name, err)
	}
	if _, err := tx.Exec(
		ctx,
		insertOntologySQL,
		name,
		runID,
		util.SanitizePostgresText(o.Metadata.Version),
		util.SanitizePostgresText(o.Metadata.Description),
		util.SanitizePostgresText(o.Metadata.License),
		json.RawMessage(extra),
		len(nodes),
		len(edges),
	); err != nil {
		return fmt.Errorf("failed to insert %s: %w", name, err)
	}

	if err := s.copyRows(ctx, tx, "ontology_nodes", nodeColumns, nodes); err != nil {
		return fmt.Errorf("failed to copy nodes of %s: %w", name, err)
	}
	if err := s.copyRows(ctx, tx, "ontology_edges", edgeColumns, edges); err != nil {
		return fmt.Errorf("failed to copy edges of %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Info("[Store] Saved ontology", "ontology", name, "run_id", runID)
	return nil
}

func (s *OntologyDBStorage) copyRows(ctx context.Context, tx pgxv5.Tx, table string, columns []string, rows [][]any) error {
	return store.ChunkRange(len(rows), s.chunkSize, func(start, end int) error {
		_, err := tx.CopyFrom(ctx, pgxv5.Identifier{table}, columns, pgxv5.CopyFromRows(rows[start:end]))
		return err
	})
}

// LoadOntology reads an ontology back, validates it and returns it frozen.
func (s *OntologyDBStorage) LoadOntology(ctx context.Context, name string) (*graph.Ontology, error) {
	var (
		meta  graph.Metadata
		extra []byte
	)
	err := s.conn.QueryRow(ctx, selectOntologySQL, name).Scan(
		&meta.Name, &meta.Version, &meta.Description, &meta.License, &extra,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
		}
		return nil, err
	}
	if err := decodeJSON(extra, &meta.Extra); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", name, err)
	}

	rows, err := s.conn.Query(ctx, selectNodesSQL, name)
	if err != nil {
		return nil, err
	}
	var nodes []common.NodeRecord
	for rows.Next() {
		var (
			key   string
			isInt bool
			attrs []byte
		)
		if err := rows.Scan(&key, &isInt, &attrs); err != nil {
			rows.Close()
			return nil, err
		}
		rec, err := nodeFromRow(key, isInt, attrs)
		if err != nil {
			rows.Close()
			return nil, err
		}
		nodes = append(nodes, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.conn.Query(ctx, selectEdgesSQL, name)
	if err != nil {
		return nil, err
	}
	var edges []common.EdgeRecord
	for rows.Next() {
		var (
			parentKey, childKey     string
			parentIsInt, childIsInt bool
			attrs                   []byte
		)
		if err := rows.Scan(&parentKey, &parentIsInt, &childKey, &childIsInt, &attrs); err != nil {
			rows.Close()
			return nil, err
		}
		rec, err := edgeFromRow(parentKey, parentIsInt, childKey, childIsInt, attrs)
		if err != nil {
			rows.Close()
			return nil, err
		}
		edges = append(edges, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	o, _, err := graph.Build(meta, nodes, edges, graph.BuildOptions{StrictDuplicates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild %s: %w", name, err)
	}
	return o, nil
}

// ListOntologies returns a summary of every stored ontology ordered by name.
func (s *OntologyDBStorage) ListOntologies(ctx context.Context) ([]store.OntologySummary, error) {
	rows, err := s.conn.Query(ctx, listOntologiesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OntologySummary
	for rows.Next() {
		var (
			sum       store.OntologySummary
			updatedAt time.Time
		)
		if err := rows.Scan(
			&sum.Name, &sum.RunID, &sum.Version, &sum.Description, &sum.License,
			&sum.Nodes, &sum.Edges, &updatedAt,
		); err != nil {
			return nil, err
		}
		sum.UpdatedAt = updatedAt.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteOntology removes an ontology with its nodes and edges.
func (s *OntologyDBStorage) DeleteOntology(ctx context.Context, name string) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tag, err := s.conn.Exec(ctx, deleteOntologySQL, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return nil
}

func nodeRows(o *graph.Ontology) ([][]any, error) {
	name := o.Metadata.Name
	rows := make([][]any, 0, o.Len())
	for i, id := range o.Nodes() {
		attrs, err := o.Attributes(id)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(sanitizeValue(map[string]any(attrs)))
		if err != nil {
			return nil, fmt.Errorf("failed to encode attributes of node %s: %w", id, err)
		}
		rows = append(rows, []any{name, i, util.SanitizePostgresText(id.String()), id.IsInt(), json.RawMessage(raw)})
	}
	return rows, nil
}

func edgeRows(o *graph.Ontology) ([][]any, error) {
	name := o.Metadata.Name
	edges := o.Edges()
	rows := make([][]any, 0, len(edges))
	for i, e := range edges {
		attrs := e.Attributes
		if attrs == nil {
			attrs = graph.Attributes{}
		}
		raw, err := json.Marshal(sanitizeValue(map[string]any(attrs)))
		if err != nil {
			return nil, fmt.Errorf("failed to encode attributes of edge %s -> %s: %w", e.Parent, e.Child, err)
		}
		rows = append(rows, []any{
			name, i,
			util.SanitizePostgresText(e.Parent.String()), e.Parent.IsInt(),
			util.SanitizePostgresText(e.Child.String()), e.Child.IsInt(),
			json.RawMessage(raw),
		})
	}
	return rows, nil
}

func nodeFromRow(key string, isInt bool, attrs []byte) (common.NodeRecord, error) {
	id, err := idFromColumns(key, isInt)
	if err != nil {
		return common.NodeRecord{}, err
	}
	var decoded common.Attributes
	if err := decodeJSON(attrs, &decoded); err != nil {
		return common.NodeRecord{}, fmt.Errorf("failed to decode attributes of node %s: %w", id, err)
	}
	return common.NodeRecord{ID: id, Attributes: decoded}, nil
}

func edgeFromRow(parentKey string, parentIsInt bool, childKey string, childIsInt bool, attrs []byte) (common.EdgeRecord, error) {
	parent, err := idFromColumns(parentKey, parentIsInt)
	if err != nil {
		return common.EdgeRecord{}, err
	}
	child, err := idFromColumns(childKey, childIsInt)
	if err != nil {
		return common.EdgeRecord{}, err
	}
	var decoded common.Attributes
	if err := decodeJSON(attrs, &decoded); err != nil {
		return common.EdgeRecord{}, fmt.Errorf("failed to decode attributes of edge %s -> %s: %w", parent, child, err)
	}
	return common.EdgeRecord{Parent: parent, Child: child, Attributes: decoded}, nil
}

func idFromColumns(key string, isInt bool) (common.NodeID, error) {
	if !isInt {
		return common.StringID(key), nil
	}
	id := common.ParseID(key)
	if !id.IsInt() {
		return common.NodeID{}, fmt.Errorf("stored integer id %q is not an integer", key)
	}
	return id, nil
}

// decodeJSON keeps numbers as json.Number, matching the node-link decoder.
func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// sanitizeValue strips NUL bytes and invalid UTF-8 from every string in v,
// which jsonb and text columns reject.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return util.SanitizePostgresText(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = util.SanitizePostgresText(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[util.SanitizePostgresText(k)] = sanitizeValue(item)
		}
		return out
	case common.Attributes:
		return sanitizeValue(map[string]any(val))
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	}
	return v
}

const insertOntologySQL = `
INSERT INTO ontologies (name, run_id, version, description, license, metadata, node_count, edge_count, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now());
`

const deleteOntologySQL = `
DELETE FROM ontologies WHERE name = $1;
`

const selectOntologySQL = `
SELECT name, version, description, license, metadata
FROM ontologies
WHERE name = $1;
`

const selectNodesSQL = `
SELECT node_key, is_int, attributes
FROM ontology_nodes
WHERE ontology = $1
ORDER BY position;
`

const selectEdgesSQL = `
SELECT parent_key, parent_is_int, child_key, child_is_int, attributes
FROM ontology_edges
WHERE ontology = $1
ORDER BY position;
`

const listOntologiesSQL = `
SELECT name, run_id, version, description, license, node_count, edge_count, updated_at
FROM ontologies
ORDER BY name;
`
