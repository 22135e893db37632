package common

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// NodeRecord is the uniform shape every source normalizer produces for a
// term: its identifier and an open attribute map.
type NodeRecord struct {
	ID         NodeID     `json:"id"`
	Attributes Attributes `json:"attributes"`
}

// EdgeRecord is the uniform shape of a hierarchy link. Parent subsumes Child.
type EdgeRecord struct {
	Parent     NodeID     `json:"parent"`
	Child      NodeID     `json:"child"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Row is one tabular record keyed by column name, as produced by the CSV
// loaders.
type Row map[string]string

// RowSchema describes how the columns of a Row map onto node attributes.
//
// IDColumn selects the identifier; IntID parses it as an integer id. Rename
// maps source column names to attribute names. Lists splits a column on the
// given separator. Bools and Ints parse the column into typed values. Drop
// lists columns that are not copied. Empty cells become nil attributes.
type RowSchema struct {
	IDColumn string
	IntID    bool
	Rename   map[string]string
	Lists    map[string]string
	Bools    []string
	Ints     []string
	Drop     []string
}

// NormalizeNode converts a row into a NodeRecord according to the schema.
func NormalizeNode(row Row, schema RowSchema) (NodeRecord, error) {
	rawID, ok := row[schema.IDColumn]
	if !ok || strings.TrimSpace(rawID) == "" {
		return NodeRecord{}, fmt.Errorf("row has no value in id column %q", schema.IDColumn)
	}
	id, err := parseRowID(rawID, schema.IntID)
	if err != nil {
		return NodeRecord{}, err
	}

	attrs := make(Attributes, len(row))
	for col, raw := range row {
		if slices.Contains(schema.Drop, col) {
			continue
		}
		key := col
		if renamed, ok := schema.Rename[col]; ok {
			key = renamed
		}
		value, err := convertCell(col, raw, schema)
		if err != nil {
			return NodeRecord{}, fmt.Errorf("node %s: %w", id, err)
		}
		attrs[key] = value
	}
	return NodeRecord{ID: id, Attributes: attrs}, nil
}

// NormalizeEdge converts a row into an EdgeRecord. Columns other than the two
// endpoints are copied as edge attributes.
func NormalizeEdge(row Row, parentColumn, childColumn string, intIDs bool) (EdgeRecord, error) {
	parent, err := parseRowID(row[parentColumn], intIDs)
	if err != nil {
		return EdgeRecord{}, fmt.Errorf("parent column %q: %w", parentColumn, err)
	}
	child, err := parseRowID(row[childColumn], intIDs)
	if err != nil {
		return EdgeRecord{}, fmt.Errorf("child column %q: %w", childColumn, err)
	}
	var attrs Attributes
	for col, value := range row {
		if col == parentColumn || col == childColumn || value == "" {
			continue
		}
		if attrs == nil {
			attrs = Attributes{}
		}
		attrs[col] = value
	}
	return EdgeRecord{Parent: parent, Child: child, Attributes: attrs}, nil
}

// SplitOnce splits s on the first sep. The second value is nil when sep does
// not occur, mirroring a missing column.
func SplitOnce(s, sep string) (string, any) {
	before, after, found := strings.Cut(s, sep)
	if !found {
		return before, nil
	}
	return before, after
}

func parseRowID(raw string, intID bool) (NodeID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NodeID{}, fmt.Errorf("empty identifier")
	}
	if !intID {
		return StringID(raw), nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return NodeID{}, fmt.Errorf("identifier %q is not an integer: %w", raw, err)
	}
	return IntID(n), nil
}

func convertCell(col, raw string, schema RowSchema) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if sep, ok := schema.Lists[col]; ok {
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
	if slices.Contains(schema.Bools, col) {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		return b, nil
	}
	if slices.Contains(schema.Ints, col) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		return n, nil
	}
	return raw, nil
}
