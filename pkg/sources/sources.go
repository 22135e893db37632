// Package sources holds what every source pipeline shares: the result shape
// handed to the serializer and small helpers for tabular inputs.
package sources

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/store/file"
)

// Graph-level keys describing which node attributes carry the name,
// identifier and URL of a term.
const (
	NodeNameAttributeKey       = "node_name_attribute"
	NodeIdentifierAttributeKey = "node_identifier_attribute"
	NodeURLAttributeKey        = "node_url_attribute"
	// NodeKeyPlaceholder marks the node id itself as the identifier.
	NodeKeyPlaceholder = "{node}"
)

// OntologyOutput is one ontology artifact. A zero CompressionThresholdMB uses
// the writer's threshold.
type OntologyOutput struct {
	Ontology               *graph.Ontology
	CompressionThresholdMB float64
}

// TableOutput is a list of records written as a gzipped JSON table, or as
// plain JSON when Plain is set.
type TableOutput struct {
	Name    string
	Records any
	Plain   bool
}

// Result collects everything a pipeline run produced.
type Result struct {
	Source     string
	Ontologies []OntologyOutput
	Tables     []TableOutput
}

// AddOntology appends an ontology artifact.
func (r *Result) AddOntology(o *graph.Ontology, thresholdMB float64) {
	r.Ontologies = append(r.Ontologies, OntologyOutput{Ontology: o, CompressionThresholdMB: thresholdMB})
}

// AddTable appends a gzipped table artifact.
func (r *Result) AddTable(name string, records any) {
	r.Tables = append(r.Tables, TableOutput{Name: name, Records: records})
}

// AddDocument appends an uncompressed JSON artifact.
func (r *Result) AddDocument(name string, v any) {
	r.Tables = append(r.Tables, TableOutput{Name: name, Records: v, Plain: true})
}

// Pipeline turns the raw release of one source into ontologies and tables.
type Pipeline interface {
	Source() string
	Run(ctx context.Context) (*Result, error)
}

// Write serializes every artifact of res and returns the written paths in
// order.
func Write(w *file.OntologyWriter, res *Result) ([]string, error) {
	var paths []string
	for _, out := range res.Ontologies {
		writer := w
		if out.CompressionThresholdMB != 0 {
			writer = w.WithThreshold(out.CompressionThresholdMB)
		}
		path, err := writer.Write(out.Ontology)
		if err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", out.Ontology.Metadata.Name, err)
		}
		paths = append(paths, path)
	}
	for _, table := range res.Tables {
		var (
			path string
			err  error
		)
		if table.Plain {
			path, err = w.WriteJSON(table.Name, table.Records)
		} else {
			path, err = w.WriteRecords(table.Name, table.Records)
		}
		if err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", table.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Columns returns the column names present in rows, sorted.
func Columns(rows []common.Row) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for col := range seen {
		out = append(out, col)
	}
	slices.Sort(out)
	return out
}

// CellValue converts a raw cell into a JSON value: nil for an empty cell, an
// integer for identifier columns ("id" or "*_id") holding one, the string
// otherwise.
func CellValue(column, raw string) any {
	if raw == "" {
		return nil
	}
	if column == "id" || strings.HasSuffix(column, "_id") {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return raw
}

// RowRecord converts a row into a record with CellValue applied to every
// column.
func RowRecord(row common.Row) map[string]any {
	out := make(map[string]any, len(row))
	for col, raw := range row {
		out[col] = CellValue(col, raw)
	}
	return out
}

// GroupBy collects the values produced by fn for every row under the row's
// key column. Rows with an empty key or a nil value are skipped. Groups keep
// row order.
func GroupBy[V any](rows []common.Row, key string, fn func(common.Row) (V, bool)) map[string][]V {
	out := make(map[string][]V)
	for _, row := range rows {
		k := row[key]
		if k == "" {
			continue
		}
		v, ok := fn(row)
		if !ok {
			continue
		}
		out[k] = append(out[k], v)
	}
	return out
}

// SortedUnique sorts values and drops empty and repeated entries.
func SortedUnique(values []string) []string {
	out := slices.DeleteFunc(slices.Clone(values), func(s string) bool { return s == "" })
	slices.Sort(out)
	return slices.Compact(out)
}
