// Package mesh builds Medical Subject Headings ontologies from tabular
// exports of the MeSH RDF release.
package mesh

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	csvloader "github.com/OFFIS-RIT/ontograph/pkg/loader/csv"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
)

const (
	Source = "mesh"

	FullName       = "mesh_full"
	DescriptorName = "mesh_topical_descriptor_descendants"

	IdentifierTable  = "mesh_identifiers"
	TopLevelMapTable = DescriptorName + "_top_level_map"

	meshURIPrefix = "http://id.nlm.nih.gov/mesh/"
	vocabPrefix   = "http://id.nlm.nih.gov/mesh/vocab#"
)

// IDPattern matches valid MeSH descriptor and supplementary concept ids.
var IDPattern = regexp.MustCompile(`^[CD][0-9]{6}([0-9]{3}|)$`)

// NodeClasses are the MeSH classes that become ontology nodes.
var NodeClasses = []string{
	"CheckTag",
	"GeographicalDescriptor",
	"TopicalDescriptor",
	"PublicationType",
	"SCR_Chemical",
	"SCR_Disease",
	"SCR_Organism",
	"SCR_Protocol",
}

// EdgePredicates are the relations that become subsumption edges, from the
// object to the subject.
var EdgePredicates = []string{"broaderDescriptor", "preferredMappedTo", "mappedTo"}

// Tables are the three exports the pipeline needs.
type Tables struct {
	// Identifiers has mesh_id, mesh_class, mesh_uri and mesh_label.
	Identifiers []common.Row
	// TreeNumbers has mesh_id and tree_number.
	TreeNumbers []common.Row
	// Relations has subject, predicate and object URIs.
	Relations []common.Row
}

// Pipeline builds the full and descriptor ontologies plus the identifier and
// top-level category tables.
type Pipeline struct {
	client *graph.GraphClient
	rows   *csvloader.CSVRowLoader
	files  [3]loader.SourceFile
	year   string
	rule   *graph.CategoryRule
}

type NewPipelineParams struct {
	Client      *graph.GraphClient
	Loader      loader.SourceFileLoader
	Identifiers string
	TreeNumbers string
	Relations   string
	Year        string
}

func NewPipeline(params NewPipelineParams) (*Pipeline, error) {
	if params.Year == "" {
		return nil, fmt.Errorf("mesh year is required")
	}
	rule, err := DiseaseRule()
	if err != nil {
		return nil, err
	}
	file := func(id, location string) loader.SourceFile {
		return loader.NewCSVSourceFile(loader.NewSourceFileParams{ID: id, Location: location, Loader: params.Loader})
	}
	return &Pipeline{
		client: params.Client,
		rows:   csvloader.NewCSVRowLoader(params.Loader),
		files: [3]loader.SourceFile{
			file("identifiers", params.Identifiers),
			file("tree_numbers", params.TreeNumbers),
			file("relations", params.Relations),
		},
		year: params.Year,
		rule: rule,
	}, nil
}

// DiseaseRule marks category C trees except C26 (Wounds and Injuries) and
// F03 (Mental Disorders) as disease categories.
func DiseaseRule() (*graph.CategoryRule, error) {
	return graph.NewCategoryRule([]string{`C[0-9]{2}`, `F03`}, []string{`C26`})
}

func (p *Pipeline) Source() string {
	return Source
}

func (p *Pipeline) Run(ctx context.Context) (*sources.Result, error) {
	var loaded [3][]common.Row
	for i, f := range p.files {
		rows, err := p.rows.GetRows(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read mesh %s: %w", f.ID, err)
		}
		loaded[i] = rows
	}
	return Build(ctx, p.client, Tables{
		Identifiers: loaded[0],
		TreeNumbers: loaded[1],
		Relations:   loaded[2],
	}, p.year, p.rule)
}

// Build creates every MeSH output from the exported tables.
func Build(ctx context.Context, client *graph.GraphClient, tables Tables, year string, rule *graph.CategoryRule) (*sources.Result, error) {
	logger.Info("[MeSH] Creating full ontology", "year", year)
	full, fullClosure, err := FullOntology(ctx, client, tables, year)
	if err != nil {
		return nil, err
	}

	desc, err := DescriptorOntology(fullClosure)
	if err != nil {
		return nil, err
	}
	descClosure, err := client.Closure(ctx, desc)
	if err != nil {
		return nil, err
	}

	identifiers, err := IdentifierRecords(tables, full, desc)
	if err != nil {
		return nil, err
	}

	logger.Info("[MeSH] Creating top-level term mapping", "year", year)
	assignments, err := graph.MapCategories(descClosure, graph.CategoryMapParams{
		Qualifies: graph.AttributeEquals("mesh_class", "TopicalDescriptor"),
		CodeKey:   "tree_numbers",
		ClassKey:  "mesh_class",
		LabelKey:  "mesh_label",
		Rule:      rule,
	})
	if err != nil {
		return nil, err
	}

	res := &sources.Result{Source: Source}
	res.AddOntology(full, 0)
	res.AddOntology(desc, 0)
	res.AddTable(IdentifierTable, identifiers)
	res.AddTable(TopLevelMapTable, TopLevelRecords(assignments))
	return res, nil
}

// FullOntology builds mesh_full: every identifier of a node class, linked by
// the edge predicates. Relations touching other identifiers, such as
// descriptor/qualifier pairs, are skipped.
func FullOntology(ctx context.Context, client *graph.GraphClient, tables Tables, year string) (*graph.Ontology, *graph.Closure, error) {
	nodes, err := Nodes(tables)
	if err != nil {
		return nil, nil, err
	}
	edges, err := Edges(tables.Relations)
	if err != nil {
		return nil, nil, err
	}

	meta := graph.Metadata{
		Name: FullName,
		Description: "Medical Subject Headings as an ontology, " +
			"including nodes beyond the traditional Topical Descriptor hierarchy such as Geographical Descriptors, " +
			"Publication Types, and isolated Supplemental Concept Records.",
		Extra: graph.Attributes{
			"mesh_year":                        year,
			sources.NodeNameAttributeKey:       "mesh_label",
			sources.NodeIdentifierAttributeKey: "mesh_id",
			sources.NodeURLAttributeKey:        "mesh_uri",
		},
	}
	o, c, report, err := client.Build(ctx, meta, nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("[MeSH] Built full ontology", "nodes", report.Nodes, "edges", report.Edges, "skipped_edges", len(report.SkippedEdges))
	return o, c, nil
}

// DescriptorOntology keeps only nodes that descend from a root Topical
// Descriptor.
func DescriptorOntology(c *graph.Closure) (*graph.Ontology, error) {
	full := c.Ontology()
	extra := full.Metadata.Extra.Clone()
	meta := graph.Metadata{
		Name:        DescriptorName,
		Description: "Medical Subject Headings as an ontology, retaining only nodes that descend from a Topical Descriptor.",
		Extra:       extra,
	}
	pred := graph.RootPredicate(c, graph.AttributeEquals("mesh_class", "TopicalDescriptor"))
	return graph.ExtractSeeded(c, pred, meta)
}

// Nodes returns the records of every identifier of a node class, ordered by
// URI, with their sorted tree numbers.
func Nodes(tables Tables) ([]common.NodeRecord, error) {
	treeNumbers := treeNumbersByID(tables.TreeNumbers)
	rows := sortedIdentifiers(tables.Identifiers)

	nodes := make([]common.NodeRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		if !slices.Contains(NodeClasses, row["mesh_class"]) {
			continue
		}
		id := row["mesh_id"]
		if !IDPattern.MatchString(id) {
			skipped++
			logger.Warn("[MeSH] Skipping invalid identifier", "mesh_id", id)
			continue
		}
		attrs := common.Attributes{
			"mesh_id":      id,
			"mesh_class":   nilIfEmpty(row["mesh_class"]),
			"mesh_uri":     nilIfEmpty(row["mesh_uri"]),
			"mesh_label":   nilIfEmpty(row["mesh_label"]),
			"tree_numbers": nil,
		}
		if tns, ok := treeNumbers[id]; ok {
			attrs["tree_numbers"] = tns
		}
		nodes = append(nodes, common.NodeRecord{ID: common.StringID(id), Attributes: attrs})
	}
	if skipped > 0 {
		logger.Warn("[MeSH] Skipped invalid identifiers", "count", skipped)
	}
	return nodes, nil
}

// Edges converts relation triples into object to subject edges carrying the
// prefixed predicate. Triples are grouped by predicate and sorted.
func Edges(relations []common.Row) ([]common.EdgeRecord, error) {
	type triple struct{ s, p, o string }
	byPredicate := make(map[string][]triple)
	for _, row := range relations {
		name, ok := strings.CutPrefix(row["predicate"], vocabPrefix)
		if !ok {
			name, ok = strings.CutPrefix(row["predicate"], "meshv:")
		}
		if !ok || !slices.Contains(EdgePredicates, name) {
			continue
		}
		byPredicate[name] = append(byPredicate[name], triple{row["subject"], name, row["object"]})
	}

	var edges []common.EdgeRecord
	for _, name := range EdgePredicates {
		triples := byPredicate[name]
		slices.SortFunc(triples, func(a, b triple) int {
			if c := strings.Compare(a.s, b.s); c != 0 {
				return c
			}
			return strings.Compare(a.o, b.o)
		})
		for _, t := range triples {
			parent, err := URIToID(t.o)
			if err != nil {
				return nil, err
			}
			child, err := URIToID(t.s)
			if err != nil {
				return nil, err
			}
			edges = append(edges, common.EdgeRecord{
				Parent:     common.StringID(parent),
				Child:      common.StringID(child),
				Attributes: common.Attributes{"predicate": "meshv:" + name},
			})
		}
	}
	return edges, nil
}

// URIToID returns the last path segment of a MeSH URI.
func URIToID(uri string) (string, error) {
	if !strings.HasPrefix(uri, meshURIPrefix) {
		return "", fmt.Errorf("%s does not look like a MeSH identifier", uri)
	}
	return uri[strings.LastIndexByte(uri, '/')+1:], nil
}

// IdentifierRecords returns the identifier table ordered by URI with flags
// telling whether each id made it into the full and the descriptor ontology.
func IdentifierRecords(tables Tables, full, desc *graph.Ontology) ([]map[string]any, error) {
	treeNumbers := treeNumbersByID(tables.TreeNumbers)
	rows := sortedIdentifiers(tables.Identifiers)
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		id := row["mesh_id"]
		var tns any
		if list, ok := treeNumbers[id]; ok {
			tns = list
		}
		nodeID := common.StringID(id)
		out = append(out, map[string]any{
			"mesh_id":      id,
			"mesh_class":   nilIfEmpty(row["mesh_class"]),
			"mesh_uri":     nilIfEmpty(row["mesh_uri"]),
			"mesh_label":   nilIfEmpty(row["mesh_label"]),
			"tree_numbers": tns,
			"in_full_nxo":  full.Has(nodeID),
			"in_desc_nxo":  desc.Has(nodeID),
		})
	}
	return out, nil
}

// TopLevelRecords renames category assignments to the MeSH table columns.
func TopLevelRecords(assignments []graph.CategoryAssignment) []map[string]any {
	out := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, map[string]any{
			"mesh_id":         a.NodeID.String(),
			"mesh_label":      a.NodeLabel,
			"mesh_class":      a.NodeClass,
			"top_mesh_id":     a.RootID.String(),
			"top_tree_number": a.RootCode,
			"top_mesh_label":  a.RootLabel,
			"top_is_disease":  a.IsMember,
			"depth":           a.Depth,
		})
	}
	return out
}

func treeNumbersByID(rows []common.Row) map[string][]string {
	grouped := sources.GroupBy(rows, "mesh_id", func(row common.Row) (string, bool) {
		return row["tree_number"], row["tree_number"] != ""
	})
	for id, list := range grouped {
		slices.Sort(list)
		grouped[id] = list
	}
	return grouped
}

func sortedIdentifiers(rows []common.Row) []common.Row {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b common.Row) int {
		return strings.Compare(a["mesh_uri"], b["mesh_uri"])
	})
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
