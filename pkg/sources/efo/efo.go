// Package efo builds Experimental Factor Ontology variants from tabular
// exports of an EFO release.
package efo

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	csvloader "github.com/OFFIS-RIT/ontograph/pkg/loader/csv"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
)

const (
	Source = "efo"

	DefaultName    = "efo_otar_profile"
	DefaultVersion = "current"

	ProfileName = "efo_otar_profile"
	SlimName    = "efo_otar_slim"

	slimNote        = "EFO OTAR Slim was created from EFO OTAR Profile by ontograph."
	slimThresholdMB = 30.0

	releaseRepo = "https://github.com/EBISPOT/efo"
)

// synonymScopes maps oboInOwl synonym properties to their scope.
var synonymScopes = map[string]string{
	"hasExactSynonym":   "exact",
	"hasNarrowSynonym":  "narrow",
	"hasBroadSynonym":   "broad",
	"hasRelatedSynonym": "related",
}

var termSchema = common.RowSchema{
	IDColumn: "efo_id",
	Bools:    []string{"therapeutic_area"},
}

// Tables are the exports of one EFO variant, keyed the way the release
// queries name them.
type Tables struct {
	Terms      []common.Row
	Subclasses []common.Row
	Obsolete   []common.Row
	AltIDs     []common.Row
	Synonyms   []common.Row
	Subsets    []common.Row
	Xrefs      []common.Row
}

// TableNames lists the export files the pipeline reads, in Tables field
// order.
var TableNames = []string{"terms", "subclasses", "terms_obsolete", "alt_id", "synonyms", "subsets", "xrefs"}

// Pipeline builds one EFO variant and, for the OTAR profile, the OTAR slim.
type Pipeline struct {
	client  *graph.GraphClient
	rows    *csvloader.CSVRowLoader
	files   []loader.SourceFile
	name    string
	version string
}

// NewPipelineParams configures a Pipeline. Dir is the location holding one
// <table>.csv export per entry of TableNames.
type NewPipelineParams struct {
	Client  *graph.GraphClient
	Loader  loader.SourceFileLoader
	Dir     string
	Name    string
	Version string
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	name := cmp.Or(params.Name, DefaultName)
	files := make([]loader.SourceFile, 0, len(TableNames))
	for _, table := range TableNames {
		files = append(files, loader.NewCSVSourceFile(loader.NewSourceFileParams{
			ID:       name + "/" + table,
			Location: joinLocation(params.Dir, table+".csv"),
			Loader:   params.Loader,
		}))
	}
	return &Pipeline{
		client:  params.Client,
		rows:    csvloader.NewCSVRowLoader(params.Loader),
		files:   files,
		name:    name,
		version: cmp.Or(params.Version, DefaultVersion),
	}
}

func (p *Pipeline) Source() string {
	return Source
}

func (p *Pipeline) Run(ctx context.Context) (*sources.Result, error) {
	loaded := make([][]common.Row, len(p.files))
	for i, f := range p.files {
		rows, err := p.rows.GetRows(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.ID, err)
		}
		loaded[i] = rows
	}
	tables := Tables{
		Terms:      loaded[0],
		Subclasses: loaded[1],
		Obsolete:   loaded[2],
		AltIDs:     loaded[3],
		Synonyms:   loaded[4],
		Subsets:    loaded[5],
		Xrefs:      loaded[6],
	}
	return Build(ctx, p.client, tables, p.name, p.version)
}

// OWLURL is the release download the exports were generated from.
func OWLURL(name, version string) string {
	return fmt.Sprintf("%s/releases/download/%s/%s.owl", releaseRepo, version, name)
}

// Build creates the ontology of variant name together with its xref and
// obsolete term tables. The OTAR profile additionally yields the OTAR slim.
func Build(ctx context.Context, client *graph.GraphClient, tables Tables, name, version string) (*sources.Result, error) {
	o, c, err := Ontology(ctx, client, tables, name, version)
	if err != nil {
		return nil, err
	}

	res := &sources.Result{Source: Source}
	res.AddOntology(o, 0)
	res.AddTable(name+"_xrefs", XrefRecords(tables.Xrefs))
	obsolete := make([]map[string]any, 0, len(tables.Obsolete))
	for _, row := range tables.Obsolete {
		obsolete = append(obsolete, sources.RowRecord(row))
	}
	res.AddTable(name+"_obsolete", obsolete)

	if name == ProfileName {
		slim, err := Slim(c)
		if err != nil {
			return nil, err
		}
		res.AddOntology(slim, slimThresholdMB)
	}
	return res, nil
}

// Ontology builds the term DAG, attaches replaced identifiers and returns it
// with its closure.
func Ontology(ctx context.Context, client *graph.GraphClient, tables Tables, name, version string) (*graph.Ontology, *graph.Closure, error) {
	logger.Info("[EFO] Generating nodes", "name", name, "version", version)
	nodes, err := Nodes(tables)
	if err != nil {
		return nil, nil, err
	}
	edges := make([]common.EdgeRecord, 0, len(tables.Subclasses))
	for i, row := range tables.Subclasses {
		edge, err := common.NormalizeEdge(row, "efo_id", "child_efo_id", false)
		if err != nil {
			return nil, nil, fmt.Errorf("subclass row %d: %w", i, err)
		}
		edge.Attributes = nil
		edges = append(edges, edge)
	}

	meta := graph.Metadata{
		Name:    name,
		Version: version,
		Extra: graph.Attributes{
			"source_url":                       OWLURL(name, version),
			sources.NodeNameAttributeKey:       "efo_label",
			sources.NodeIdentifierAttributeKey: sources.NodeKeyPlaceholder,
			sources.NodeURLAttributeKey:        "efo_uri",
		},
	}
	o, c, report, err := client.Build(ctx, meta, nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	for _, skipped := range report.SkippedEdges {
		logger.Warn("[EFO] Skipping edge with missing node", "parent", skipped.Parent.String(), "child", skipped.Child.String(), "missing", skipped.Missing.String())
	}

	logger.Info("[EFO] Generating replaced terms", "name", name)
	rec := client.Reconcile(o, Retirements(tables.Obsolete), Alternates(tables.AltIDs))
	for _, chainErr := range rec.Unresolved {
		logger.Debug("[EFO] Dropped replacement chain", "err", chainErr)
	}
	if err := rec.Annotate(o, "replaces"); err != nil {
		return nil, nil, err
	}
	logger.Info("[EFO] Created ontology", "name", name, "version", version, "nodes", o.Len(), "edges", o.EdgeCount(), "replacing", len(rec.Replaces))
	return o, c, nil
}

// Slim prunes the OTAR profile to therapeutic area terms and their
// descendants.
func Slim(c *graph.Closure) (*graph.Ontology, error) {
	profile := c.Ontology()
	if profile.Metadata.Name != ProfileName {
		return nil, fmt.Errorf("the OTAR slim is derived from %s, got %s", ProfileName, profile.Metadata.Name)
	}
	logger.Info("[EFO] Creating EFO OTAR slim")
	meta := profile.Metadata
	meta.Name = SlimName
	meta.Extra = profile.Metadata.Extra.Clone()
	meta.Extra["note"] = slimNote
	return graph.ExtractSeeded(c, graph.FlagPredicate("therapeutic_area"), meta)
}

// Nodes returns one record per term with its synonyms, cross references and
// subsets. replaces starts out empty and is filled in after reconciliation.
func Nodes(tables Tables) ([]common.NodeRecord, error) {
	synonyms := synonymsByTerm(tables.Synonyms)
	xrefs := xrefsByTerm(tables.Xrefs)
	subsets := sources.GroupBy(tables.Subsets, "efo_id", func(row common.Row) (string, bool) {
		return row["subset_id"], row["subset_id"] != ""
	})

	nodes := make([]common.NodeRecord, 0, len(tables.Terms))
	for i, row := range tables.Terms {
		rec, err := common.NormalizeNode(row, termSchema)
		if err != nil {
			return nil, fmt.Errorf("term row %d: %w", i, err)
		}
		id := rec.ID.String()
		rec.Attributes["synonyms"] = nil
		if list, ok := synonyms[id]; ok {
			rec.Attributes["synonyms"] = list
		}
		rec.Attributes["replaces"] = nil
		rec.Attributes["xrefs"] = nil
		if list, ok := xrefs[id]; ok {
			rec.Attributes["xrefs"] = list
		}
		rec.Attributes["subsets"] = nil
		if list, ok := subsets[id]; ok {
			rec.Attributes["subsets"] = sources.SortedUnique(list)
		}
		nodes = append(nodes, rec)
	}
	return nodes, nil
}

// Retirements reads obsolete term to replacement links, skipping rows
// without a replacement.
func Retirements(rows []common.Row) []graph.Replacement {
	out := make([]graph.Replacement, 0, len(rows))
	for _, row := range rows {
		if row["efo_id"] == "" || row["replaced_by_efo_id"] == "" {
			continue
		}
		out = append(out, graph.Replacement{
			Old: common.StringID(row["efo_id"]),
			New: common.StringID(row["replaced_by_efo_id"]),
		})
	}
	return out
}

// Alternates reads alternate id to canonical term links.
func Alternates(rows []common.Row) []graph.Replacement {
	out := make([]graph.Replacement, 0, len(rows))
	for _, row := range rows {
		if row["efo_id"] == "" || row["alt_id"] == "" {
			continue
		}
		out = append(out, graph.Replacement{
			Old: common.StringID(row["alt_id"]),
			New: common.StringID(row["efo_id"]),
		})
	}
	return out
}

// XrefRecords returns the xref export with the normalized CURIE added as
// xref_bioregistry.
func XrefRecords(rows []common.Row) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := sources.RowRecord(row)
		rec["xref_bioregistry"] = nil
		if curie, ok := util.NormalizeCURIE(row["xref_prefix"], row["xref_accession"], true); ok {
			rec["xref_bioregistry"] = curie
		}
		out = append(out, rec)
	}
	return out
}

type synonym struct {
	name  string
	scope string
}

// synonymsByTerm keeps synonyms with a known scope, without duplicates,
// sorted by name then scope.
func synonymsByTerm(rows []common.Row) map[string][]map[string]any {
	grouped := sources.GroupBy(rows, "efo_id", func(row common.Row) (synonym, bool) {
		scope, ok := synonymScopes[row["predicate_id"]]
		if !ok || row["synonym"] == "" {
			return synonym{}, false
		}
		return synonym{name: row["synonym"], scope: scope}, true
	})

	out := make(map[string][]map[string]any, len(grouped))
	for id, list := range grouped {
		slices.SortFunc(list, func(a, b synonym) int {
			return cmp.Or(cmp.Compare(a.name, b.name), cmp.Compare(a.scope, b.scope))
		})
		list = slices.Compact(list)
		records := make([]map[string]any, 0, len(list))
		for _, s := range list {
			records = append(records, map[string]any{"name": s.name, "scope": s.scope})
		}
		out[id] = records
	}
	return out
}

// xrefsByTerm normalizes cross references and drops those pointing back at
// the term itself.
func xrefsByTerm(rows []common.Row) map[string][]string {
	grouped := sources.GroupBy(rows, "efo_id", func(row common.Row) (string, bool) {
		curie, ok := util.NormalizeCURIE(row["xref_prefix"], row["xref_accession"], true)
		if !ok || curie == row["efo_id"] {
			return "", false
		}
		return curie, true
	})
	for id, list := range grouped {
		grouped[id] = sources.SortedUnique(list)
	}
	return grouped
}

func joinLocation(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
