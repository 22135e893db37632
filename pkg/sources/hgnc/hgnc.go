// Package hgnc builds the HGNC gene group ontology from the gene family
// database tables.
package hgnc

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	ziploader "github.com/OFFIS-RIT/ontograph/pkg/loader/zip"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
)

const (
	Source = "hgnc"
	Name   = "hgnc_gene_group"

	// DefaultArchiveURL is the directory of the CSV tables. The pipeline reads
	// them from a zip archive of that directory.
	DefaultArchiveURL = "https://ftp.ebi.ac.uk/pub/databases/genenames/new/csv/genefamily_db_tables/"
)

var familySchema = common.RowSchema{
	IDColumn: "id",
	IntID:    true,
	Rename:   map[string]string{"abbreviation": "root_symbol"},
	Lists:    map[string]string{"pubmed_ids": ","},
	Drop:     []string{"id", "desc_source"},
}

// Pipeline reads the zipped tables and builds the ontology.
type Pipeline struct {
	client  *graph.GraphClient
	tables  *ziploader.ZipTableLoader
	archive loader.SourceFile
}

// NewPipelineParams configures a Pipeline. Archive is the zip of the gene
// family CSV tables.
type NewPipelineParams struct {
	Client  *graph.GraphClient
	Loader  loader.SourceFileLoader
	Archive string
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	return &Pipeline{
		client: params.Client,
		tables: ziploader.NewZipTableLoader(params.Loader),
		archive: loader.NewSourceFile(loader.NewSourceFileParams{
			ID:       Source,
			Location: params.Archive,
			Loader:   params.Loader,
		}),
	}
}

func (p *Pipeline) Source() string {
	return Source
}

func (p *Pipeline) Run(ctx context.Context) (*sources.Result, error) {
	tables, err := p.tables.GetTables(ctx, p.archive)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.archive.Location, err)
	}
	o, err := FromTables(ctx, p.client, tables)
	if err != nil {
		return nil, err
	}
	res := &sources.Result{Source: Source}
	res.AddOntology(o, 0)
	return res, nil
}

// FromTables builds the gene group ontology and aggregates gene assignments
// up the hierarchy.
func FromTables(ctx context.Context, client *graph.GraphClient, tables ziploader.Tables) (*graph.Ontology, error) {
	logger.Info("[HGNC] Creating gene group ontology")

	nodes, err := Nodes(tables)
	if err != nil {
		return nil, err
	}
	hierarchy, err := tables.Table("hierarchy")
	if err != nil {
		return nil, err
	}
	edges := make([]common.EdgeRecord, 0, len(hierarchy))
	for i, row := range hierarchy {
		edge, err := common.NormalizeEdge(row, "parent_fam_id", "child_fam_id", true)
		if err != nil {
			return nil, fmt.Errorf("hierarchy row %d: %w", i, err)
		}
		edge.Attributes = nil
		edges = append(edges, edge)
	}

	_, c, _, err := client.Build(ctx, metadata(), nodes, edges)
	if err != nil {
		return nil, err
	}
	if err := graph.Aggregate(c, graph.GeneAggregation); err != nil {
		return nil, err
	}
	return c.Ontology(), nil
}

func metadata() graph.Metadata {
	return graph.Metadata{
		Name:        Name,
		Description: "HGNC Gene Group / Family Ontology",
		License:     "CC0-1.0",
		Extra: graph.Attributes{
			"data_license_source":              "https://www.genenames.org/about/license/",
			"data_license_url":                 "https://creativecommons.org/publicdomain/zero/1.0/",
			"data_license_spdx_id":             "CC0-1.0",
			sources.NodeIdentifierAttributeKey: sources.NodeKeyPlaceholder,
			sources.NodeNameAttributeKey:       "name",
		},
	}
}

// Nodes returns one record per gene family, sorted by family id.
func Nodes(tables ziploader.Tables) ([]common.NodeRecord, error) {
	families, err := tables.Table("family")
	if err != nil {
		return nil, err
	}
	aliases, err := aliasesByFamily(tables)
	if err != nil {
		return nil, err
	}
	resources, err := externalResourcesByFamily(tables)
	if err != nil {
		return nil, err
	}
	genes, err := genesByFamily(tables)
	if err != nil {
		return nil, err
	}

	nodes := make([]common.NodeRecord, 0, len(families))
	for i, row := range families {
		rec, err := common.NormalizeNode(row, familySchema)
		if err != nil {
			return nil, fmt.Errorf("family row %d: %w", i, err)
		}
		source, url := common.SplitOnce(row["desc_source"], "|")
		if row["desc_source"] == "" {
			rec.Attributes["desc_source"] = nil
			rec.Attributes["desc_source_url"] = nil
		} else {
			rec.Attributes["desc_source"] = source
			rec.Attributes["desc_source_url"] = url
		}

		key := rec.ID.String()
		if list, ok := aliases[key]; ok {
			rec.Attributes["name_aliases"] = list
		} else {
			rec.Attributes["name_aliases"] = nil
		}
		if list, ok := resources[key]; ok {
			rec.Attributes["external_resources"] = list
		} else {
			rec.Attributes["external_resources"] = nil
		}
		if list, ok := genes[key]; ok {
			rec.Attributes["genes_direct"] = list
		} else {
			rec.Attributes["genes_direct"] = []string{}
		}
		nodes = append(nodes, rec)
	}
	slices.SortStableFunc(nodes, func(a, b common.NodeRecord) int {
		return a.ID.Compare(b.ID)
	})
	return nodes, nil
}

// aliasesByFamily orders aliases by alias id within each family.
func aliasesByFamily(tables ziploader.Tables) (map[string][]string, error) {
	rows, err := tables.Table("family_alias")
	if err != nil {
		return nil, err
	}
	rows = sortRows(rows, "family_id", "id")
	return sources.GroupBy(rows, "family_id", func(row common.Row) (string, bool) {
		return row["alias"], row["alias"] != ""
	}), nil
}

// externalResourcesByFamily joins family_has_external_resource with the
// ext_ prefixed external_resource table on their shared columns.
func externalResourcesByFamily(tables ziploader.Tables) (map[string][]map[string]any, error) {
	links, err := tables.Table("family_has_external_resource")
	if err != nil {
		return nil, err
	}
	resources, err := tables.Table("external_resource")
	if err != nil {
		return nil, err
	}

	prefixed := make([]common.Row, len(resources))
	for i, row := range resources {
		p := make(common.Row, len(row))
		for col, v := range row {
			p["ext_"+col] = v
		}
		prefixed[i] = p
	}

	linkCols := sources.Columns(links)
	var on []string
	for _, col := range sources.Columns(prefixed) {
		if slices.Contains(linkCols, col) {
			on = append(on, col)
		}
	}
	if len(on) == 0 && len(links) > 0 && len(prefixed) > 0 {
		return nil, fmt.Errorf("external resource tables share no column")
	}

	var joined []common.Row
	for _, link := range links {
		for _, res := range prefixed {
			if !matchOn(link, res, on) {
				continue
			}
			row := make(common.Row, len(link)+len(res))
			for col, v := range link {
				row[col] = v
			}
			for col, v := range res {
				row[col] = v
			}
			joined = append(joined, row)
		}
	}
	joined = sortRows(joined, "family_id", "ext_id")

	return sources.GroupBy(joined, "family_id", func(row common.Row) (map[string]any, bool) {
		rec := sources.RowRecord(row)
		delete(rec, "family_id")
		return rec, true
	}), nil
}

// genesByFamily formats HGNC ids as CURIEs, ordered numerically.
func genesByFamily(tables ziploader.Tables) (map[string][]string, error) {
	rows, err := tables.Table("gene_has_family")
	if err != nil {
		return nil, err
	}
	rows = sortRows(rows, "family_id", "hgnc_id")
	return sources.GroupBy(rows, "family_id", func(row common.Row) (string, bool) {
		id := row["hgnc_id"]
		return "HGNC:" + id, id != ""
	}), nil
}

func matchOn(a, b common.Row, columns []string) bool {
	for _, col := range columns {
		if a[col] != b[col] {
			return false
		}
	}
	return true
}

// sortRows orders rows by the given columns, numerically when both cells are
// integers.
func sortRows(rows []common.Row, columns ...string) []common.Row {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b common.Row) int {
		for _, col := range columns {
			if c := compareCells(a[col], b[col]); c != 0 {
				return c
			}
		}
		return 0
	})
	return out
}

func compareCells(a, b string) int {
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(x, y)
	}
	return cmp.Compare(a, b)
}
