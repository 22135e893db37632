// Package obo builds an ontology from any OBO flat file.
package obo

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	obofile "github.com/OFFIS-RIT/ontograph/pkg/loader/obo"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
)

const (
	Source = "obo"

	isAPredicate = "is_a"
)

// Pipeline reads one OBO file.
type Pipeline struct {
	client *graph.GraphClient
	file   loader.SourceFile
	name   string
}

// NewPipelineParams configures a Pipeline. Name overrides the ontology
// header tag as the artifact name.
type NewPipelineParams struct {
	Client   *graph.GraphClient
	Loader   loader.SourceFileLoader
	Location string
	Name     string
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	return &Pipeline{
		client: params.Client,
		file: loader.SourceFile{
			ID:       Source,
			Location: params.Location,
			FileType: loader.SourceFileTypeOBO,
			Loader:   params.Loader,
		},
		name: params.Name,
	}
}

func (p *Pipeline) Source() string {
	return Source
}

func (p *Pipeline) Run(ctx context.Context) (*sources.Result, error) {
	data, err := p.file.GetBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.file.Location, err)
	}
	data, err = loader.MaybeGunzip(data)
	if err != nil {
		return nil, err
	}
	doc, err := obofile.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.file.Location, err)
	}
	o, err := FromDocument(ctx, p.client, doc, Metadata(doc, p.name, p.file.Location))
	if err != nil {
		return nil, err
	}
	res := &sources.Result{Source: Source}
	res.AddOntology(o, 0)
	return res, nil
}

// Metadata names the ontology after name, falling back to the ontology
// header tag.
func Metadata(doc *obofile.Document, name, location string) graph.Metadata {
	extra := graph.Attributes{
		sources.NodeNameAttributeKey:       "name",
		sources.NodeIdentifierAttributeKey: sources.NodeKeyPlaceholder,
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		extra["source_url"] = location
	}
	if doc.FormatVersion != "" {
		extra["obo_format_version"] = doc.FormatVersion
	}
	return graph.Metadata{
		Name:    cmp.Or(name, doc.Ontology),
		Version: doc.DataVersion,
		Extra:   extra,
	}
}

// FromDocument builds the is_a DAG over the live terms of doc and attaches
// the identifiers each term replaces.
func FromDocument(ctx context.Context, client *graph.GraphClient, doc *obofile.Document, meta graph.Metadata) (*graph.Ontology, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("OBO document has no ontology tag and no name was given")
	}
	nodes, edges := Records(doc)
	o, _, report, err := client.Build(ctx, meta, nodes, edges)
	if err != nil {
		return nil, err
	}
	if n := len(report.SkippedEdges); n > 0 {
		logger.Warn("[OBO] Skipped is_a links to unknown terms", "ontology", meta.Name, "count", n)
	}

	retirements, alternates := Replacements(doc)
	rec := client.Reconcile(o, retirements, alternates)
	if err := rec.Annotate(o, "replaces"); err != nil {
		return nil, err
	}
	logger.Info("[OBO] Built ontology", "ontology", meta.Name, "version", meta.Version, "nodes", o.Len(), "edges", o.EdgeCount(), "unresolved", len(rec.Unresolved))
	return o, nil
}

// Records converts the non-obsolete terms into node and is_a edge records.
func Records(doc *obofile.Document) ([]common.NodeRecord, []common.EdgeRecord) {
	var (
		nodes []common.NodeRecord
		edges []common.EdgeRecord
	)
	for _, term := range doc.Terms {
		if term.IsObsolete {
			continue
		}
		id := common.StringID(term.ID)
		nodes = append(nodes, common.NodeRecord{ID: id, Attributes: termAttributes(term)})
		for _, parent := range term.IsA {
			edges = append(edges, common.EdgeRecord{
				Parent:     common.StringID(parent),
				Child:      id,
				Attributes: common.Attributes{"predicate": isAPredicate},
			})
		}
	}
	return nodes, edges
}

// Replacements returns the replaced_by links of obsolete terms and the
// alt_id links of every term.
func Replacements(doc *obofile.Document) (retirements, alternates []graph.Replacement) {
	for _, term := range doc.Terms {
		if term.IsObsolete && len(term.ReplacedBy) > 0 {
			retirements = append(retirements, graph.Replacement{
				Old: common.StringID(term.ID),
				New: common.StringID(term.ReplacedBy[0]),
			})
		}
		for _, alt := range term.AltIDs {
			alternates = append(alternates, graph.Replacement{
				Old: common.StringID(alt),
				New: common.StringID(term.ID),
			})
		}
	}
	return retirements, alternates
}

func termAttributes(term obofile.Term) common.Attributes {
	attrs := common.Attributes{
		"name":       nilIfEmpty(term.Name),
		"namespace":  nilIfEmpty(term.Namespace),
		"definition": nilIfEmpty(term.Def),
		"synonyms":   nil,
		"xrefs":      nil,
		"subsets":    nil,
		"replaces":   nil,
	}
	if len(term.Synonyms) > 0 {
		synonyms := make([]map[string]any, 0, len(term.Synonyms))
		for _, s := range term.Synonyms {
			synonyms = append(synonyms, map[string]any{"name": s.Text, "scope": strings.ToLower(s.Scope)})
		}
		attrs["synonyms"] = synonyms
	}
	if xrefs := sources.SortedUnique(term.Xrefs); len(xrefs) > 0 {
		attrs["xrefs"] = xrefs
	}
	if subsets := sources.SortedUnique(term.Subsets); len(subsets) > 0 {
		attrs["subsets"] = subsets
	}
	if len(term.Relationships) > 0 {
		rels := make([]map[string]any, 0, len(term.Relationships))
		for _, r := range term.Relationships {
			rels = append(rels, map[string]any{"type": r.Type, "target": r.Target})
		}
		attrs["relationships"] = rels
	}
	return attrs
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
