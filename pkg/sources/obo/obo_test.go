package obo

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	obofile "github.com/OFFIS-RIT/ontograph/pkg/loader/obo"
)

const sample = `format-version: 1.4
data-version: releases/2024-06-01
ontology: mondo

[Term]
id: MONDO:0000001
name: disease
synonym: "disorder" EXACT []

[Term]
id: MONDO:0005148
name: type 2 diabetes mellitus
is_a: MONDO:0000001 ! disease
is_a: MONDO:9999999 ! missing
alt_id: MONDO:0100001
xref: DOID:9352
xref: DOID:9352

[Term]
id: MONDO:0000002
name: obsolete thing
is_obsolete: true
replaced_by: MONDO:0005148
`

type staticLoader string

func (s staticLoader) GetFileBytes(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return []byte(s), nil
}

func TestPipeline(t *testing.T) {
	client, _ := graph.NewGraphClient(graph.NewGraphClientParams{})
	p := NewPipeline(NewPipelineParams{Client: client, Loader: staticLoader(sample), Location: "https://purl.obolibrary.org/obo/mondo.obo"})
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := res.Ontologies[0].Ontology

	if o.Metadata.Name != "mondo" || o.Metadata.Version != "releases/2024-06-01" {
		t.Fatalf("metadata = %+v", o.Metadata)
	}
	if o.Metadata.Extra["source_url"] != "https://purl.obolibrary.org/obo/mondo.obo" {
		t.Errorf("source_url = %v", o.Metadata.Extra["source_url"])
	}
	if o.Len() != 2 || o.EdgeCount() != 1 {
		t.Fatalf("got %d nodes and %d edges, want 2 and 1", o.Len(), o.EdgeCount())
	}
	if o.Has(common.StringID("MONDO:0000002")) {
		t.Errorf("obsolete term became a node")
	}

	t2d, _ := o.Attributes(common.StringID("MONDO:0005148"))
	if want := []string{"MONDO:0000002", "MONDO:0100001"}; !reflect.DeepEqual(t2d["replaces"], want) {
		t.Errorf("replaces = %v, want %v", t2d["replaces"], want)
	}
	if !reflect.DeepEqual(t2d["xrefs"], []string{"DOID:9352"}) {
		t.Errorf("xrefs = %v", t2d["xrefs"])
	}

	disease, _ := o.Attributes(common.StringID("MONDO:0000001"))
	if want := []map[string]any{{"name": "disorder", "scope": "exact"}}; !reflect.DeepEqual(disease["synonyms"], want) {
		t.Errorf("synonyms = %v", disease["synonyms"])
	}
	if disease["replaces"] != nil {
		t.Errorf("replaces = %v, want nil", disease["replaces"])
	}
}

func TestNameOverride(t *testing.T) {
	doc, err := obofile.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	meta := Metadata(doc, "mondo_base", "mondo.obo")
	if meta.Name != "mondo_base" {
		t.Errorf("name = %q", meta.Name)
	}
	if _, ok := meta.Extra["source_url"]; ok {
		t.Errorf("local files carry no source_url")
	}
}

func TestFromDocumentRequiresName(t *testing.T) {
	client, _ := graph.NewGraphClient(graph.NewGraphClientParams{})
	doc := &obofile.Document{Terms: []obofile.Term{{ID: "X:1"}}}
	if _, err := FromDocument(context.Background(), client, doc, Metadata(doc, "", "x.obo")); err == nil {
		t.Fatalf("expected error without a name")
	}
}

func TestReplacements(t *testing.T) {
	doc, _ := obofile.Parse(strings.NewReader(sample))
	retirements, alternates := Replacements(doc)
	if want := []graph.Replacement{{Old: common.StringID("MONDO:0000002"), New: common.StringID("MONDO:0005148")}}; !reflect.DeepEqual(retirements, want) {
		t.Errorf("retirements = %v", retirements)
	}
	if want := []graph.Replacement{{Old: common.StringID("MONDO:0100001"), New: common.StringID("MONDO:0005148")}}; !reflect.DeepEqual(alternates, want) {
		t.Errorf("alternates = %v", alternates)
	}
}
