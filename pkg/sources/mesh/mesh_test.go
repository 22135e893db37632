package mesh

import (
	"context"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
)

const base = "http://id.nlm.nih.gov/mesh/2024/"

func identifier(id, class, label string) common.Row {
	return common.Row{"mesh_id": id, "mesh_class": class, "mesh_uri": base + id, "mesh_label": label}
}

func relation(subject, predicate, object string) common.Row {
	return common.Row{"subject": base + subject, "predicate": vocabPrefix + predicate, "object": base + object}
}

func testTables() Tables {
	return Tables{
		Identifiers: []common.Row{
			identifier("Q000001", "Qualifier", "abnormalities"),
			identifier("D000010", "GeographicalDescriptor", "Europe"),
			identifier("D000005", "TopicalDescriptor", "Carcinoma"),
			identifier("D000001", "TopicalDescriptor", "Neoplasms"),
			identifier("D12", "TopicalDescriptor", "Broken"),
			identifier("C000001", "SCR_Disease", "Rare carcinoma"),
			identifier("D000009", "TopicalDescriptor", "Wounds and Injuries"),
		},
		TreeNumbers: []common.Row{
			{"mesh_id": "D000001", "tree_number": "C04"},
			{"mesh_id": "D000005", "tree_number": "C04.557"},
			{"mesh_id": "D000005", "tree_number": "C04.200"},
			{"mesh_id": "D000009", "tree_number": "C26"},
			{"mesh_id": "D000010", "tree_number": "Z01.542"},
		},
		Relations: []common.Row{
			relation("D000005", "broaderDescriptor", "D000001"),
			relation("C000001", "preferredMappedTo", "D000005"),
			relation("D000005Q000001", "broaderDescriptor", "D000005"),
			relation("D000005", "treeNumber", "D000001"),
		},
	}
}

func TestNodes(t *testing.T) {
	nodes, err := Nodes(testTables())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID.String())
	}
	if want := []string{"C000001", "D000001", "D000005", "D000009", "D000010"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if got := nodes[2].Attributes["tree_numbers"]; !reflect.DeepEqual(got, []string{"C04.200", "C04.557"}) {
		t.Fatalf("tree_numbers = %v", got)
	}
	if got := nodes[0].Attributes["tree_numbers"]; got != nil {
		t.Fatalf("SCR without tree numbers = %v", got)
	}
}

func TestEdges(t *testing.T) {
	edges, err := Edges(testTables().Relations)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	want := []common.EdgeRecord{
		{Parent: common.StringID("D000001"), Child: common.StringID("D000005"), Attributes: common.Attributes{"predicate": "meshv:broaderDescriptor"}},
		{Parent: common.StringID("D000005"), Child: common.StringID("D000005Q000001"), Attributes: common.Attributes{"predicate": "meshv:broaderDescriptor"}},
		{Parent: common.StringID("D000005"), Child: common.StringID("C000001"), Attributes: common.Attributes{"predicate": "meshv:preferredMappedTo"}},
	}
	if !reflect.DeepEqual(edges, want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}

	if _, err := Edges([]common.Row{{"subject": "http://example.org/x", "predicate": vocabPrefix + "mappedTo", "object": base + "D000001"}}); err == nil {
		t.Fatalf("expected error for a non-MeSH URI")
	}
}

func TestURIToID(t *testing.T) {
	id, err := URIToID(base + "D000001")
	if err != nil || id != "D000001" {
		t.Fatalf("URIToID = %q, %v", id, err)
	}
}

func TestIDPattern(t *testing.T) {
	tests := map[string]bool{
		"D000001":    true,
		"C000598941": true,
		"D12":        false,
		"Q000001":    false,
		"D0000011":   false,
	}
	for id, want := range tests {
		if got := IDPattern.MatchString(id); got != want {
			t.Errorf("IDPattern(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestBuild(t *testing.T) {
	client, _ := graph.NewGraphClient(graph.NewGraphClientParams{})
	rule, err := DiseaseRule()
	if err != nil {
		t.Fatalf("DiseaseRule: %v", err)
	}
	res, err := Build(context.Background(), client, testTables(), "2024", rule)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Ontologies) != 2 || len(res.Tables) != 2 {
		t.Fatalf("unexpected result shape: %d ontologies, %d tables", len(res.Ontologies), len(res.Tables))
	}

	full := res.Ontologies[0].Ontology
	if full.Metadata.Name != FullName || full.Metadata.Extra["mesh_year"] != "2024" {
		t.Fatalf("full metadata = %+v", full.Metadata)
	}
	if full.EdgeCount() != 2 {
		t.Fatalf("full edges = %d, want 2", full.EdgeCount())
	}

	desc := res.Ontologies[1].Ontology
	if desc.Metadata.Name != DescriptorName || desc.Metadata.Extra["mesh_year"] != "2024" {
		t.Fatalf("descriptor metadata = %+v", desc.Metadata)
	}
	var descIDs []string
	for _, id := range desc.SortedNodes() {
		descIDs = append(descIDs, id.String())
	}
	if want := []string{"C000001", "D000001", "D000005", "D000009"}; !reflect.DeepEqual(descIDs, want) {
		t.Fatalf("descriptor nodes = %v, want %v", descIDs, want)
	}

	identifiers := res.Tables[0].Records.([]map[string]any)
	flags := map[string][2]bool{}
	for _, rec := range identifiers {
		flags[rec["mesh_id"].(string)] = [2]bool{rec["in_full_nxo"].(bool), rec["in_desc_nxo"].(bool)}
	}
	wantFlags := map[string][2]bool{
		"C000001": {true, true},
		"D000001": {true, true},
		"D000005": {true, true},
		"D000009": {true, true},
		"D000010": {true, false},
		"D12":     {false, false},
		"Q000001": {false, false},
	}
	if !reflect.DeepEqual(flags, wantFlags) {
		t.Fatalf("flags = %v, want %v", flags, wantFlags)
	}

	top := res.Tables[1].Records.([]map[string]any)
	type row struct {
		id, top string
		depth   int
		disease bool
	}
	var got []row
	for _, rec := range top {
		got = append(got, row{rec["mesh_id"].(string), rec["top_tree_number"].(string), rec["depth"].(int), rec["top_is_disease"].(bool)})
	}
	want := []row{
		{"D000001", "C04", 0, true},
		{"D000005", "C04", 1, true},
		{"C000001", "C04", 2, true},
		{"D000009", "C26", 0, false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("top level map = %v, want %v", got, want)
	}
}
