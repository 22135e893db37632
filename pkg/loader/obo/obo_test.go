package obo

import (
	"reflect"
	"strings"
	"testing"
)

const sample = `format-version: 1.4
data-version: releases/2024-06-01
ontology: mondo
subsetdef: rare "Rare disease"

[Term]
id: MONDO:0000001
name: disease
def: "A \"disease\" is a disposition." [OGMS:0000031]
synonym: "disorder" EXACT []
synonym: "condition" RELATED [MONDO:curator]
xref: DOID:4 {source="MONDO:equivalentTo"}

[Term]
id: MONDO:0005148
name: type 2 diabetes mellitus ! with comment
is_a: MONDO:0000001 ! disease
relationship: has_modifier MONDO:0021152 ! inherited
alt_id: MONDO:0100001
subset: rare

[Typedef]
id: has_modifier
name: has modifier

[Term]
id: MONDO:0000002
name: obsolete thing
is_obsolete: true
replaced_by: MONDO:0005148
`

func TestParse(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Ontology != "mondo" || doc.DataVersion != "releases/2024-06-01" || doc.FormatVersion != "1.4" {
		t.Fatalf("unexpected header %+v", doc)
	}
	if got := doc.Header["subsetdef"]; len(got) != 1 {
		t.Fatalf("subsetdef = %v", got)
	}
	if len(doc.Terms) != 3 {
		t.Fatalf("expected 3 terms, got %d", len(doc.Terms))
	}

	want := []Term{
		{
			ID:       "MONDO:0000001",
			Name:     "disease",
			Def:      `A "disease" is a disposition.`,
			Synonyms: []Synonym{{Text: "disorder", Scope: "EXACT"}, {Text: "condition", Scope: "RELATED"}},
			Xrefs:    []string{"DOID:4"},
		},
		{
			ID:            "MONDO:0005148",
			Name:          "type 2 diabetes mellitus",
			IsA:           []string{"MONDO:0000001"},
			Relationships: []Relationship{{Type: "has_modifier", Target: "MONDO:0021152"}},
			AltIDs:        []string{"MONDO:0100001"},
			Subsets:       []string{"rare"},
		},
		{
			ID:         "MONDO:0000002",
			Name:       "obsolete thing",
			IsObsolete: true,
			ReplacedBy: []string{"MONDO:0005148"},
		},
	}
	for i := range want {
		if !reflect.DeepEqual(doc.Terms[i], want[i]) {
			t.Errorf("term %d = %+v, want %+v", i, doc.Terms[i], want[i])
		}
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	if _, err := Parse(strings.NewReader("[Term]\nnot a tag value pair\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStripComment(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"MONDO:1 ! disease", "MONDO:1"},
		{`"a ! b" EXACT []`, `"a ! b" EXACT []`},
		{"plain", "plain"},
	}
	for _, tc := range tests {
		if got := stripComment(tc.in); got != tc.want {
			t.Errorf("stripComment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
