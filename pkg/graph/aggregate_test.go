package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

func TestAggregateGenes(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("A")},
		{ID: s("B"), Attributes: Attributes{"genes_direct": []string{"g1"}}},
		{ID: s("C"), Attributes: Attributes{"genes_direct": []any{"g2", "g1"}}},
	}
	_, c := mustBuild(t, nodes, edgeRecords([2]string{"A", "B"}, [2]string{"B", "C"}))
	if err := Aggregate(c, GeneAggregation); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	o := c.Ontology()

	tests := []struct {
		id           string
		direct       []string
		closure      []string
		directCount  int
		closureCount int
	}{
		{"A", []string{}, []string{"g1", "g2"}, 0, 2},
		{"B", []string{"g1"}, []string{"g1", "g2"}, 1, 2},
		{"C", []string{"g2", "g1"}, []string{"g1", "g2"}, 2, 2},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			attrs, _ := o.Attributes(s(tc.id))
			direct, _ := attrs.StringList("genes_direct")
			if !reflect.DeepEqual(direct, tc.direct) {
				t.Errorf("genes_direct = %v, want %v", direct, tc.direct)
			}
			closure, _ := attrs.StringList("genes_closure")
			if !reflect.DeepEqual(closure, tc.closure) {
				t.Errorf("genes_closure = %v, want %v", closure, tc.closure)
			}
			if attrs["genes_direct_count"] != tc.directCount {
				t.Errorf("genes_direct_count = %v, want %d", attrs["genes_direct_count"], tc.directCount)
			}
			if attrs["genes_closure_count"] != tc.closureCount {
				t.Errorf("genes_closure_count = %v, want %d", attrs["genes_closure_count"], tc.closureCount)
			}
		})
	}
}

func TestAggregateIsMonotone(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("R"), Attributes: Attributes{"genes_direct": []string{"r"}}},
		{ID: s("A"), Attributes: Attributes{"genes_direct": []string{"a", "shared"}}},
		{ID: s("B"), Attributes: Attributes{"genes_direct": []string{"b", "shared"}}},
		{ID: s("L"), Attributes: Attributes{"genes_direct": []string{"l"}}},
	}
	o, c := mustBuild(t, nodes, edgeRecords(
		[2]string{"R", "A"}, [2]string{"R", "B"}, [2]string{"A", "L"}, [2]string{"B", "L"},
	))
	if err := Aggregate(c, GeneAggregation); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for _, e := range o.Edges() {
		parent, _ := o.StringList(e.Parent, "genes_closure")
		child, _ := o.StringList(e.Child, "genes_closure")
		set := make(map[string]bool)
		for _, g := range parent {
			set[g] = true
		}
		for _, g := range child {
			if !set[g] {
				t.Errorf("%s in closure of %s but not of its parent %s", g, e.Child, e.Parent)
			}
		}
	}
	root, _ := o.StringList(s("R"), "genes_closure")
	if want := []string{"a", "b", "l", "r", "shared"}; !reflect.DeepEqual(root, want) {
		t.Errorf("closure of R = %v, want %v", root, want)
	}
}

func TestAggregateRejectsBadShape(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("A"), Attributes: Attributes{"genes_direct": []string{"g1"}}},
		{ID: s("B"), Attributes: Attributes{"genes_direct": "g2"}},
	}
	o, c := mustBuild(t, nodes, edgeRecords([2]string{"A", "B"}))
	err := Aggregate(c, GeneAggregation)
	var attrErr *common.AttributeError
	if !errors.As(err, &attrErr) {
		t.Fatalf("expected *AttributeError, got %v", err)
	}
	if attrErr.Node != s("B") || attrErr.Key != "genes_direct" {
		t.Errorf("unexpected error details %+v", attrErr)
	}
	attrs, _ := o.Attributes(s("A"))
	if _, written := attrs["genes_closure"]; written {
		t.Errorf("aggregation wrote results despite a shape error")
	}
}

func TestAggregateCustomKeys(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("A"), Attributes: Attributes{"compounds": []string{"cid1"}}},
		{ID: s("B"), Attributes: Attributes{"compounds": []string{"cid2"}}},
	}
	o, c := mustBuild(t, nodes, edgeRecords([2]string{"A", "B"}))
	agg := Aggregation{Direct: "compounds", Closure: "all_compounds", ClosureCount: "n"}
	if err := Aggregate(c, agg); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	attrs, _ := o.Attributes(s("A"))
	if attrs["n"] != 2 || attrs["compounds_count"] != 1 {
		t.Fatalf("unexpected counts %v", attrs)
	}
	if err := Aggregate(c, Aggregation{Direct: "compounds"}); err == nil {
		t.Fatalf("expected error for missing closure key")
	}
}
