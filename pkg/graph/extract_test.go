package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

func categoryFixture(t *testing.T) (*Ontology, *Closure) {
	t.Helper()
	nodes := []common.NodeRecord{
		{ID: s("TOP"), Attributes: Attributes{"label": "top"}},
		{ID: s("R"), Attributes: Attributes{"label": "root", "is_category_root": true}},
		{ID: s("S"), Attributes: Attributes{"label": "s"}},
		{ID: s("T"), Attributes: Attributes{"label": "t"}},
		{ID: s("U"), Attributes: Attributes{"label": "unrelated"}},
	}
	return mustBuild(t, nodes, edgeRecords(
		[2]string{"TOP", "R"}, [2]string{"R", "S"}, [2]string{"S", "T"}, [2]string{"R", "T"}, [2]string{"TOP", "U"},
	))
}

func TestExtractSeeded(t *testing.T) {
	o, c := categoryFixture(t)
	seeds, err := SeedClosure(c, FlagPredicate("is_category_root"))
	if err != nil {
		t.Fatalf("SeedClosure: %v", err)
	}
	if !reflect.DeepEqual(seeds, ids("R", "S", "T")) {
		t.Fatalf("seeds = %v", seeds)
	}

	sub, err := Extract(o, seeds, Metadata{Name: "slim"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sub.Metadata.Name != "slim" {
		t.Errorf("metadata name = %q", sub.Metadata.Name)
	}
	if !reflect.DeepEqual(sub.SortedNodes(), ids("R", "S", "T")) {
		t.Errorf("nodes = %v", sub.SortedNodes())
	}
	want := []Edge{
		{Parent: s("R"), Child: s("S"), Attributes: Attributes{}},
		{Parent: s("S"), Child: s("T"), Attributes: Attributes{}},
		{Parent: s("R"), Child: s("T"), Attributes: Attributes{}},
	}
	if !reflect.DeepEqual(sub.Edges(), want) {
		t.Errorf("edges = %v, want %v", sub.Edges(), want)
	}
	if !sub.Frozen() {
		t.Errorf("extracted ontology is not frozen")
	}

	if err := sub.SetAttribute(s("R"), "label", "changed"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	orig, _ := o.Attributes(s("R"))
	if orig["label"] != "root" {
		t.Errorf("annotating the view changed the source ontology")
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	o, _ := categoryFixture(t)
	keep := ids("R", "S", "T")
	first, err := Extract(o, keep, Metadata{Name: "slim"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := Extract(first, keep, Metadata{Name: "slim"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if err := Equivalent(first, second); err != nil {
		t.Fatalf("extracting twice changed the view: %v", err)
	}
}

func TestExtractUnknownID(t *testing.T) {
	o, _ := categoryFixture(t)
	if _, err := Extract(o, ids("R", "nope"), Metadata{}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestPredicates(t *testing.T) {
	_, c := categoryFixture(t)
	o := c.Ontology()

	rootLabelled := RootPredicate(c, AttributeEquals("label", "top"))
	attrs, _ := o.Attributes(s("TOP"))
	if ok, _ := rootLabelled(s("TOP"), attrs); !ok {
		t.Errorf("TOP should match")
	}
	attrs, _ = o.Attributes(s("R"))
	if ok, _ := RootPredicate(c, AttributeEquals("label", "root"))(s("R"), attrs); ok {
		t.Errorf("R has a parent and must not match a root predicate")
	}

	_, err := FlagPredicate("label")(s("R"), attrs)
	var attrErr *common.AttributeError
	if !errors.As(err, &attrErr) || attrErr.Node != s("R") {
		t.Errorf("expected attribute error for non-bool flag, got %v", err)
	}
}
