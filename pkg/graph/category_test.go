package graph

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

func TestCategoryRule(t *testing.T) {
	rule, err := NewCategoryRule([]string{`C\d\d`, `F03`}, []string{`C2[2-6]`})
	if err != nil {
		t.Fatalf("NewCategoryRule: %v", err)
	}
	tests := []struct {
		code string
		want bool
	}{
		{"C04", true},
		{"C04.557", true},
		{"C23", true},
		{"C22", false},
		{"C26.088", false},
		{"F03", true},
		{"F01", false},
		{"XC04", false},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			if got := rule.Match(tc.code); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}

	if _, err := NewCategoryRule([]string{"("}, nil); err == nil {
		t.Errorf("expected compile error")
	}
}

func meshFixture(t *testing.T) *Closure {
	t.Helper()
	nodes := []common.NodeRecord{
		{ID: s("D1"), Attributes: Attributes{"identifier": "D1", "label": "Neoplasms", "tree_numbers": []string{"C04"}, "class": "topical"}},
		{ID: s("D2"), Attributes: Attributes{"identifier": "D2", "label": "Wounds", "tree_numbers": "C26", "class": "topical"}},
		{ID: s("D3"), Attributes: Attributes{"identifier": "D3", "label": "Carcinoma", "class": "topical"}},
		{ID: s("D4"), Attributes: Attributes{"identifier": "D4", "label": "Burns", "class": "topical"}},
		{ID: s("D5"), Attributes: Attributes{"identifier": "D5", "label": "Skin burn", "class": "supplementary"}},
		{ID: s("Q1"), Attributes: Attributes{"identifier": "Q1", "label": "qualifier"}},
	}
	_, c := mustBuild(t, nodes, edgeRecords(
		[2]string{"D1", "D3"}, [2]string{"D2", "D4"}, [2]string{"D4", "D5"}, [2]string{"D2", "D5"}, [2]string{"D1", "D5"},
	))
	return c
}

func TestMapCategories(t *testing.T) {
	c := meshFixture(t)
	rule, _ := NewCategoryRule([]string{`C\d\d`}, []string{`C26`})
	qualifies := func(id NodeID, attrs Attributes) (bool, error) {
		_, ok := attrs["tree_numbers"]
		return ok, nil
	}
	got, err := MapCategories(c, CategoryMapParams{
		Qualifies: qualifies,
		CodeKey:   "tree_numbers",
		ClassKey:  "class",
		LabelKey:  "label",
		Rule:      rule,
	})
	if err != nil {
		t.Fatalf("MapCategories: %v", err)
	}

	type row struct {
		node, root, code string
		depth            int
		member           bool
	}
	want := []row{
		{"D1", "D1", "C04", 0, true},
		{"D3", "D1", "C04", 1, true},
		{"D5", "D1", "C04", 1, true},
		{"D2", "D2", "C26", 0, false},
		{"D4", "D2", "C26", 1, false},
		{"D5", "D2", "C26", 1, false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d assignments, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.NodeID != s(w.node) || g.RootID != s(w.root) || g.RootCode != w.code || g.Depth != w.depth || g.IsMember != w.member {
			t.Errorf("assignment %d = %+v, want %+v", i, g, w)
		}
	}
	if got[1].RootLabel != "Neoplasms" || got[1].NodeLabel != "Carcinoma" {
		t.Errorf("labels not copied: %+v", got[1])
	}
}

func TestMapCategoriesClassOrder(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("R"), Attributes: Attributes{"code": "A01"}},
		{ID: s("a"), Attributes: Attributes{"class": "alpha"}},
		{ID: s("b"), Attributes: Attributes{"class": "beta"}},
	}
	_, c := mustBuild(t, nodes, edgeRecords([2]string{"R", "a"}, [2]string{"R", "b"}))
	rule, _ := NewCategoryRule([]string{`A`}, nil)
	got, err := MapCategories(c, CategoryMapParams{
		Qualifies: func(id NodeID, _ Attributes) (bool, error) { return id == s("R"), nil },
		CodeKey:   "code",
		ClassKey:  "class",
		Rule:      rule,
	})
	if err != nil {
		t.Fatalf("MapCategories: %v", err)
	}
	if len(got) != 3 || got[1].NodeID != s("b") || got[2].NodeID != s("a") {
		t.Fatalf("expected class descending within equal depth, got %+v", got)
	}
}

func TestMapCategoriesBadCode(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("R"), Attributes: Attributes{"tree_numbers": []string{"C01", "C02"}}},
	}
	_, c := mustBuild(t, nodes, nil)
	rule, _ := NewCategoryRule([]string{`C`}, nil)
	_, err := MapCategories(c, CategoryMapParams{
		Qualifies: func(NodeID, Attributes) (bool, error) { return true, nil },
		CodeKey:   "tree_numbers",
		Rule:      rule,
	})
	var attrErr *common.AttributeError
	if !errors.As(err, &attrErr) || attrErr.Node != s("R") {
		t.Fatalf("expected attribute error on R, got %v", err)
	}
}
