package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/memory"
)

func s(id string) NodeID { return common.StringID(id) }

func ids(in ...string) []NodeID {
	out := make([]NodeID, len(in))
	for i, v := range in {
		out[i] = s(v)
	}
	return out
}

func nodeRecords(in ...string) []common.NodeRecord {
	out := make([]common.NodeRecord, len(in))
	for i, v := range in {
		out[i] = common.NodeRecord{ID: s(v), Attributes: Attributes{"label": "term " + v}}
	}
	return out
}

func edgeRecords(pairs ...[2]string) []common.EdgeRecord {
	out := make([]common.EdgeRecord, len(pairs))
	for i, p := range pairs {
		out[i] = common.EdgeRecord{Parent: s(p[0]), Child: s(p[1])}
	}
	return out
}

func mustBuild(t *testing.T, nodes []common.NodeRecord, edges []common.EdgeRecord) (*Ontology, *Closure) {
	t.Helper()
	o, _, err := Build(Metadata{Name: "test"}, nodes, edges, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c, err := NewClosure(o)
	if err != nil {
		t.Fatalf("NewClosure: %v", err)
	}
	return o, c
}

func TestBuildSkipsMissingEndpoints(t *testing.T) {
	rec := memory.NewMemoryLogger()
	logger.Init(rec)
	defer logger.Init()

	o, report, err := Build(
		Metadata{Name: "test"},
		nodeRecords("A", "B"),
		edgeRecords([2]string{"A", "B"}, [2]string{"A", "Q"}, [2]string{"Z", "B"}),
		BuildOptions{},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if o.EdgeCount() != 1 || !o.HasEdge(s("A"), s("B")) {
		t.Fatalf("expected only A->B, got %v", o.Edges())
	}
	want := []SkippedEdge{
		{Parent: s("A"), Child: s("Q"), Missing: s("Q")},
		{Parent: s("Z"), Child: s("B"), Missing: s("Z")},
	}
	if !reflect.DeepEqual(report.SkippedEdges, want) {
		t.Fatalf("skipped = %v, want %v", report.SkippedEdges, want)
	}
	if len(rec.Filter(memory.LevelWarn)) == 0 {
		t.Fatalf("expected a warning for skipped edges")
	}
}

func TestBuildDuplicateLastWriteWins(t *testing.T) {
	nodes := []common.NodeRecord{
		{ID: s("A"), Attributes: Attributes{"label": "first"}},
		{ID: s("A"), Attributes: Attributes{"label": "second"}},
	}
	o, report, err := Build(Metadata{Name: "dup"}, nodes, nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	attrs, _ := o.Attributes(s("A"))
	if attrs["label"] != "second" {
		t.Fatalf("expected last write to win, got %v", attrs["label"])
	}
	if o.Len() != 1 || !reflect.DeepEqual(report.Duplicates, ids("A")) {
		t.Fatalf("unexpected report %+v", report)
	}

	_, _, err = Build(Metadata{Name: "dup"}, nodes, nil, BuildOptions{StrictDuplicates: true})
	if !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode in strict mode, got %v", err)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	_, _, err := Build(
		Metadata{Name: "cyclic"},
		nodeRecords("A", "B"),
		edgeRecords([2]string{"A", "B"}, [2]string{"B", "A"}),
		BuildOptions{},
	)
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected cycle to be a structural error")
	}
	if !reflect.DeepEqual(cycle.Path, ids("A", "B", "A")) {
		t.Fatalf("cycle path = %v", cycle.Path)
	}
}

func TestValidateDAG(t *testing.T) {
	tests := []struct {
		name  string
		edges [][2]string
		want  []NodeID
	}{
		{"empty", nil, nil},
		{"diamond", [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}}, nil},
		{"self loop", [][2]string{{"B", "B"}}, ids("B", "B")},
		{"long cycle", [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}, {"D", "B"}}, ids("B", "C", "D", "B")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOntology(Metadata{})
			for _, id := range ids("A", "B", "C", "D") {
				o.AddNode(id, nil)
			}
			for _, e := range tc.edges {
				if err := o.AddEdge(s(e[0]), s(e[1]), nil); err != nil {
					t.Fatalf("AddEdge: %v", err)
				}
			}
			err := ValidateDAG(o)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no cycle, got %v", err)
				}
				return
			}
			var cycle *CycleError
			if !errors.As(err, &cycle) {
				t.Fatalf("expected cycle, got %v", err)
			}
			if !reflect.DeepEqual(cycle.Path, tc.want) {
				t.Fatalf("path = %v, want %v", cycle.Path, tc.want)
			}
		})
	}
}

func TestFrozenOntologyRejectsStructuralChanges(t *testing.T) {
	o, _ := mustBuild(t, nodeRecords("A", "B"), nil)
	if _, err := o.AddNode(s("C"), nil); !errors.Is(err, ErrFrozen) {
		t.Fatalf("AddNode on frozen: %v", err)
	}
	if err := o.AddEdge(s("A"), s("B"), nil); !errors.Is(err, ErrFrozen) {
		t.Fatalf("AddEdge on frozen: %v", err)
	}
	if err := o.SetAttribute(s("A"), "x", 1); err != nil {
		t.Fatalf("SetAttribute on frozen: %v", err)
	}
}

func TestNewClosureRequiresFrozen(t *testing.T) {
	o := NewOntology(Metadata{})
	if _, err := NewClosure(o); !errors.Is(err, ErrNotFrozen) {
		t.Fatalf("expected ErrNotFrozen, got %v", err)
	}
}
