package graph

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// BuildReport summarizes what the builder did with its input.
type BuildReport struct {
	Nodes        int
	Edges        int
	Duplicates   []NodeID
	SkippedEdges []SkippedEdge
}

// SkippedEdge is an edge record that was dropped because an endpoint is not a
// node of the ontology.
type SkippedEdge struct {
	Parent  NodeID
	Child   NodeID
	Missing NodeID
}

// BuildOptions tunes Build.
//
// StrictDuplicates turns a repeated node id into ErrDuplicateNode instead of a
// warning.
type BuildOptions struct {
	StrictDuplicates bool
}

// Build assembles an ontology from node records followed by edge records,
// validates that it is a DAG and freezes it.
//
// A duplicate node id keeps the last record. An edge whose parent or child is
// missing is skipped and reported. A cycle aborts with a *CycleError.
func Build(
	meta Metadata,
	nodes []common.NodeRecord,
	edges []common.EdgeRecord,
	opts BuildOptions,
) (*Ontology, BuildReport, error) {
	o := NewOntology(meta)
	var report BuildReport

	for _, rec := range nodes {
		replaced, err := o.AddNode(rec.ID, rec.Attributes)
		if err != nil {
			return nil, report, err
		}
		if !replaced {
			continue
		}
		if opts.StrictDuplicates {
			return nil, report, fmt.Errorf("%w: %s", ErrDuplicateNode, rec.ID)
		}
		report.Duplicates = append(report.Duplicates, rec.ID)
		logger.Warn("[Builder] Duplicate node id, keeping last record", "ontology", meta.Name, "id", rec.ID.String())
	}

	for _, rec := range edges {
		err := o.AddEdge(rec.Parent, rec.Child, rec.Attributes)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNodeNotFound) {
			return nil, report, err
		}
		missing := rec.Parent
		if o.Has(rec.Parent) {
			missing = rec.Child
		}
		report.SkippedEdges = append(report.SkippedEdges, SkippedEdge{
			Parent:  rec.Parent,
			Child:   rec.Child,
			Missing: missing,
		})
		logger.Debug(
			"[Builder] Skipping edge with missing endpoint",
			"ontology", meta.Name,
			"parent", rec.Parent.String(),
			"child", rec.Child.String(),
			"missing", missing.String(),
		)
	}

	if n := len(report.SkippedEdges); n > 0 {
		logger.Warn("[Builder] Skipped edges with missing endpoints", "ontology", meta.Name, "count", n)
	}

	if err := ValidateDAG(o); err != nil {
		return nil, report, err
	}
	o.Freeze()

	report.Nodes = o.Len()
	report.Edges = o.EdgeCount()
	logger.Info("[Builder] Built ontology", "ontology", meta.Name, "nodes", report.Nodes, "edges", report.Edges)
	return o, report, nil
}
