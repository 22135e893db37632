package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

// Metadata holds graph-level information. Extra carries source specific keys
// such as mesh_year, source_url or the pubchem_* fields and is flattened next
// to the named fields when serialized.
type Metadata struct {
	Name        string
	Version     string
	Description string
	License     string
	Extra       Attributes
}

// Edge is a parent to child subsumption link.
type Edge struct {
	Parent     NodeID
	Child      NodeID
	Attributes Attributes
}

type edgeKey struct {
	parent NodeID
	child  NodeID
}

// Ontology is a directed graph of terms. It is built in a single writer phase
// and then frozen; after Freeze only attribute values may change.
type Ontology struct {
	Metadata Metadata

	order    []NodeID
	nodes    map[NodeID]Attributes
	edges    map[edgeKey]Attributes
	edgeSeq  []edgeKey
	parents  map[NodeID][]NodeID
	children map[NodeID][]NodeID
	frozen   bool
}

// NewOntology returns an empty, mutable ontology.
func NewOntology(meta Metadata) *Ontology {
	if meta.Extra == nil {
		meta.Extra = Attributes{}
	}
	return &Ontology{
		Metadata: meta,
		nodes:    make(map[NodeID]Attributes),
		edges:    make(map[edgeKey]Attributes),
		parents:  make(map[NodeID][]NodeID),
		children: make(map[NodeID][]NodeID),
	}
}

// AddNode inserts a node or replaces the attributes of an existing one. It
// reports whether the id was already present.
func (o *Ontology) AddNode(id NodeID, attrs Attributes) (replaced bool, err error) {
	if o.frozen {
		return false, ErrFrozen
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	if _, ok := o.nodes[id]; ok {
		o.nodes[id] = attrs
		return true, nil
	}
	o.nodes[id] = attrs
	o.order = append(o.order, id)
	return false, nil
}

// AddEdge links parent to child. Both endpoints must already exist. Adding the
// same pair twice replaces the edge attributes.
func (o *Ontology) AddEdge(parent, child NodeID, attrs Attributes) error {
	if o.frozen {
		return ErrFrozen
	}
	if _, ok := o.nodes[parent]; !ok {
		return fmt.Errorf("parent %s: %w", parent, ErrNodeNotFound)
	}
	if _, ok := o.nodes[child]; !ok {
		return fmt.Errorf("child %s: %w", child, ErrNodeNotFound)
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	key := edgeKey{parent: parent, child: child}
	if _, ok := o.edges[key]; !ok {
		o.edgeSeq = append(o.edgeSeq, key)
		o.parents[child] = append(o.parents[child], parent)
		o.children[parent] = append(o.children[parent], child)
	}
	o.edges[key] = attrs
	return nil
}

// Freeze ends the writer phase.
func (o *Ontology) Freeze() {
	o.frozen = true
}

// Frozen reports whether Freeze was called.
func (o *Ontology) Frozen() bool {
	return o.frozen
}

// Len returns the number of nodes.
func (o *Ontology) Len() int {
	return len(o.order)
}

// EdgeCount returns the number of edges.
func (o *Ontology) EdgeCount() int {
	return len(o.edgeSeq)
}

// Has reports whether id is a node of the ontology.
func (o *Ontology) Has(id NodeID) bool {
	_, ok := o.nodes[id]
	return ok
}

// Nodes returns the node ids in insertion order.
func (o *Ontology) Nodes() []NodeID {
	return slices.Clone(o.order)
}

// SortedNodes returns the node ids ordered by NodeID.Compare.
func (o *Ontology) SortedNodes() []NodeID {
	ids := slices.Clone(o.order)
	slices.SortFunc(ids, NodeID.Compare)
	return ids
}

// Edges returns the edges in insertion order.
func (o *Ontology) Edges() []Edge {
	out := make([]Edge, 0, len(o.edgeSeq))
	for _, key := range o.edgeSeq {
		out = append(out, Edge{Parent: key.parent, Child: key.child, Attributes: o.edges[key]})
	}
	return out
}

// HasEdge reports whether parent links directly to child.
func (o *Ontology) HasEdge(parent, child NodeID) bool {
	_, ok := o.edges[edgeKey{parent: parent, child: child}]
	return ok
}

// Parents returns the direct parents of id.
func (o *Ontology) Parents(id NodeID) []NodeID {
	return slices.Clone(o.parents[id])
}

// Children returns the direct children of id.
func (o *Ontology) Children(id NodeID) []NodeID {
	return slices.Clone(o.children[id])
}

// InDegree returns the number of parents of id.
func (o *Ontology) InDegree(id NodeID) int {
	return len(o.parents[id])
}

// Attributes returns the attribute map of id. The map is live: writes are
// visible to later readers.
func (o *Ontology) Attributes(id NodeID) (Attributes, error) {
	attrs, ok := o.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return attrs, nil
}

// SetAttribute writes a single attribute value. This is allowed on frozen
// ontologies and is how aggregation passes record their results.
func (o *Ontology) SetAttribute(id NodeID, key string, value any) error {
	attrs, ok := o.nodes[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	attrs[key] = value
	return nil
}

// StringList reads a list-of-strings attribute of id.
func (o *Ontology) StringList(id NodeID, key string) ([]string, error) {
	attrs, err := o.Attributes(id)
	if err != nil {
		return nil, err
	}
	list, err := attrs.StringList(key)
	return list, withNode(err, id)
}

func withNode(err error, id NodeID) error {
	var attrErr *common.AttributeError
	if errors.As(err, &attrErr) {
		attrErr.Node = id
	}
	return err
}
