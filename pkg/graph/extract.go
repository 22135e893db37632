package graph

import (
	"fmt"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// NodePredicate selects nodes by id and attributes.
type NodePredicate func(id NodeID, attrs Attributes) (bool, error)

// FlagPredicate selects nodes whose bool attribute key is true.
func FlagPredicate(key string) NodePredicate {
	return func(id NodeID, attrs Attributes) (bool, error) {
		flag, err := attrs.Bool(key)
		return flag, withNode(err, id)
	}
}

// Extract induces the subgraph of o over ids. Every id must be a node of o.
// Edges between retained nodes are inherited with their attributes. Node and
// edge attribute maps are copied, so the result can be annotated without
// touching o. The result is validated and frozen.
func Extract(o *Ontology, ids []NodeID, meta Metadata) (*Ontology, error) {
	keep := make(map[NodeID]struct{}, len(ids))
	for _, id := range ids {
		if !o.Has(id) {
			return nil, fmt.Errorf("failed to extract %s: %w", id, ErrNodeNotFound)
		}
		keep[id] = struct{}{}
	}

	sub := NewOntology(meta)
	for _, id := range o.order {
		if _, ok := keep[id]; !ok {
			continue
		}
		if _, err := sub.AddNode(id, o.nodes[id].Clone()); err != nil {
			return nil, err
		}
	}
	for _, key := range o.edgeSeq {
		_, parentKept := keep[key.parent]
		_, childKept := keep[key.child]
		if !parentKept || !childKept {
			continue
		}
		if err := sub.AddEdge(key.parent, key.child, o.edges[key].Clone()); err != nil {
			return nil, err
		}
	}

	if err := ValidateDAG(sub); err != nil {
		return nil, err
	}
	sub.Freeze()
	logger.Info("[Extract] Extracted subgraph", "from", o.Metadata.Name, "to", meta.Name, "nodes", sub.Len(), "edges", sub.EdgeCount())
	return sub, nil
}

// SeedClosure returns the seeds selected by pred together with all of their
// descendants, sorted by id.
func SeedClosure(c *Closure, pred NodePredicate) ([]NodeID, error) {
	o := c.Ontology()
	selected := make(map[int32]struct{})
	for i, id := range c.ids {
		ok, err := pred(id, o.nodes[id])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		selected[int32(i)] = struct{}{}
		for _, d := range c.closure(down, int32(i)) {
			selected[d] = struct{}{}
		}
	}

	out := make([]NodeID, 0, len(selected))
	for i := range c.ids {
		if _, ok := selected[int32(i)]; ok {
			out = append(out, c.ids[i])
		}
	}
	return out, nil
}

// ExtractSeeded derives the view of every seed selected by pred and its
// descendants.
func ExtractSeeded(c *Closure, pred NodePredicate, meta Metadata) (*Ontology, error) {
	ids, err := SeedClosure(c, pred)
	if err != nil {
		return nil, err
	}
	return Extract(c.Ontology(), ids, meta)
}

// RootPredicate restricts pred to nodes without parents.
func RootPredicate(c *Closure, pred NodePredicate) NodePredicate {
	return func(id NodeID, attrs Attributes) (bool, error) {
		if !c.IsRoot(id) {
			return false, nil
		}
		return pred(id, attrs)
	}
}

// AttributeEquals selects nodes whose string attribute key equals value.
func AttributeEquals(key, value string) NodePredicate {
	return func(id NodeID, attrs Attributes) (bool, error) {
		s, ok, err := attrs.String(key)
		if err != nil {
			return false, withNode(err, id)
		}
		return ok && s == value, nil
	}
}
