package graph

import (
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// Aggregation names the attributes an aggregation pass reads and writes.
//
// Direct is the per-node list of associated entities. Closure receives the
// union over the node and all its descendants. DirectCount and ClosureCount
// receive the list lengths; they default to Direct+"_count" and
// Closure+"_count".
type Aggregation struct {
	Direct       string
	Closure      string
	DirectCount  string
	ClosureCount string
}

// GeneAggregation is the HGNC gene group configuration.
var GeneAggregation = Aggregation{
	Direct:  "genes_direct",
	Closure: "genes_closure",
}

func (a Aggregation) withDefaults() Aggregation {
	if a.DirectCount == "" {
		a.DirectCount = a.Direct + "_count"
	}
	if a.ClosureCount == "" {
		a.ClosureCount = a.Closure + "_count"
	}
	return a
}

// Aggregate folds the direct attribute upward through descendant closures and
// writes the closure list plus both counts onto every node. Closure lists are
// deduplicated and sorted.
//
// The direct attribute must be a list of strings; a missing value counts as
// empty. Every direct list is read and checked before anything is written, so
// a shape error leaves the ontology untouched.
func Aggregate(c *Closure, agg Aggregation) error {
	if agg.Direct == "" || agg.Closure == "" {
		return fmt.Errorf("aggregation needs both a direct and a closure attribute")
	}
	agg = agg.withDefaults()
	o := c.Ontology()

	direct := make([][]string, len(c.ids))
	for i, id := range c.ids {
		list, err := o.StringList(id, agg.Direct)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", agg.Direct, err)
		}
		direct[i] = list
	}

	for i, id := range c.ids {
		union := slices.Clone(direct[i])
		for _, d := range c.closure(down, int32(i)) {
			union = append(union, direct[d]...)
		}
		slices.Sort(union)
		union = slices.Compact(union)
		if union == nil {
			union = []string{}
		}

		directList := direct[i]
		if directList == nil {
			directList = []string{}
		}
		// Normalize the direct value so readers see the declared shape.
		if err := o.SetAttribute(id, agg.Direct, directList); err != nil {
			return err
		}
		if err := o.SetAttribute(id, agg.Closure, union); err != nil {
			return err
		}
		if err := o.SetAttribute(id, agg.DirectCount, len(directList)); err != nil {
			return err
		}
		if err := o.SetAttribute(id, agg.ClosureCount, len(union)); err != nil {
			return err
		}
	}

	logger.Debug("[Aggregate] Aggregated attribute", "ontology", o.Metadata.Name, "direct", agg.Direct, "closure", agg.Closure)
	return nil
}
