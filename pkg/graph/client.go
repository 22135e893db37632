package graph

import (
	"context"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// GraphClient runs the construction and closure passes with one shared
// configuration. Source pipelines hold a GraphClient and call it once per
// ontology they produce.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	parallelism      int
	maxChainHops     int
	strictDuplicates bool
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Parallelism controls how many goroutines warm the closure cache; 1 or less
// computes closures lazily on first use. MaxChainHops bounds identifier chain
// resolution. StrictDuplicates turns duplicate node ids into errors.
type NewGraphClientParams struct {
	Parallelism      int
	MaxChainHops     int
	StrictDuplicates bool
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Parallelism: 8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	o, closure, report, err := client.Build(ctx, meta, nodes, edges)
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	maxHops := params.MaxChainHops
	if maxHops <= 0 {
		maxHops = DefaultMaxChainHops
	}
	return &GraphClient{
		parallelism:      params.Parallelism,
		maxChainHops:     maxHops,
		strictDuplicates: params.StrictDuplicates,
	}, nil
}

// Build assembles and validates an ontology and prepares its closure cache.
func (g *GraphClient) Build(
	ctx context.Context,
	meta Metadata,
	nodes []common.NodeRecord,
	edges []common.EdgeRecord,
) (*Ontology, *Closure, BuildReport, error) {
	o, report, err := Build(meta, nodes, edges, BuildOptions{StrictDuplicates: g.strictDuplicates})
	if err != nil {
		return nil, nil, report, err
	}
	c, err := g.Closure(ctx, o)
	if err != nil {
		return nil, nil, report, err
	}
	return o, c, report, nil
}

// Closure returns the closure cache of a frozen ontology, warmed in parallel
// when the client is configured for it.
func (g *GraphClient) Closure(ctx context.Context, o *Ontology) (*Closure, error) {
	c, err := NewClosure(o)
	if err != nil {
		return nil, err
	}
	if g.parallelism > 1 {
		logger.Debug("[Graph] Precomputing closures", "ontology", o.Metadata.Name, "workers", g.parallelism)
		if err := c.Precompute(ctx, g.parallelism); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reconcile resolves replacement chains against the live terms of o.
func (g *GraphClient) Reconcile(o *Ontology, retirements, alternates []Replacement) *Reconciliation {
	return Reconcile(ReconcileParams{
		Live:        o,
		Retirements: retirements,
		Alternates:  alternates,
		MaxHops:     g.maxChainHops,
	})
}
