package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// DefaultMaxChainHops bounds replacement chain resolution.
const DefaultMaxChainHops = 64

// ErrUnresolvableChain matches every *ChainError.
var ErrUnresolvableChain = errors.New("unresolvable replacement chain")

// Replacement links a retired or alternate identifier to its successor.
type Replacement struct {
	Old NodeID
	New NodeID
}

// LiveSet reports whether an identifier is a current term. *Ontology
// satisfies it.
type LiveSet interface {
	Has(id NodeID) bool
}

// ChainError explains why the chain starting at Start was dropped.
type ChainError struct {
	Start  NodeID
	Path   []NodeID
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s from %s (%s): %s", ErrUnresolvableChain, e.Start, e.Reason, strings.Join(common.IDsToStrings(e.Path), " -> "))
}

func (e *ChainError) Unwrap() error {
	return ErrUnresolvableChain
}

// Reconciliation is the outcome of Reconcile.
//
// Lookup is the merged old to immediate successor table. Resolved maps every
// retained old identifier to the live identifier its chain ends at, and
// Replaces is the inverse: live identifier to the sorted old identifiers that
// resolve to it. Unresolved lists the dropped chains.
type Reconciliation struct {
	Lookup     map[NodeID]NodeID
	Resolved   map[NodeID]NodeID
	Replaces   map[NodeID][]NodeID
	Unresolved []*ChainError

	maxHops int
}

// ReconcileParams configures Reconcile.
//
// Retirements are explicit obsolete to replacement links. Alternates are
// alternate to canonical links. MaxHops defaults to DefaultMaxChainHops.
type ReconcileParams struct {
	Live        LiveSet
	Retirements []Replacement
	Alternates  []Replacement
	MaxHops     int
}

// Reconcile merges retirement and alternate links into one lookup, resolves
// every chain to its terminal identifier and inverts the result.
//
// Retirement pairs with Old == New are dropped. An alternate pair is kept only
// when the alternate is not live, does not contain the canonical identifier
// as a substring, and the canonical identifier is live; it never replaces an
// entry that is already present. Old identifiers that are live themselves are
// skipped. Chains that loop, exceed MaxHops or end on a non-live identifier
// are dropped and reported in Unresolved.
func Reconcile(params ReconcileParams) *Reconciliation {
	maxHops := params.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxChainHops
	}
	r := &Reconciliation{
		Lookup:   make(map[NodeID]NodeID),
		Resolved: make(map[NodeID]NodeID),
		Replaces: make(map[NodeID][]NodeID),
		maxHops:  maxHops,
	}
	live := params.Live

	for _, rep := range params.Retirements {
		if rep.Old == rep.New {
			continue
		}
		r.Lookup[rep.Old] = rep.New
	}
	retirements := len(r.Lookup)

	for _, rep := range params.Alternates {
		if live.Has(rep.Old) {
			continue
		}
		if strings.Contains(rep.Old.String(), rep.New.String()) {
			continue
		}
		if !live.Has(rep.New) {
			continue
		}
		if _, exists := r.Lookup[rep.Old]; exists {
			continue
		}
		r.Lookup[rep.Old] = rep.New
	}
	logger.Info("[Reconcile] Loaded replacement links", "retirements", retirements, "total", len(r.Lookup))

	olds := make([]NodeID, 0, len(r.Lookup))
	for old := range r.Lookup {
		olds = append(olds, old)
	}
	slices.SortFunc(olds, NodeID.Compare)

	for _, old := range olds {
		if live.Has(old) {
			logger.Debug("[Reconcile] Skipping live identifier with a replacement", "id", old.String())
			continue
		}
		terminal, path, err := r.follow(old)
		if err == nil && !live.Has(terminal) {
			err = &ChainError{Start: old, Path: path, Reason: "terminal identifier is not live"}
		}
		if err != nil {
			var chainErr *ChainError
			if errors.As(err, &chainErr) {
				r.Unresolved = append(r.Unresolved, chainErr)
			}
			logger.Warn("[Reconcile] Dropping unresolvable chain", "id", old.String(), "err", err)
			continue
		}
		r.Resolved[old] = terminal
		r.Replaces[terminal] = append(r.Replaces[terminal], old)
	}
	for current := range r.Replaces {
		slices.SortFunc(r.Replaces[current], NodeID.Compare)
	}

	logger.Info("[Reconcile] Resolved replacement chains", "current_terms", len(r.Replaces), "dropped", len(r.Unresolved))
	return r
}

// Resolve follows the chain starting at id. An identifier without a successor
// resolves to itself.
func (r *Reconciliation) Resolve(id NodeID) (NodeID, error) {
	terminal, _, err := r.follow(id)
	return terminal, err
}

func (r *Reconciliation) follow(start NodeID) (NodeID, []NodeID, error) {
	path := []NodeID{start}
	visited := map[NodeID]struct{}{start: {}}
	current := start
	for hops := 0; ; hops++ {
		next, ok := r.Lookup[current]
		if !ok {
			return current, path, nil
		}
		path = append(path, next)
		if _, seen := visited[next]; seen {
			return NodeID{}, path, &ChainError{Start: start, Path: path, Reason: "cycle"}
		}
		if hops+1 > r.maxHops {
			return NodeID{}, path, &ChainError{Start: start, Path: path, Reason: fmt.Sprintf("more than %d hops", r.maxHops)}
		}
		visited[next] = struct{}{}
		current = next
	}
}

// Annotate writes the replaced identifiers of every live node under key as a
// sorted list of strings. Nodes without replacements are left untouched.
func (r *Reconciliation) Annotate(o *Ontology, key string) error {
	for current, olds := range r.Replaces {
		if !o.Has(current) {
			continue
		}
		if err := o.SetAttribute(current, key, common.IDsToStrings(olds)); err != nil {
			return err
		}
	}
	return nil
}
