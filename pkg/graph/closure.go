package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNotFrozen is returned by NewClosure for an ontology that is still in its
// writer phase.
var ErrNotFrozen = errors.New("ontology must be frozen before computing closures")

type direction uint8

const (
	up direction = iota
	down
)

// Closure answers ancestor, descendant and root queries for one frozen
// ontology. Nodes are interned into dense int32 indexes assigned in id order,
// so a sorted index slice is also a sorted id slice.
//
// Results are memoized per node and direction. A node's closure is the union
// of its neighbours and their closures, computed bottom-up in post-order, so
// every node is expanded once no matter how many consumers ask for it. All
// methods are safe for concurrent use.
type Closure struct {
	o        *Ontology
	ids      []NodeID
	index    map[NodeID]int32
	parents  [][]int32
	children [][]int32

	mu    sync.RWMutex
	memo  [2][][]int32
	group singleflight.Group
}

// NewClosure prepares the closure cache for o. The cache belongs to the caller
// and is discarded with it.
func NewClosure(o *Ontology) (*Closure, error) {
	if !o.Frozen() {
		return nil, ErrNotFrozen
	}
	ids := o.SortedNodes()
	index := make(map[NodeID]int32, len(ids))
	for i, id := range ids {
		index[id] = int32(i)
	}

	c := &Closure{
		o:        o,
		ids:      ids,
		index:    index,
		parents:  make([][]int32, len(ids)),
		children: make([][]int32, len(ids)),
	}
	for _, e := range o.edgeSeq {
		p, ch := index[e.parent], index[e.child]
		c.children[p] = append(c.children[p], ch)
		c.parents[ch] = append(c.parents[ch], p)
	}
	c.memo[up] = make([][]int32, len(ids))
	c.memo[down] = make([][]int32, len(ids))
	return c, nil
}

// Ontology returns the ontology the closure was built for.
func (c *Closure) Ontology() *Ontology {
	return c.o
}

// Ancestors returns every node with a directed path to id, excluding id,
// sorted by id.
func (c *Closure) Ancestors(id NodeID) ([]NodeID, error) {
	i, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return c.toIDs(c.closure(up, i)), nil
}

// Descendants returns every node reachable from id, excluding id, sorted by
// id.
func (c *Closure) Descendants(id NodeID) ([]NodeID, error) {
	i, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return c.toIDs(c.closure(down, i)), nil
}

// Roots returns the members of ancestors(id) ∪ {id} without parents, sorted
// by id. A node without ancestors is its own root.
func (c *Closure) Roots(id NodeID) ([]NodeID, error) {
	i, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	anc := c.closure(up, i)
	var roots []NodeID
	for _, a := range anc {
		if len(c.parents[a]) == 0 {
			roots = append(roots, c.ids[a])
		}
	}
	if len(c.parents[i]) == 0 {
		roots = append(roots, id)
		slices.SortFunc(roots, NodeID.Compare)
	}
	return roots, nil
}

// IsRoot reports whether id has no parents.
func (c *Closure) IsRoot(id NodeID) bool {
	i, ok := c.index[id]
	return ok && len(c.parents[i]) == 0
}

// AllRoots returns every node without parents, sorted by id.
func (c *Closure) AllRoots() []NodeID {
	var roots []NodeID
	for i, ps := range c.parents {
		if len(ps) == 0 {
			roots = append(roots, c.ids[i])
		}
	}
	return roots
}

// DescendantCount returns the size of the descendant closure of id.
func (c *Closure) DescendantCount(id NodeID) (int, error) {
	i, ok := c.index[id]
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return len(c.closure(down, i)), nil
}

// DepthsFrom returns the shortest path length from id to each node reachable
// from it, including id itself at depth 0.
func (c *Closure) DepthsFrom(id NodeID) (map[NodeID]int, error) {
	start, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	depth := map[int32]int{start: 0}
	queue := []int32{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, ch := range c.children[n] {
			if _, seen := depth[ch]; seen {
				continue
			}
			depth[ch] = depth[n] + 1
			queue = append(queue, ch)
		}
	}
	out := make(map[NodeID]int, len(depth))
	for n, d := range depth {
		out[c.ids[n]] = d
	}
	return out, nil
}

// Depth returns the shortest path length from ancestor to node. ok is false
// when node is not reachable from ancestor.
func (c *Closure) Depth(ancestor, node NodeID) (int, bool, error) {
	if _, found := c.index[node]; !found {
		return 0, false, fmt.Errorf("%s: %w", node, ErrNodeNotFound)
	}
	depths, err := c.DepthsFrom(ancestor)
	if err != nil {
		return 0, false, err
	}
	d, ok := depths[node]
	return d, ok, nil
}

// TopologicalOrder returns all nodes with every parent before its children.
// Ties are broken by id so the order is deterministic.
func (c *Closure) TopologicalOrder() []NodeID {
	inDegree := make([]int, len(c.ids))
	queue := make([]int32, 0)
	for i := range c.ids {
		inDegree[i] = len(c.parents[i])
		if inDegree[i] == 0 {
			queue = append(queue, int32(i))
		}
	}
	order := make([]NodeID, 0, len(c.ids))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, c.ids[n])
		for _, ch := range c.children[n] {
			inDegree[ch]--
			if inDegree[ch] == 0 {
				queue = append(queue, ch)
			}
		}
	}
	return order
}

// Precompute warms the ancestor and descendant caches of every node using up
// to parallelism goroutines. The ontology is frozen, so workers only contend
// on the memo lock.
func (c *Closure) Precompute(ctx context.Context, parallelism int) error {
	if parallelism <= 0 {
		parallelism = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	batch := max(len(c.ids)/(parallelism*4), 64)
	for start := 0; start < len(c.ids); start += batch {
		end := min(start+batch, len(c.ids))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				c.closure(up, int32(i))
				c.closure(down, int32(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to precompute closures: %w", err)
	}
	logger.Debug("[Closure] Precomputed closures", "ontology", c.o.Metadata.Name, "nodes", len(c.ids), "workers", parallelism)
	return nil
}

func (c *Closure) load(dir direction, i int32) []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memo[dir][i]
}

func (c *Closure) store(dir direction, i int32, set []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memo[dir][i] == nil {
		c.memo[dir][i] = set
	}
}

func (c *Closure) neighbours(dir direction) [][]int32 {
	if dir == up {
		return c.parents
	}
	return c.children
}

func (c *Closure) closure(dir direction, i int32) []int32 {
	if set := c.load(dir, i); set != nil {
		return set
	}
	key := strconv.Itoa(int(dir)) + ":" + strconv.Itoa(int(i))
	v, _, _ := c.group.Do(key, func() (any, error) {
		return c.compute(dir, i), nil
	})
	return v.([]int32)
}

type closureFrame struct {
	n        int32
	expanded bool
}

// compute fills the memo for start and every uncached node it reaches. A node
// is merged only after all its neighbours are cached, which holds because the
// graph is acyclic and the stack is processed last in, first out.
func (c *Closure) compute(dir direction, start int32) []int32 {
	next := c.neighbours(dir)
	stack := []closureFrame{{n: start}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.load(dir, f.n) != nil {
			continue
		}
		if f.expanded {
			c.store(dir, f.n, c.merge(dir, next[f.n]))
			continue
		}
		stack = append(stack, closureFrame{n: f.n, expanded: true})
		for _, m := range next[f.n] {
			if c.load(dir, m) == nil {
				stack = append(stack, closureFrame{n: m})
			}
		}
	}
	return c.load(dir, start)
}

func (c *Closure) merge(dir direction, neighbours []int32) []int32 {
	size := len(neighbours)
	for _, m := range neighbours {
		size += len(c.load(dir, m))
	}
	set := make([]int32, 0, size)
	for _, m := range neighbours {
		set = append(set, m)
		set = append(set, c.load(dir, m)...)
	}
	slices.Sort(set)
	return slices.Clip(slices.Compact(set))
}

func (c *Closure) toIDs(set []int32) []NodeID {
	out := make([]NodeID, len(set))
	for i, n := range set {
		out[i] = c.ids[n]
	}
	return out
}
