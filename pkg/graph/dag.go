package graph

import "slices"

type visitState uint8

const (
	unvisited visitState = iota
	onStack
	done
)

type dfsFrame struct {
	id   NodeID
	next int
}

// ValidateDAG returns a *CycleError naming one directed cycle, or nil when the
// ontology is acyclic.
//
// The search is an iterative depth-first walk so that deep hierarchies do not
// grow the goroutine stack. Nodes on the current path are onStack; reaching
// one of them again closes a cycle.
func ValidateDAG(o *Ontology) error {
	state := make(map[NodeID]visitState, o.Len())

	for _, start := range o.order {
		if state[start] != unvisited {
			continue
		}
		stack := []dfsFrame{{id: start}}
		state[start] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := o.children[top.id]
			if top.next >= len(children) {
				state[top.id] = done
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.next]
			top.next++

			switch state[child] {
			case done:
				continue
			case onStack:
				return &CycleError{Path: cyclePath(stack, child)}
			}
			state[child] = onStack
			stack = append(stack, dfsFrame{id: child})
		}
	}
	return nil
}

// cyclePath walks the stack back to the node that closes the cycle and
// returns the cycle in edge order, ending where it started.
func cyclePath(stack []dfsFrame, closing NodeID) []NodeID {
	path := make([]NodeID, 0, len(stack)+1)
	for i := len(stack) - 1; i >= 0; i-- {
		path = append(path, stack[i].id)
		if stack[i].id == closing {
			break
		}
	}
	slices.Reverse(path)
	return append(path, closing)
}
