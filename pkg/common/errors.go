package common

import "fmt"

// AttributeError reports a node attribute whose value does not have the shape
// a component declared for it.
type AttributeError struct {
	Node     NodeID
	Key      string
	Expected string
	Got      any
}

func (e *AttributeError) Error() string {
	if e.Node.IsZero() {
		return fmt.Sprintf("attribute %q: expected %s, got %T", e.Key, e.Expected, e.Got)
	}
	return fmt.Sprintf("attribute %q of node %s: expected %s, got %T", e.Key, e.Node, e.Expected, e.Got)
}
