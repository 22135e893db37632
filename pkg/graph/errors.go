package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

var (
	// ErrNodeNotFound is returned when an operation references an id that is
	// not part of the ontology.
	ErrNodeNotFound = errors.New("node not found")
	// ErrDuplicateNode is returned by the builder in strict mode.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrFrozen is returned on structural mutation of a frozen ontology.
	ErrFrozen = errors.New("ontology is frozen")
	// ErrStructure marks structural-integrity failures. CycleError and
	// round-trip mismatches both match it via errors.Is.
	ErrStructure = errors.New("structural integrity error")
	// ErrRoundTrip is returned when a serialized ontology does not read back
	// into an equivalent graph.
	ErrRoundTrip = fmt.Errorf("%w: round-trip mismatch", ErrStructure)
)

// CycleError describes one directed cycle found in an ontology. Path starts
// and ends with the same node.
type CycleError struct {
	Path []NodeID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: cycle detected: %s", ErrStructure, strings.Join(common.IDsToStrings(e.Path), " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrStructure
}
