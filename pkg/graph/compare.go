package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Equivalent checks that b has the same metadata, node ids, node attributes,
// edge set and edge attributes as a. Attribute values are compared by their
// JSON encoding, so an int written out and read back as json.Number is equal.
// A difference is reported as an error wrapping ErrRoundTrip.
func Equivalent(a, b *Ontology) error {
	if err := sameJSON(metadataToMap(a.Metadata), metadataToMap(b.Metadata)); err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrRoundTrip, err)
	}
	if a.Len() != b.Len() {
		return fmt.Errorf("%w: %d nodes, read back %d", ErrRoundTrip, a.Len(), b.Len())
	}
	for _, id := range a.order {
		other, ok := b.nodes[id]
		if !ok {
			return fmt.Errorf("%w: node %s missing", ErrRoundTrip, id)
		}
		if err := sameJSON(a.nodes[id], other); err != nil {
			return fmt.Errorf("%w: node %s: %v", ErrRoundTrip, id, err)
		}
	}
	if a.EdgeCount() != b.EdgeCount() {
		return fmt.Errorf("%w: %d edges, read back %d", ErrRoundTrip, a.EdgeCount(), b.EdgeCount())
	}
	for _, key := range a.edgeSeq {
		other, ok := b.edges[key]
		if !ok {
			return fmt.Errorf("%w: edge %s -> %s missing", ErrRoundTrip, key.parent, key.child)
		}
		if err := sameJSON(a.edges[key], other); err != nil {
			return fmt.Errorf("%w: edge %s -> %s: %v", ErrRoundTrip, key.parent, key.child, err)
		}
	}
	return nil
}

func sameJSON[M ~map[string]any](a, b M) error {
	left, err := canonical(a)
	if err != nil {
		return err
	}
	right, err := canonical(b)
	if err != nil {
		return err
	}
	if !bytes.Equal(left, right) {
		return fmt.Errorf("attributes differ: %s != %s", left, right)
	}
	return nil
}

func canonical[M ~map[string]any](m M) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
