package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

// Keys with a fixed meaning in the node-link format. Node and edge attributes
// must not use them.
const (
	nodeIDKey     = "id"
	linkSourceKey = "source"
	linkTargetKey = "target"
)

type nodeLinkDocument struct {
	Directed   bool             `json:"directed"`
	Multigraph bool             `json:"multigraph"`
	Graph      map[string]any   `json:"graph"`
	Nodes      []map[string]any `json:"nodes"`
	Links      []map[string]any `json:"links"`
}

// EncodeNodeLink writes o as node-link JSON: node attributes flattened next to
// "id", edge attributes next to "source" and "target", and metadata under
// "graph". Output is indented by two spaces; non-ASCII text and HTML
// characters are written as is.
func EncodeNodeLink(w io.Writer, o *Ontology) error {
	doc := nodeLinkDocument{
		Directed: true,
		Graph:    metadataToMap(o.Metadata),
		Nodes:    make([]map[string]any, 0, o.Len()),
		Links:    make([]map[string]any, 0, o.EdgeCount()),
	}
	for _, id := range o.order {
		attrs := o.nodes[id]
		if _, reserved := attrs[nodeIDKey]; reserved {
			return fmt.Errorf("node %s: attribute %q is reserved", id, nodeIDKey)
		}
		node := make(map[string]any, len(attrs)+1)
		for k, v := range attrs {
			node[k] = v
		}
		node[nodeIDKey] = id
		doc.Nodes = append(doc.Nodes, node)
	}
	for _, key := range o.edgeSeq {
		attrs := o.edges[key]
		link := make(map[string]any, len(attrs)+2)
		for k, v := range attrs {
			if k == linkSourceKey || k == linkTargetKey {
				return fmt.Errorf("edge %s -> %s: attribute %q is reserved", key.parent, key.child, k)
			}
			link[k] = v
		}
		link[linkSourceKey] = key.parent
		link[linkTargetKey] = key.child
		doc.Links = append(doc.Links, link)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

// MarshalNodeLink returns the node-link encoding of o.
func MarshalNodeLink(o *Ontology) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeNodeLink(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeNodeLink reads node-link JSON into a new ontology. Numbers are kept as
// json.Number so integers survive unchanged. The result is validated as a DAG
// and frozen.
func DecodeNodeLink(r io.Reader) (*Ontology, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc nodeLinkDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode node-link json: %w", err)
	}
	if !doc.Directed {
		return nil, fmt.Errorf("node-link document is not a directed graph")
	}

	o := NewOntology(metadataFromMap(doc.Graph))
	for i, node := range doc.Nodes {
		id, err := idFromJSON(node[nodeIDKey])
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		attrs := make(Attributes, len(node))
		for k, v := range node {
			if k != nodeIDKey {
				attrs[k] = v
			}
		}
		if replaced, err := o.AddNode(id, attrs); err != nil {
			return nil, err
		} else if replaced {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
		}
	}
	for i, link := range doc.Links {
		source, err := idFromJSON(link[linkSourceKey])
		if err != nil {
			return nil, fmt.Errorf("link %d source: %w", i, err)
		}
		target, err := idFromJSON(link[linkTargetKey])
		if err != nil {
			return nil, fmt.Errorf("link %d target: %w", i, err)
		}
		attrs := make(Attributes, len(link))
		for k, v := range link {
			if k != linkSourceKey && k != linkTargetKey {
				attrs[k] = v
			}
		}
		if err := o.AddEdge(source, target, attrs); err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
	}

	if err := ValidateDAG(o); err != nil {
		return nil, err
	}
	o.Freeze()
	return o, nil
}

func idFromJSON(v any) (NodeID, error) {
	switch id := v.(type) {
	case string:
		return common.StringID(id), nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return NodeID{}, fmt.Errorf("non-integer numeric id %s", id)
		}
		return common.IntID(n), nil
	case nil:
		return NodeID{}, fmt.Errorf("missing id")
	}
	return NodeID{}, fmt.Errorf("unsupported id type %T", v)
}

func metadataToMap(m Metadata) map[string]any {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	setIfNotEmpty(out, "name", m.Name)
	setIfNotEmpty(out, "version", m.Version)
	setIfNotEmpty(out, "description", m.Description)
	setIfNotEmpty(out, "license", m.License)
	return out
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func metadataFromMap(m map[string]any) Metadata {
	meta := Metadata{Extra: Attributes{}}
	for k, v := range m {
		s, isString := v.(string)
		switch {
		case k == "name" && isString:
			meta.Name = s
		case k == "version" && isString:
			meta.Version = s
		case k == "description" && isString:
			meta.Description = s
		case k == "license" && isString:
			meta.License = s
		default:
			meta.Extra[k] = v
		}
	}
	return meta
}
