package graph

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// CategoryRule classifies a root code. Exclusions are checked first and win
// over inclusions; a code that matches neither list is not a member. Patterns
// are anchored at the start of the code only, so "C26" also matches
// "C26.088".
type CategoryRule struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewCategoryRule compiles the include and exclude patterns.
func NewCategoryRule(include, exclude []string) (*CategoryRule, error) {
	r := &CategoryRule{}
	for _, p := range include {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile include pattern %q: %w", p, err)
		}
		r.include = append(r.include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile exclude pattern %q: %w", p, err)
		}
		r.exclude = append(r.exclude, re)
	}
	return r, nil
}

// Match reports whether code belongs to the category.
func (r *CategoryRule) Match(code string) bool {
	for _, re := range r.exclude {
		if re.MatchString(code) {
			return false
		}
	}
	for _, re := range r.include {
		if re.MatchString(code) {
			return true
		}
	}
	return false
}

// CategoryAssignment attributes one node to one qualifying root.
type CategoryAssignment struct {
	NodeID    NodeID `json:"node_id"`
	NodeLabel string `json:"node_label,omitempty"`
	NodeClass string `json:"node_class,omitempty"`
	RootID    NodeID `json:"top_id"`
	RootCode  string `json:"top_code"`
	RootLabel string `json:"top_label,omitempty"`
	IsMember  bool   `json:"top_is_member"`
	Depth     int    `json:"depth"`
}

// CategoryMapParams configures MapCategories.
//
// Qualifies selects which roots count as categories. CodeKey names the root
// attribute holding its classification code, either a string or a list with
// exactly one string. ClassKey and LabelKey are optional node attributes
// copied into the assignments; ClassKey also takes part in the sort order.
type CategoryMapParams struct {
	Qualifies NodePredicate
	CodeKey   string
	ClassKey  string
	LabelKey  string
	Rule      *CategoryRule
}

// MapCategories emits one assignment for every node and every qualifying root
// the node descends from, including a qualifying root itself at depth 0.
// Depth is the shortest path length from the root.
//
// The result is sorted by root code, then depth ascending, then node class
// descending, then node id.
func MapCategories(c *Closure, params CategoryMapParams) ([]CategoryAssignment, error) {
	if params.Qualifies == nil || params.Rule == nil || params.CodeKey == "" {
		return nil, fmt.Errorf("category mapping needs a root predicate, a code attribute and a rule")
	}
	o := c.Ontology()

	var out []CategoryAssignment
	for _, root := range c.AllRoots() {
		rootAttrs := o.nodes[root]
		ok, err := params.Qualifies(root, rootAttrs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		code, err := rootAttrs.SingleString(params.CodeKey)
		if err != nil {
			return nil, withNode(err, root)
		}
		rootLabel, err := optionalString(root, rootAttrs, params.LabelKey)
		if err != nil {
			return nil, err
		}
		member := params.Rule.Match(code)

		depths, err := c.DepthsFrom(root)
		if err != nil {
			return nil, err
		}
		for node, depth := range depths {
			attrs := o.nodes[node]
			label, err := optionalString(node, attrs, params.LabelKey)
			if err != nil {
				return nil, err
			}
			class, err := optionalString(node, attrs, params.ClassKey)
			if err != nil {
				return nil, err
			}
			out = append(out, CategoryAssignment{
				NodeID:    node,
				NodeLabel: label,
				NodeClass: class,
				RootID:    root,
				RootCode:  code,
				RootLabel: rootLabel,
				IsMember:  member,
				Depth:     depth,
			})
		}
	}

	slices.SortFunc(out, func(a, b CategoryAssignment) int {
		return cmp.Or(
			cmp.Compare(a.RootCode, b.RootCode),
			cmp.Compare(a.Depth, b.Depth),
			cmp.Compare(b.NodeClass, a.NodeClass),
			a.NodeID.Compare(b.NodeID),
			a.RootID.Compare(b.RootID),
		)
	})
	logger.Info("[Category] Mapped nodes to top-level categories", "ontology", o.Metadata.Name, "assignments", len(out))
	return out, nil
}

func optionalString(id NodeID, attrs Attributes, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	s, _, err := attrs.String(key)
	return s, withNode(err, id)
}
