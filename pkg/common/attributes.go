package common

import (
	"maps"
)

// Attributes is the open key/value payload attached to nodes, edges and the
// ontology itself. Values are JSON-compatible: scalars, lists and nested maps.
//
// Components that read a specific key go through the typed accessors below so
// that an unexpected shape surfaces as an AttributeError instead of being
// coerced.
type Attributes map[string]any

// Clone returns a shallow copy. Nested lists and maps are shared.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// String returns the string stored under key. A missing or nil value reports
// ok=false.
func (a Attributes) String(key string) (value string, ok bool, err error) {
	raw, present := a[key]
	if !present || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, &AttributeError{Key: key, Expected: "string", Got: raw}
	}
	return s, true, nil
}

// Bool returns the bool stored under key. A missing or nil value is false.
func (a Attributes) Bool(key string) (bool, error) {
	raw, present := a[key]
	if !present || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, &AttributeError{Key: key, Expected: "bool", Got: raw}
	}
	return b, nil
}

// StringList returns the list of strings stored under key. Both []string and
// decoded JSON lists ([]any holding strings) are accepted. A missing or nil
// value is an empty list.
func (a Attributes) StringList(key string) ([]string, error) {
	raw, present := a[key]
	if !present || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &AttributeError{Key: key, Expected: "list of strings", Got: raw}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &AttributeError{Key: key, Expected: "list of strings", Got: raw}
}

// SingleString accepts either a plain string or a list holding exactly one
// string. MeSH tree numbers of top-level descriptors are stored that way.
func (a Attributes) SingleString(key string) (string, error) {
	raw, present := a[key]
	if !present || raw == nil {
		return "", &AttributeError{Key: key, Expected: "string or single-element list", Got: raw}
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	list, err := a.StringList(key)
	if err != nil || len(list) != 1 {
		return "", &AttributeError{Key: key, Expected: "string or single-element list", Got: raw}
	}
	return list[0], nil
}
