package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a term within one ontology. Sources key their terms either
// by string (CURIEs, MeSH ids) or by integer (HGNC family ids, PubChem node
// numbers), so NodeID carries both forms and keeps the kind through JSON.
//
// NodeID is comparable and can be used as a map key.
type NodeID struct {
	str   string
	num   int64
	isInt bool
}

// StringID returns a string-kind identifier.
func StringID(s string) NodeID {
	return NodeID{str: s}
}

// IntID returns an integer-kind identifier.
func IntID(n int64) NodeID {
	return NodeID{num: n, isInt: true}
}

// ParseID returns an integer-kind id when s is a base 10 integer and a
// string-kind id otherwise.
func ParseID(s string) NodeID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntID(n)
	}
	return StringID(s)
}

// IsInt reports whether the id is integer-kind.
func (id NodeID) IsInt() bool {
	return id.isInt
}

// Int returns the integer value of an integer-kind id.
func (id NodeID) Int() (int64, bool) {
	return id.num, id.isInt
}

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) String() string {
	if id.isInt {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// Compare orders integer ids numerically before string ids, which are ordered
// lexically.
func (id NodeID) Compare(other NodeID) int {
	switch {
	case id.isInt && other.isInt:
		switch {
		case id.num < other.num:
			return -1
		case id.num > other.num:
			return 1
		}
		return 0
	case id.isInt:
		return -1
	case other.isInt:
		return 1
	}
	return strings.Compare(id.str, other.str)
}

func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.isInt {
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
	return json.Marshal(id.str)
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty node id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("node id %s is neither a string nor an integer", data)
	}
	*id = IntID(n)
	return nil
}

// IDsToStrings renders ids in order.
func IDsToStrings(ids []NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
