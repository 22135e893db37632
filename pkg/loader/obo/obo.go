// Package obo parses OBO 1.4 flat files into term stanzas.
package obo

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const scannerBufferSize = 1 << 20

// Synonym is one synonym line: the text and its scope (EXACT, NARROW, BROAD
// or RELATED).
type Synonym struct {
	Text  string
	Scope string
}

// Relationship is a typed link to another term.
type Relationship struct {
	Type   string
	Target string
}

// Term is a [Term] stanza.
type Term struct {
	ID            string
	Name          string
	Namespace     string
	Def           string
	Synonyms      []Synonym
	Xrefs         []string
	AltIDs        []string
	Subsets       []string
	IsA           []string
	Relationships []Relationship
	IsObsolete    bool
	ReplacedBy    []string
	Consider      []string
}

// Document is a parsed OBO file.
type Document struct {
	FormatVersion string
	DataVersion   string
	Ontology      string
	Header        map[string][]string
	Terms         []Term
}

// Parse reads an OBO document. Stanzas other than [Term] are skipped.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)

	doc := &Document{Header: make(map[string][]string)}
	var current *Term
	inHeader := true
	lineNum := 0

	flush := func() {
		if current != nil && current.ID != "" {
			doc.Terms = append(doc.Terms, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inHeader = false
			flush()
			if line == "[Term]" {
				current = &Term{}
			}
			continue
		}

		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected tag-value pair: %q", lineNum, line)
		}
		val = stripComment(strings.TrimSpace(val))

		if inHeader {
			parseHeaderLine(doc, key, val)
			continue
		}
		if current == nil {
			continue
		}
		parseTermLine(current, key, val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return doc, nil
}

func parseHeaderLine(doc *Document, key, val string) {
	doc.Header[key] = append(doc.Header[key], val)
	switch key {
	case "format-version":
		doc.FormatVersion = val
	case "data-version":
		doc.DataVersion = val
	case "ontology":
		doc.Ontology = val
	}
}

func parseTermLine(t *Term, key, val string) {
	switch key {
	case "id":
		t.ID = val
	case "name":
		t.Name = val
	case "namespace":
		t.Namespace = val
	case "def":
		t.Def = parseQuoted(val)
	case "synonym":
		t.Synonyms = append(t.Synonyms, parseSynonym(val))
	case "xref":
		t.Xrefs = append(t.Xrefs, firstField(val))
	case "alt_id":
		t.AltIDs = append(t.AltIDs, val)
	case "subset":
		t.Subsets = append(t.Subsets, val)
	case "is_a":
		t.IsA = append(t.IsA, firstField(val))
	case "relationship":
		fields := strings.Fields(val)
		if len(fields) >= 2 {
			t.Relationships = append(t.Relationships, Relationship{Type: fields[0], Target: fields[1]})
		}
	case "is_obsolete":
		t.IsObsolete = val == "true"
	case "replaced_by":
		t.ReplacedBy = append(t.ReplacedBy, val)
	case "consider":
		t.Consider = append(t.Consider, val)
	}
}

// stripComment removes a trailing "! comment" outside of quotes.
func stripComment(val string) string {
	inQuote := false
	for i := 0; i < len(val); i++ {
		switch val[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case '!':
			if !inQuote {
				return strings.TrimSpace(val[:i])
			}
		}
	}
	return val
}

func firstField(val string) string {
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseQuoted extracts the text between the first pair of unescaped double
// quotes.
func parseQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return s
	}
	var b strings.Builder
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String()
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseSynonym parses: "text" SCOPE [type] [xrefs]
func parseSynonym(s string) Synonym {
	syn := Synonym{Text: parseQuoted(s), Scope: "RELATED"}
	closing := closingQuote(s)
	if closing < 0 {
		return syn
	}
	rest := strings.Fields(s[closing+1:])
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "[") {
		syn.Scope = rest[0]
	}
	return syn
}

func closingQuote(s string) int {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return -1
	}
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}
