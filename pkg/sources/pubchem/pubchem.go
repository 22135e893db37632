// Package pubchem converts PubChem classification hierarchies into
// ontologies.
package pubchem

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	httploader "github.com/OFFIS-RIT/ontograph/pkg/loader/http"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
	"github.com/OFFIS-RIT/ontograph/pkg/store/file"
)

const (
	Source = "pubchem"

	RestAPI = "https://pubchem.ncbi.nlm.nih.gov/classification/cgi/classifications.fcgi"

	// CatalogName is the artifact holding the hierarchy index.
	CatalogName = "catalog"

	rootPlaceholder = "root"
)

// SkipHierarchies are never exported. 2 (ChEBI OBO) fails with status 500.
var SkipHierarchies = []int{2}

var separatorRun = regexp.MustCompile(`_+`)

// HierarchyURL returns the JSON download of one hierarchy starting at its
// root.
func HierarchyURL(hid int) string {
	return fmt.Sprintf("%s?format=json&hid=%d&start=root", RestAPI, hid)
}

// IndexURL returns the JSON index of all hierarchies.
func IndexURL() string {
	return RestAPI + "?format=json&hid=index"
}

// Hierarchy is one classification as returned by the API.
type Hierarchy struct {
	HID         int         `json:"HID"`
	SourceName  string      `json:"SourceName"`
	SourceID    string      `json:"SourceID"`
	RootID      string      `json:"RootID"`
	Information Information `json:"Information"`
	Node        []Node      `json:"Node"`
}

// Information carries the descriptive fields of a hierarchy or a node.
// Description and Comments are either a string or a list of strings.
type Information struct {
	Name        string `json:"Name"`
	Description any    `json:"Description"`
	Comments    any    `json:"Comments"`
	URL         string `json:"URL"`
	HNID        int64  `json:"HNID"`
}

// Node is one classification node.
type Node struct {
	NodeID      string      `json:"NodeID"`
	ParentID    []string    `json:"ParentID"`
	Information Information `json:"Information"`
}

type envelope[T any] struct {
	Hierarchies struct {
		Hierarchy []T `json:"Hierarchy"`
	} `json:"Hierarchies"`
}

// ParseHierarchy decodes an API response and returns its first hierarchy.
func ParseHierarchy(data []byte) (*Hierarchy, error) {
	var env envelope[Hierarchy]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode pubchem hierarchy: %w", err)
	}
	if len(env.Hierarchies.Hierarchy) == 0 {
		return nil, fmt.Errorf("pubchem response holds no hierarchy")
	}
	return &env.Hierarchies.Hierarchy[0], nil
}

// ConvertNodeID turns "node_123" into 123. The root placeholder has no id.
func ConvertNodeID(node string) (int64, error) {
	if node == rootPlaceholder {
		return 0, fmt.Errorf("the %s placeholder has no node id", rootPlaceholder)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(node, "node_"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pubchem node id %q: %w", node, err)
	}
	return n, nil
}

// SimpleName derives a file-friendly name from the hierarchy id, source name
// and source id: lowercased, non-alphanumerics replaced by "_", runs
// collapsed, repeated words dropped.
func SimpleName(hid int, sourceName, sourceID string) string {
	name := strings.ToLower(fmt.Sprintf("%03d %s %s", hid, sourceName, sourceID))
	name = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
	name = separatorRun.ReplaceAllString(name, "_")

	seen := make(map[string]struct{})
	var words []string
	for _, w := range strings.Split(name, "_") {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return strings.Join(words, "_")
}

// Metadata returns the graph attributes of h.
func Metadata(h *Hierarchy) graph.Metadata {
	return graph.Metadata{
		Name: SimpleName(h.HID, h.SourceName, h.SourceID),
		Extra: graph.Attributes{
			"pubchem_hierarchy_id": h.HID,
			"pubchem_source_id":    h.SourceID,
			"pubchem_source_name":  h.SourceName,
			"pubchem_description":  h.Information.Description,
			"pubchem_comments":     h.Information.Comments,
			"source_url":           nilIfEmpty(h.Information.URL),
		},
	}
}

// Nodes returns the node records sorted by id.
func Nodes(h *Hierarchy) ([]common.NodeRecord, error) {
	nodes := make([]common.NodeRecord, 0, len(h.Node))
	for _, n := range h.Node {
		id, err := ConvertNodeID(n.NodeID)
		if err != nil {
			return nil, err
		}
		description, err := firstString(n.Information.Description)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.NodeID, err)
		}
		nodes = append(nodes, common.NodeRecord{
			ID: common.IntID(id),
			Attributes: common.Attributes{
				"name":         nilIfEmpty(n.Information.Name),
				"description":  description,
				"pubchem_hnid": n.Information.HNID,
				"url":          nilIfEmpty(n.Information.URL),
			},
		})
	}
	slices.SortFunc(nodes, func(a, b common.NodeRecord) int {
		return a.ID.Compare(b.ID)
	})
	return nodes, nil
}

// Edges links every node to its parents in ascending parent order. The root
// placeholder is skipped.
func Edges(h *Hierarchy) ([]common.EdgeRecord, error) {
	nodes := slices.Clone(h.Node)
	ids := make(map[string]int64, len(nodes))
	for _, n := range nodes {
		id, err := ConvertNodeID(n.NodeID)
		if err != nil {
			return nil, err
		}
		ids[n.NodeID] = id
	}
	slices.SortFunc(nodes, func(a, b Node) int {
		return cmp.Compare(ids[a.NodeID], ids[b.NodeID])
	})

	var edges []common.EdgeRecord
	for _, n := range nodes {
		var parents []int64
		for _, parent := range n.ParentID {
			if parent == rootPlaceholder {
				continue
			}
			id, err := ConvertNodeID(parent)
			if err != nil {
				return nil, err
			}
			parents = append(parents, id)
		}
		slices.Sort(parents)
		for _, parent := range parents {
			edges = append(edges, common.EdgeRecord{Parent: common.IntID(parent), Child: common.IntID(ids[n.NodeID])})
		}
	}
	return edges, nil
}

// FromHierarchy builds the ontology of one classification.
func FromHierarchy(ctx context.Context, client *graph.GraphClient, h *Hierarchy) (*graph.Ontology, error) {
	nodes, err := Nodes(h)
	if err != nil {
		return nil, err
	}
	edges, err := Edges(h)
	if err != nil {
		return nil, err
	}
	o, _, report, err := client.Build(ctx, Metadata(h), nodes, edges)
	if err != nil {
		return nil, err
	}
	logger.Info("[PubChem] Built hierarchy", "name", o.Metadata.Name, "nodes", report.Nodes, "edges", report.Edges)
	return o, nil
}

// Pipeline exports a single hierarchy.
type Pipeline struct {
	client *graph.GraphClient
	file   loader.SourceFile
}

// NewPipelineParams configures a Pipeline. Location overrides the API URL of
// HID, for example with a previously downloaded response.
type NewPipelineParams struct {
	Client   *graph.GraphClient
	Loader   loader.SourceFileLoader
	HID      int
	Location string
}

func NewPipeline(params NewPipelineParams) *Pipeline {
	location := cmp.Or(params.Location, HierarchyURL(params.HID))
	return &Pipeline{
		client: params.Client,
		file: loader.SourceFile{
			ID:       fmt.Sprintf("pubchem/%d", params.HID),
			Location: location,
			FileType: loader.SourceFileTypeJSON,
			Loader:   params.Loader,
		},
	}
}

func (p *Pipeline) Source() string {
	return Source
}

func (p *Pipeline) Run(ctx context.Context) (*sources.Result, error) {
	h, err := fetchHierarchy(ctx, p.file)
	if err != nil {
		return nil, err
	}
	o, err := FromHierarchy(ctx, p.client, h)
	if err != nil {
		return nil, err
	}
	res := &sources.Result{Source: Source}
	res.AddOntology(o, 0)
	return res, nil
}

// Catalog fetches the hierarchy index, sorts it by HID and adds the
// nxo_name every hierarchy is exported under.
func Catalog(ctx context.Context, l loader.SourceFileLoader) ([]map[string]any, error) {
	data, err := l.GetFileBytes(ctx, loader.SourceFile{ID: "pubchem/index", Location: IndexURL(), FileType: loader.SourceFileTypeJSON, Loader: l})
	if err != nil {
		return nil, err
	}
	logger.Info("[PubChem] Queried hierarchy catalog", "url", IndexURL())
	return ParseCatalog(data)
}

// ParseCatalog decodes an index response. Entries keep every field of the
// response.
func ParseCatalog(data []byte) ([]map[string]any, error) {
	var env envelope[map[string]any]
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode pubchem catalog: %w", err)
	}
	entries := env.Hierarchies.Hierarchy
	hids := make([]int, len(entries))
	for i, entry := range entries {
		hid, err := entryHID(entry)
		if err != nil {
			return nil, err
		}
		hids[i] = hid
		name, _ := entry["SourceName"].(string)
		id, _ := entry["SourceID"].(string)
		entry["nxo_name"] = SimpleName(hid, name, id)
	}
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(hids[a], hids[b])
	})
	out := make([]map[string]any, len(entries))
	for i, idx := range order {
		out[i] = entries[idx]
	}
	return out, nil
}

// ExportAllParams configures ExportAll.
type ExportAllParams struct {
	Client *graph.GraphClient
	Loader loader.SourceFileLoader
	Writer *file.OntologyWriter
}

// ExportAll writes the catalog and then every hierarchy that is neither
// skipped nor already present in the output directory. A hierarchy whose
// download fails with an HTTP status is skipped.
func ExportAll(ctx context.Context, params ExportAllParams) ([]string, error) {
	catalog, err := Catalog(ctx, params.Loader)
	if err != nil {
		return nil, err
	}
	path, err := params.Writer.WriteJSON(CatalogName, catalog)
	if err != nil {
		return nil, err
	}
	paths := []string{path}

	for _, entry := range catalog {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		hid, _ := entryHID(entry)
		name := entry["nxo_name"].(string)
		if slices.Contains(SkipHierarchies, hid) {
			logger.Info("[PubChem] Skipping hierarchy in skip list", "name", name)
			continue
		}
		if params.Writer.Exists(name) {
			logger.Info("[PubChem] Skipping hierarchy since output exists", "name", name)
			continue
		}

		logger.Info("[PubChem] Creating ontology", "name", name)
		res, err := NewPipeline(NewPipelineParams{Client: params.Client, Loader: params.Loader, HID: hid}).Run(ctx)
		var statusErr *httploader.StatusError
		if errors.As(err, &statusErr) {
			logger.Warn("[PubChem] Skipping hierarchy because the request failed", "name", name, "status", statusErr.StatusCode)
			continue
		}
		if err != nil {
			return paths, fmt.Errorf("failed to export %s: %w", name, err)
		}
		written, err := sources.Write(params.Writer, res)
		paths = append(paths, written...)
		if err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func fetchHierarchy(ctx context.Context, f loader.SourceFile) (*Hierarchy, error) {
	data, err := f.GetBytes(ctx)
	if err != nil {
		return nil, err
	}
	data, err = loader.MaybeGunzip(data)
	if err != nil {
		return nil, err
	}
	logger.Info("[PubChem] Queried hierarchy", "location", f.Location)
	return ParseHierarchy(data)
}

func entryHID(entry map[string]any) (int, error) {
	switch v := entry["HID"].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid HID %q: %w", v, err)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("catalog entry without HID: %v", entry)
}

// firstString returns a string value, or the first element of a list.
func firstString(v any) (any, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case string:
		return nilIfEmpty(d), nil
	case []any:
		if len(d) == 0 {
			return nil, nil
		}
		s, ok := d[0].(string)
		if !ok {
			return nil, &common.AttributeError{Key: "description", Expected: "string", Got: d[0]}
		}
		return s, nil
	}
	return nil, &common.AttributeError{Key: "description", Expected: "string or list of strings", Got: v}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
