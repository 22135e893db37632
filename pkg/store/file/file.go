// Package file writes ontologies and derived tables to a local output
// directory.
package file

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// DefaultCompressionThresholdMB is the serialized size above which an
// ontology is written gzipped.
const DefaultCompressionThresholdMB = 10.0

// OntologyWriter writes node-link JSON artifacts into one directory.
type OntologyWriter struct {
	dir         string
	thresholdMB float64
}

// NewOntologyWriterParams configures an OntologyWriter. A zero threshold
// selects DefaultCompressionThresholdMB; a negative one compresses every
// artifact.
type NewOntologyWriterParams struct {
	Dir                    string
	CompressionThresholdMB float64
}

// NewOntologyWriter creates the output directory if needed.
func NewOntologyWriter(params NewOntologyWriterParams) (*OntologyWriter, error) {
	if params.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	threshold := params.CompressionThresholdMB
	if threshold == 0 {
		threshold = DefaultCompressionThresholdMB
	}
	return &OntologyWriter{dir: params.Dir, thresholdMB: threshold}, nil
}

// Dir returns the output directory.
func (w *OntologyWriter) Dir() string {
	return w.dir
}

// WithThreshold returns a writer for the same directory with another
// compression threshold.
func (w *OntologyWriter) WithThreshold(thresholdMB float64) *OntologyWriter {
	return &OntologyWriter{dir: w.dir, thresholdMB: thresholdMB}
}

// Write serializes o to <name>.json, or <name>.json.gz when the JSON exceeds
// the compression threshold, then reads the file back and checks that it
// decodes to an equivalent DAG. A mismatch is returned as graph.ErrRoundTrip.
func (w *OntologyWriter) Write(o *graph.Ontology) (string, error) {
	if o.Metadata.Name == "" {
		return "", fmt.Errorf("ontology has no name")
	}
	data, err := graph.MarshalNodeLink(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", o.Metadata.Name, err)
	}

	path := filepath.Join(w.dir, o.Metadata.Name+".json")
	sizeMB := float64(len(data)) / 1_000_000
	if sizeMB > w.thresholdMB {
		compressed, err := gzipBytes(data)
		if err != nil {
			return "", err
		}
		path += ".gz"
		logger.Info(
			"[Serializer] Compressed ontology",
			"file", filepath.Base(path),
			"from_mb", fmt.Sprintf("%.1f", sizeMB),
			"to_mb", fmt.Sprintf("%.1f", float64(len(compressed))/1_000_000),
		)
		data = compressed
	}

	if err := writeFile(path, data); err != nil {
		return "", err
	}
	logger.Info("[Serializer] Wrote ontology", "path", path)

	back, err := Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to re-read %s: %w", path, err)
	}
	if err := graph.Equivalent(o, back); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return path, nil
}

// WriteRecords writes records as an indented JSON array to <name>.json.gz.
func (w *OntologyWriter) WriteRecords(name string, records any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	compressed, err := gzipBytes(buf.Bytes())
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, name+".json.gz")
	if err := writeFile(path, compressed); err != nil {
		return "", err
	}
	logger.Info("[Serializer] Wrote table", "path", path)
	return path, nil
}

// WriteJSON writes v as indented, uncompressed JSON to <name>.json.
func (w *OntologyWriter) WriteJSON(name string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(w.dir, name+".json")
	if err := writeFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// Read decodes a node-link artifact written by Write. Files ending in .gz are
// decompressed first.
func Read(path string) (*graph.Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		data, err = loader.MaybeGunzip(data)
		if err != nil {
			return nil, err
		}
	}
	return graph.DecodeNodeLink(bytes.NewReader(data))
}

// Exists reports whether an artifact for name is present in the directory,
// compressed or not.
func (w *OntologyWriter) Exists(name string) bool {
	for _, suffix := range []string{".json", ".json.gz"} {
		if _, err := os.Stat(filepath.Join(w.dir, name+suffix)); err == nil {
			return true
		}
	}
	return false
}

// gzipBytes compresses data with a zero modification time so that identical
// input produces identical output.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
