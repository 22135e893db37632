package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
)

const mondo = `format-version: 1.4
data-version: releases/2024-06-01
ontology: mondo

[Term]
id: MONDO:0000001
name: disease

[Term]
id: MONDO:0005148
name: type 2 diabetes mellitus
is_a: MONDO:0000001 ! disease
`

type fakeUploader struct {
	runID string
	paths []string
}

func (f *fakeUploader) UploadArtifacts(ctx context.Context, runID string, paths []string) ([]string, error) {
	f.runID, f.paths = runID, paths
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = "ontologies/" + runID + "/" + filepath.Base(p)
	}
	return keys, nil
}

type fakeStore struct {
	saved map[string]string
	err   error
}

func (f *fakeStore) SaveOntology(ctx context.Context, runID string, o *graph.Ontology) error {
	if f.err != nil {
		return f.err
	}
	f.saved[o.Metadata.Name] = runID
	return nil
}

func (f *fakeStore) LoadOntology(ctx context.Context, name string) (*graph.Ontology, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListOntologies(ctx context.Context) ([]store.OntologySummary, error) {
	return nil, nil
}

func (f *fakeStore) DeleteOntology(ctx context.Context, name string) error {
	return nil
}

type fakeSink struct {
	names []string
}

func (f *fakeSink) UpsertOntology(ctx context.Context, o *graph.Ontology) error {
	f.names = append(f.names, o.Metadata.Name)
	return nil
}

func (f *fakeSink) Close(ctx context.Context) error {
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "mondo.obo")
	if err := os.WriteFile(input, []byte(mondo), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Sources = map[string]config.Source{
		"obo":  {Input: input},
		"hgnc": {},
	}
	return cfg
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	uploader := &fakeUploader{}
	st := &fakeStore{saved: map[string]string{}}
	sink := &fakeSink{}
	r, err := NewRunner(NewRunnerParams{Config: cfg, Artifacts: uploader, Store: st, Sink: sink})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	report, err := r.Run(context.Background(), "obo", "run1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []OntologyReport{{Name: "mondo", Nodes: 2, Edges: 1}}; !reflect.DeepEqual(report.Ontologies, want) {
		t.Errorf("ontologies = %+v, want %+v", report.Ontologies, want)
	}
	wantPath := filepath.Join(cfg.OutputDir, "mondo.json")
	if !reflect.DeepEqual(report.Paths, []string{wantPath}) {
		t.Errorf("paths = %v", report.Paths)
	}
	if !reflect.DeepEqual(report.Keys, []string{"ontologies/run1/mondo.json"}) || uploader.runID != "run1" {
		t.Errorf("keys = %v, uploaded run %q", report.Keys, uploader.runID)
	}
	if st.saved["mondo"] != "run1" {
		t.Errorf("saved = %v", st.saved)
	}
	if !reflect.DeepEqual(sink.names, []string{"mondo"}) {
		t.Errorf("exported = %v", sink.names)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestRunStoreFailureKeepsFiles(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("connection refused")
	r, _ := NewRunner(NewRunnerParams{Config: cfg, Store: &fakeStore{err: boom}})

	report, err := r.Run(context.Background(), "obo", "run1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if report == nil || len(report.Paths) != 1 {
		t.Fatalf("expected written paths in the report, got %+v", report)
	}
}

func TestPipelineConfigErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources["pubchem"] = config.Source{Options: map[string]string{"hid": "x"}}
	r, _ := NewRunner(NewRunnerParams{Config: cfg})

	tests := []string{"hgnc", "mesh", "efo", "pubchem", "chembl"}
	for _, source := range tests {
		t.Run(source, func(t *testing.T) {
			if _, err := r.Pipeline(source); !errors.Is(err, ErrSourceConfig) {
				t.Fatalf("expected ErrSourceConfig for %s, got %v", source, err)
			}
		})
	}

	if p, err := r.Pipeline("obo"); err != nil || p.Source() != "obo" {
		t.Fatalf("Pipeline(obo) = %v, %v", p, err)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testConfig(t)
	r, _ := NewRunner(NewRunnerParams{Config: cfg})

	reports, err := r.RunAll(context.Background(), "run1", []string{"obo"})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(reports) != 1 || reports[0].Source != "obo" {
		t.Fatalf("reports = %+v", reports)
	}

	if _, err := r.RunAll(context.Background(), "run2", nil); err == nil {
		t.Fatalf("expected the unconfigured hgnc input to fail the run")
	}
}

func TestJoin(t *testing.T) {
	if got := join("s3://releases/mesh/", "relations.csv"); got != "s3://releases/mesh/relations.csv" {
		t.Errorf("join = %q", got)
	}
	if got := join("/data/efo", "terms.csv"); got != "/data/efo/terms.csv" {
		t.Errorf("join = %q", got)
	}
}

func TestRunnerParamsSkipsMissingTargets(t *testing.T) {
	params := (&Targets{}).RunnerParams(config.Default(), nil, nil)
	if params.Store != nil || params.Sink != nil || params.Artifacts != nil {
		t.Fatalf("expected nil interfaces for missing targets, got %+v", params)
	}
}
