// Package pipeline wires the configured source pipelines to the serializer
// and the optional persistence targets.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/timing"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	httploader "github.com/OFFIS-RIT/ontograph/pkg/loader/http"
	ioloader "github.com/OFFIS-RIT/ontograph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/ontograph/pkg/loader/s3"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/efo"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/hgnc"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/mesh"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/obo"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/pubchem"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
	"github.com/OFFIS-RIT/ontograph/pkg/store/file"

	"golang.org/x/sync/errgroup"
)

// ErrSourceConfig marks a catalog entry no pipeline can be created from.
var ErrSourceConfig = errors.New("invalid source configuration")

// ArtifactUploader stores the written files of a run.
type ArtifactUploader interface {
	UploadArtifacts(ctx context.Context, runID string, paths []string) ([]string, error)
}

// OntologyReport summarizes one built ontology.
type OntologyReport struct {
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

// Report describes a finished run of one source.
type Report struct {
	RunID      string           `json:"run_id"`
	Source     string           `json:"source"`
	Ontologies []OntologyReport `json:"ontologies"`
	Paths      []string         `json:"paths"`
	Keys       []string         `json:"keys,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

// Runner builds sources from a catalog.
type Runner struct {
	cfg       *config.Config
	client    *graph.GraphClient
	loader    loader.SourceFileLoader
	writer    *file.OntologyWriter
	metrics   *timing.Metrics
	artifacts ArtifactUploader
	store     store.OntologyStorage
	sink      store.GraphSink
}

// NewRunnerParams configures a Runner. Loader defaults to NewLoader without
// S3 support. Metrics, Artifacts, Store and Sink are optional.
type NewRunnerParams struct {
	Config    *config.Config
	Loader    loader.SourceFileLoader
	Metrics   *timing.Metrics
	Artifacts ArtifactUploader
	Store     store.OntologyStorage
	Sink      store.GraphSink
}

func NewRunner(params NewRunnerParams) (*Runner, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = config.Default()
	}
	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Parallelism:      cfg.Parallelism,
		MaxChainHops:     cfg.MaxChainHops,
		StrictDuplicates: cfg.StrictDuplicates,
	})
	if err != nil {
		return nil, err
	}
	writer, err := file.NewOntologyWriter(file.NewOntologyWriterParams{
		Dir:                    cfg.OutputDir,
		CompressionThresholdMB: cfg.CompressionThresholdMB,
	})
	if err != nil {
		return nil, err
	}
	l := params.Loader
	if l == nil {
		l = NewLoader(nil)
	}
	return &Runner{
		cfg:       cfg,
		client:    client,
		loader:    l,
		writer:    writer,
		metrics:   params.Metrics,
		artifacts: params.Artifacts,
		store:     params.Store,
		sink:      params.Sink,
	}, nil
}

// NewLoader routes local paths to the filesystem, http(s) URLs to a retrying
// HTTP client and s3:// locations to s3 when it is non-nil.
func NewLoader(s3 loader.SourceFileLoader) loader.SourceFileLoader {
	return loader.NewRouterLoader(
		ioloader.NewIOSourceLoader(),
		s3,
		httploader.NewHTTPSourceLoader(httploader.NewHTTPSourceLoaderParams{}),
	)
}

// NewLoaderFromEnv is NewLoader with an S3 loader configured from AWS_*.
func NewLoaderFromEnv(ctx context.Context) (loader.SourceFileLoader, error) {
	s3, err := s3loader.NewS3SourceLoader(ctx, s3loader.NewS3SourceLoaderParams{
		Bucket:    util.GetEnv("AWS_BUCKET"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		Region:    util.GetEnv("AWS_REGION"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 loader: %w", err)
	}
	return NewLoader(s3), nil
}

// Writer returns the output writer.
func (r *Runner) Writer() *file.OntologyWriter {
	return r.writer
}

// Pipeline creates the pipeline of source from its catalog entry.
func (r *Runner) Pipeline(source string) (sources.Pipeline, error) {
	p, err := r.newPipeline(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceConfig, err)
	}
	return p, nil
}

func (r *Runner) newPipeline(source string) (sources.Pipeline, error) {
	src, err := r.cfg.Source(source)
	if err != nil {
		return nil, err
	}
	switch source {
	case hgnc.Source:
		if src.Input == "" {
			return nil, fmt.Errorf("%s needs the zipped gene family tables as input (see %s)", source, hgnc.DefaultArchiveURL)
		}
		return hgnc.NewPipeline(hgnc.NewPipelineParams{Client: r.client, Loader: r.loader, Archive: src.Input}), nil
	case mesh.Source:
		if src.Input == "" {
			return nil, fmt.Errorf("%s needs the directory of the exported tables as input", source)
		}
		return mesh.NewPipeline(mesh.NewPipelineParams{
			Client:      r.client,
			Loader:      r.loader,
			Identifiers: join(src.Input, "identifiers.csv"),
			TreeNumbers: join(src.Input, "tree_numbers.csv"),
			Relations:   join(src.Input, "relations.csv"),
			Year:        src.Option("year", ""),
		})
	case efo.Source:
		if src.Input == "" {
			return nil, fmt.Errorf("%s needs the directory of the exported tables as input", source)
		}
		return efo.NewPipeline(efo.NewPipelineParams{
			Client:  r.client,
			Loader:  r.loader,
			Dir:     src.Input,
			Name:    src.Option("name", efo.DefaultName),
			Version: src.Option("version", efo.DefaultVersion),
		}), nil
	case pubchem.Source:
		hid, err := src.IntOption("hid", 0)
		if err != nil {
			return nil, err
		}
		if hid <= 0 {
			return nil, fmt.Errorf("%s needs a positive hid option", source)
		}
		return pubchem.NewPipeline(pubchem.NewPipelineParams{Client: r.client, Loader: r.loader, HID: hid, Location: src.Input}), nil
	case obo.Source:
		if src.Input == "" {
			return nil, fmt.Errorf("%s needs an .obo file as input", source)
		}
		return obo.NewPipeline(obo.NewPipelineParams{Client: r.client, Loader: r.loader, Location: src.Input, Name: src.Option("name", "")}), nil
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

// Run builds source, writes its artifacts and hands them to the configured
// targets. A failing target fails the run; the written files are kept.
func (r *Runner) Run(ctx context.Context, source, runID string) (report *Report, err error) {
	start := time.Now()
	defer func() { r.metrics.Build(source, err) }()

	p, err := r.Pipeline(source)
	if err != nil {
		return nil, err
	}
	logger.Info("[Pipeline] Starting build", "source", source, "run", runID)

	stop := r.metrics.Track(source, "build")
	res, err := p.Run(ctx)
	stop()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", source, err)
	}
	return r.deliver(ctx, res, runID, start)
}

func (r *Runner) deliver(ctx context.Context, res *sources.Result, runID string, start time.Time) (*Report, error) {
	source := res.Source
	report := &Report{RunID: runID, Source: source}
	for _, out := range res.Ontologies {
		o := out.Ontology
		report.Ontologies = append(report.Ontologies, OntologyReport{Name: o.Metadata.Name, Nodes: o.Len(), Edges: o.EdgeCount()})
		r.metrics.Ontology(o.Metadata.Name, o.Len(), o.EdgeCount())
	}

	stop := r.metrics.Track(source, "write")
	paths, err := sources.Write(r.writer, res)
	stop()
	report.Paths = paths
	if err != nil {
		return report, err
	}

	if r.artifacts != nil {
		stop := r.metrics.Track(source, "upload")
		keys, err := r.artifacts.UploadArtifacts(ctx, runID, paths)
		stop()
		report.Keys = keys
		if err != nil {
			return report, fmt.Errorf("failed to upload artifacts of %s: %w", source, err)
		}
	}

	if r.store != nil {
		stop := r.metrics.Track(source, "persist")
		for _, out := range res.Ontologies {
			if err := r.store.SaveOntology(ctx, runID, out.Ontology); err != nil {
				stop()
				return report, fmt.Errorf("failed to persist %s: %w", out.Ontology.Metadata.Name, err)
			}
		}
		stop()
	}

	if r.sink != nil {
		stop := r.metrics.Track(source, "export")
		for _, out := range res.Ontologies {
			if err := r.sink.UpsertOntology(ctx, out.Ontology); err != nil {
				stop()
				return report, fmt.Errorf("failed to export %s: %w", out.Ontology.Metadata.Name, err)
			}
		}
		stop()
	}

	report.Duration = time.Since(start)
	logger.Info("[Pipeline] Build finished", "source", source, "run", runID, "ontologies", len(report.Ontologies), "duration", timing.FormatDuration(report.Duration))
	return report, nil
}

// RunAll builds the given sources concurrently, or every configured source
// when names is empty. Reports are returned in the order of names; the first
// error cancels the remaining runs.
func (r *Runner) RunAll(ctx context.Context, runID string, names []string) ([]*Report, error) {
	if len(names) == 0 {
		names = r.cfg.Configured()
	}
	reports := make([]*Report, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			report, err := r.Run(gctx, name, runID)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// Catalog writes the PubChem classification index as catalog.json.
func (r *Runner) Catalog(ctx context.Context) (string, error) {
	entries, err := pubchem.Catalog(ctx, r.loader)
	if err != nil {
		return "", err
	}
	return r.writer.WriteJSON(pubchem.CatalogName, entries)
}

// ExportPubChem writes every PubChem hierarchy not yet present in the output
// directory and uploads the files when an uploader is configured.
func (r *Runner) ExportPubChem(ctx context.Context, runID string) (*Report, error) {
	start := time.Now()
	stop := r.metrics.Track(pubchem.Source, "export_all")
	paths, err := pubchem.ExportAll(ctx, pubchem.ExportAllParams{Client: r.client, Loader: r.loader, Writer: r.writer})
	stop()
	report := &Report{RunID: runID, Source: pubchem.Source, Paths: paths}
	if err != nil {
		return report, err
	}
	if r.artifacts != nil {
		keys, err := r.artifacts.UploadArtifacts(ctx, runID, paths)
		report.Keys = keys
		if err != nil {
			return report, fmt.Errorf("failed to upload artifacts of %s: %w", pubchem.Source, err)
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

func join(dir, name string) string {
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
