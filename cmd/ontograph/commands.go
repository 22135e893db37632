package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/pipeline"
	"github.com/OFFIS-RIT/ontograph/internal/timing"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/sources/pubchem"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	inputPath   string
	outputDir   string
	threshold   float64
	options     map[string]string
	exportAll   bool
	persist     bool
	upload      bool
	metricsFile string

	rootCmd = &cobra.Command{
		Use:   "ontograph",
		Short: "Builds ontology graphs from public source releases",
		Long: `ontograph reads the release of an ontology source, builds a validated
DAG with its closure passes and writes node-link JSON artifacts.`,
		SilenceUsage: true,
	}

	buildCmd = &cobra.Command{
		Use:       "build <" + strings.Join(config.KnownSources, "|") + ">",
		Short:     "Build the ontologies of one source",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: config.KnownSources,
		RunE:      runBuild,
	}

	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Build every source configured in the catalog concurrently",
		Args:  cobra.NoArgs,
		RunE:  runAll,
	}

	catalogCmd = &cobra.Command{
		Use:       "catalog pubchem",
		Short:     "Write the PubChem classification index as catalog.json",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pubchem.Source},
		RunE:      runCatalog,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "sources catalog (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory, overrides the catalog")
	rootCmd.PersistentFlags().Float64Var(&threshold, "threshold", 0, "compression threshold in MB, negative compresses everything")
	rootCmd.PersistentFlags().BoolVar(&persist, "persist", false, "save ontologies to DATABASE_URL and NEO4J_URI when set")
	rootCmd.PersistentFlags().BoolVar(&upload, "upload", false, "upload artifacts to AWS_BUCKET")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics in text format to this file")

	buildCmd.Flags().StringVarP(&inputPath, "input", "i", "", "source input, overrides the catalog")
	buildCmd.Flags().StringToStringVar(&options, "option", nil, "source option key=value, repeatable")
	buildCmd.Flags().BoolVar(&exportAll, "all", false, "pubchem only: export every classification hierarchy")

	rootCmd.AddCommand(buildCmd, allCmd, catalogCmd)
}

// loadConfig reads the catalog and applies the command line overrides.
func loadConfig(source string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, source, inputPath, options, outputDir, threshold)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, source, input string, opts map[string]string, output string, thresholdMB float64) {
	if output != "" {
		cfg.OutputDir = output
	}
	if thresholdMB != 0 {
		cfg.CompressionThresholdMB = thresholdMB
	}
	if source == "" || (input == "" && len(opts) == 0) {
		return
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]config.Source{}
	}
	src := cfg.Sources[source]
	if input != "" {
		src.Input = input
	}
	if len(opts) > 0 {
		merged := make(map[string]string, len(src.Options)+len(opts))
		for k, v := range src.Options {
			merged[k] = v
		}
		for k, v := range opts {
			merged[k] = v
		}
		src.Options = merged
	}
	cfg.Sources[source] = src
}

type session struct {
	ctx      context.Context
	stop     context.CancelFunc
	runID    string
	runner   *pipeline.Runner
	targets  *pipeline.Targets
	registry *prometheus.Registry
}

func newSession(cfg *config.Config) (*session, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	s := &session{ctx: ctx, stop: stop, registry: prometheus.NewRegistry()}

	runID, err := util.NewRunID()
	if err != nil {
		stop()
		return nil, err
	}
	s.runID = runID

	metrics, err := timing.NewMetrics(s.registry)
	if err != nil {
		stop()
		return nil, err
	}
	l, err := pipeline.NewLoaderFromEnv(ctx)
	if err != nil {
		stop()
		return nil, err
	}
	targets, err := pipeline.OpenTargets(ctx, pipeline.TargetOptions{Database: persist, Graph: persist, Upload: upload})
	if err != nil {
		stop()
		return nil, err
	}
	s.targets = targets

	runner, err := pipeline.NewRunner(targets.RunnerParams(cfg, l, metrics))
	if err != nil {
		s.close()
		return nil, err
	}
	s.runner = runner
	logger.Info("Run started", "run", runID, "output", cfg.OutputDir)
	return s, nil
}

func (s *session) close() {
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, s.registry); err != nil {
			logger.Warn("Failed to write metrics", "file", metricsFile, "err", err)
		}
	}
	s.targets.Close(context.Background())
	s.stop()
}

func logReport(report *pipeline.Report) {
	for _, o := range report.Ontologies {
		logger.Info("Ontology built", "source", report.Source, "name", o.Name, "nodes", o.Nodes, "edges", o.Edges)
	}
	for _, p := range report.Paths {
		logger.Info("Wrote artifact", "path", p)
	}
	if len(report.Keys) > 0 {
		logger.Info("Uploaded artifacts", "count", len(report.Keys), "run", report.RunID)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	source := args[0]
	if exportAll && source != pubchem.Source {
		return fmt.Errorf("--all is only supported for %s", pubchem.Source)
	}
	cfg, err := loadConfig(source)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	var report *pipeline.Report
	if exportAll {
		report, err = s.runner.ExportPubChem(s.ctx, s.runID)
	} else {
		report, err = s.runner.Run(s.ctx, source, s.runID)
	}
	if report != nil {
		logReport(report)
	}
	return err
}

func runAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if len(cfg.Configured()) == 0 {
		return fmt.Errorf("no sources configured in %s", configPath)
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	reports, err := s.runner.RunAll(s.ctx, s.runID, nil)
	for _, report := range reports {
		if report != nil {
			logReport(report)
		}
	}
	return err
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	path, err := s.runner.Catalog(s.ctx)
	if err != nil {
		return err
	}
	logger.Info("Wrote catalog", "path", path)
	return nil
}
