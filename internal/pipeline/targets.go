package pipeline

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/internal/timing"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TargetOptions selects which persistence targets OpenTargets connects.
type TargetOptions struct {
	// Database migrates and connects DATABASE_URL.
	Database bool
	// Graph connects NEO4J_URI when it is set.
	Graph bool
	// Upload connects AWS_BUCKET when it is set.
	Upload bool
}

// Targets holds the connections a run delivers to. Unselected or
// unconfigured targets stay nil.
type Targets struct {
	Pool      *pgxpool.Pool
	Store     *pgxstore.OntologyDBStorage
	Sink      *neo4j.GraphSink
	Artifacts *storage.ArtifactStore
}

// OpenTargets connects the selected targets from the environment.
func OpenTargets(ctx context.Context, opts TargetOptions) (*Targets, error) {
	t := &Targets{}
	if opts.Database {
		databaseURL := util.GetEnv("DATABASE_URL")
		if databaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if err := pgxstore.Migrate(databaseURL, util.GetEnvString("MIGRATIONS_DIR", pgxstore.DefaultMigrationsDir)); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		t.Pool = pool
		t.Store = pgxstore.NewOntologyDBStorageWithConnection(pool)
	}
	if opts.Graph {
		sink, err := neo4j.NewGraphSink(ctx, neo4j.NewGraphSinkParams{
			URI:      util.GetEnv("NEO4J_URI"),
			User:     util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		})
		if err != nil {
			t.Close(ctx)
			return nil, err
		}
		t.Sink = sink
	}
	if opts.Upload {
		artifacts, _, err := storage.NewArtifactStoreFromEnv(ctx)
		if err != nil {
			t.Close(ctx)
			return nil, err
		}
		if artifacts == nil {
			logger.Warn("[Pipeline] AWS_BUCKET is not set, artifacts stay local")
		}
		t.Artifacts = artifacts
	}
	return t, nil
}

// RunnerParams returns runner parameters that deliver to the connected
// targets.
func (t *Targets) RunnerParams(cfg *config.Config, l loader.SourceFileLoader, metrics *timing.Metrics) NewRunnerParams {
	params := NewRunnerParams{Config: cfg, Loader: l, Metrics: metrics}
	if t.Store != nil {
		params.Store = t.Store
	}
	if t.Sink != nil {
		params.Sink = t.Sink
	}
	if t.Artifacts != nil {
		params.Artifacts = t.Artifacts
	}
	return params
}

// Close releases every open connection.
func (t *Targets) Close(ctx context.Context) {
	if t.Sink != nil {
		if err := t.Sink.Close(ctx); err != nil {
			logger.Warn("[Pipeline] Failed to close neo4j driver", "err", err)
		}
	}
	if t.Pool != nil {
		t.Pool.Close()
	}
}
