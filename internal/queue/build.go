package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/pipeline"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/leaselock"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	pgxstore "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/go-playground/validator"
)

// ErrInvalidMessage marks messages that are rejected without retrying.
var ErrInvalidMessage = errors.New("invalid build message")

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) || errors.Is(err, pipeline.ErrSourceConfig)
}

// BuildRequest asks a worker to build one source. Input and Options override
// the worker's catalog entry for the source.
type BuildRequest struct {
	RunID   string            `json:"run_id" validate:"required"`
	Source  string            `json:"source" validate:"required,oneof=hgnc mesh efo pubchem obo"`
	Input   string            `json:"input,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

var validate = validator.New()

// ParseBuildRequest decodes and validates a message body.
func ParseBuildRequest(body []byte) (*BuildRequest, error) {
	req := new(BuildRequest)
	if err := json.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !util.IsRunID(req.RunID) {
		return nil, fmt.Errorf("%w: malformed run id %q", ErrInvalidMessage, req.RunID)
	}
	return req, nil
}

// PublishBuild enqueues req on BuildQueue.
func PublishBuild(ctx context.Context, ch Channel, req BuildRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return PublishFIFO(ctx, ch, BuildQueue, "application/json", data)
}

// BuildTopic is the routing key a finished build of source is announced
// under.
func BuildTopic(source string) string {
	return "ontology.built." + source
}

// BuildRecorder tracks the status of runs.
type BuildRecorder interface {
	RecordBuild(ctx context.Context, runID, source, status string) error
	FinishBuild(ctx context.Context, runID string, artifacts []string, runErr error) error
}

// Locker serializes builds of the same source across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// BuildRunner runs one source.
type BuildRunner interface {
	Run(ctx context.Context, source, runID string) (*pipeline.Report, error)
}

// Processor handles BuildQueue messages.
type Processor struct {
	// Config is the worker's catalog. Requests override single entries.
	Config *config.Config
	// NewRunner creates a runner for the effective catalog of one request.
	NewRunner func(cfg *config.Config) (BuildRunner, error)
	Builds    BuildRecorder
	Locker    Locker
	// Events receives a BuildTopic announcement per successful build. It is
	// optional.
	Events Channel
	// LeaseTTL defaults to 30 minutes.
	LeaseTTL time.Duration
}

// ProcessBuildMessage validates body, builds the requested source while
// holding its lease and records the outcome.
func (p *Processor) ProcessBuildMessage(ctx context.Context, body []byte) (err error) {
	req, err := ParseBuildRequest(body)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Processing build", "source", req.Source, "run", req.RunID)

	if err := p.Builds.RecordBuild(ctx, req.RunID, req.Source, pgxstore.BuildRunning); err != nil {
		return err
	}

	var report *pipeline.Report
	defer func() {
		var artifacts []string
		if report != nil {
			artifacts = report.Keys
		}
		// Record the outcome even when ctx is cancelled.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if finishErr := p.Builds.FinishBuild(finishCtx, req.RunID, artifacts, err); finishErr != nil {
			logger.Warn("[Queue] Failed to record build outcome", "run", req.RunID, "err", finishErr)
		}
	}()

	runner, err := p.NewRunner(p.effectiveConfig(req))
	if err != nil {
		return err
	}

	ttl := p.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	err = p.Locker.WithLease(ctx, leaselock.OntologyKey(req.Source), leaselock.Options{
		TTL:         ttl,
		RenewEvery:  ttl / 3,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("build/%s/", req.RunID),
	}, func(ctx context.Context) error {
		var runErr error
		report, runErr = runner.Run(ctx, req.Source, req.RunID)
		return runErr
	})
	if err != nil {
		return err
	}

	if p.Events != nil {
		data, err := json.Marshal(report)
		if err == nil {
			err = PublishTopic(ctx, p.Events, BuildTopic(req.Source), data)
		}
		if err != nil {
			logger.Warn("[Queue] Failed to announce build", "run", req.RunID, "err", err)
		}
	}
	return nil
}

func (p *Processor) effectiveConfig(req *BuildRequest) *config.Config {
	cfg := *p.Config
	cfg.Sources = maps.Clone(p.Config.Sources)
	if cfg.Sources == nil {
		cfg.Sources = map[string]config.Source{}
	}
	src := cfg.Sources[req.Source]
	if req.Input != "" {
		src.Input = req.Input
	}
	if len(req.Options) > 0 {
		options := maps.Clone(src.Options)
		if options == nil {
			options = map[string]string{}
		}
		maps.Copy(options, req.Options)
		src.Options = options
	}
	cfg.Sources[req.Source] = src
	return &cfg
}
