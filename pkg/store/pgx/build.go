package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// Build statuses.
const (
	BuildQueued    = "queued"
	BuildRunning   = "running"
	BuildSucceeded = "succeeded"
	BuildFailed    = "failed"
)

// BuildRecord tracks one pipeline run.
type BuildRecord struct {
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Artifacts  []string   `json:"artifacts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RecordBuild inserts a build or moves an existing one to status.
func (s *OntologyDBStorage) RecordBuild(ctx context.Context, runID, source, status string) error {
	_, err := s.conn.Exec(ctx, upsertBuildSQL, runID, source, status)
	if err != nil {
		return fmt.Errorf("failed to record build %s: %w", runID, err)
	}
	return nil
}

// FinishBuild stores the outcome of a run. A nil runErr marks it succeeded.
func (s *OntologyDBStorage) FinishBuild(ctx context.Context, runID string, artifacts []string, runErr error) error {
	status := BuildSucceeded
	message := ""
	if runErr != nil {
		status = BuildFailed
		message = util.SanitizePostgresText(runErr.Error())
	}
	if artifacts == nil {
		artifacts = []string{}
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, finishBuildSQL, runID, status, json.RawMessage(raw), message)
	if err != nil {
		return fmt.Errorf("failed to finish build %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: build %s", store.ErrNotFound, runID)
	}
	return nil
}

// GetBuild returns the record of one run.
func (s *OntologyDBStorage) GetBuild(ctx context.Context, runID string) (*BuildRecord, error) {
	var (
		rec       BuildRecord
		artifacts []byte
	)
	err := s.conn.QueryRow(ctx, selectBuildSQL, runID).Scan(
		&rec.RunID, &rec.Source, &rec.Status, &artifacts, &rec.Error, &rec.CreatedAt, &rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("%w: build %s", store.ErrNotFound, runID)
		}
		return nil, err
	}
	if err := json.Unmarshal(artifacts, &rec.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts of build %s: %w", runID, err)
	}
	return &rec, nil
}

const upsertBuildSQL = `
INSERT INTO ontology_builds (run_id, source, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status;
`

const finishBuildSQL = `
UPDATE ontology_builds
SET status = $2, artifacts = $3, error = $4, finished_at = now()
WHERE run_id = $1;
`

const selectBuildSQL = `
SELECT run_id, source, status, artifacts, error, created_at, finished_at
FROM ontology_builds
WHERE run_id = $1;
`
