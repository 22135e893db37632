package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
	pgxstore "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// CreateBuildHandler queues a build of one source.
func CreateBuildHandler(c echo.Context) error {
	type createBuildBody struct {
		Source  string            `json:"source" validate:"required,oneof=hgnc mesh efo pubchem obo"`
		Input   string            `json:"input"`
		Options map[string]string `json:"options"`
	}

	type createBuildResponse struct {
		Message string `json:"message"`
		RunID   string `json:"run_id,omitempty"`
	}

	data := new(createBuildBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createBuildResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createBuildResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, createBuildResponse{Message: "Build queue unavailable"})
	}

	runID, err := util.NewRunID()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createBuildResponse{Message: "Internal server error"})
	}

	ctx := c.Request().Context()
	if err := app.Builds.RecordBuild(ctx, runID, data.Source, pgxstore.BuildQueued); err != nil {
		logger.Error("[API] Failed to record build", "run", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, createBuildResponse{Message: "Internal server error"})
	}

	err = queue.PublishBuild(ctx, app.Queue, queue.BuildRequest{
		RunID:   runID,
		Source:  data.Source,
		Input:   data.Input,
		Options: data.Options,
	})
	if err != nil {
		logger.Error("[API] Failed to queue build", "run", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, createBuildResponse{Message: "Failed to queue build"})
	}

	logger.Info("[API] Build queued", "run", runID, "source", data.Source)
	return c.JSON(http.StatusAccepted, createBuildResponse{Message: "Build queued", RunID: runID})
}

// GetBuildHandler returns the status of a run with download links for its
// artifacts when S3 is configured.
func GetBuildHandler(c echo.Context) error {
	type getBuildParams struct {
		RunID string `param:"id" validate:"required"`
	}

	type getBuildResponse struct {
		*pgxstore.BuildRecord
		Links map[string]string `json:"links,omitempty"`
	}

	params := new(getBuildParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil || !util.IsRunID(params.RunID) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	rec, err := app.Builds.GetBuild(ctx, params.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Build not found"})
	}
	if err != nil {
		logger.Error("[API] Failed to get build", "run", params.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	res := getBuildResponse{BuildRecord: rec}
	if app.S3 != nil && app.Artifacts != nil && len(rec.Artifacts) > 0 {
		res.Links = make(map[string]string, len(rec.Artifacts))
		for _, key := range rec.Artifacts {
			link, err := storage.GenerateDownloadLink(ctx, app.S3, app.Artifacts.Bucket(), key)
			if err != nil {
				logger.Warn("[API] Failed to sign artifact", "key", key, "err", err)
				continue
			}
			res.Links[key] = link
		}
	}
	return c.JSON(http.StatusOK, res)
}
