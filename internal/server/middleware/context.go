package middleware

import (
	"context"

	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/server/util"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
	pgxstore "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

// BuildStore tracks submitted builds.
type BuildStore interface {
	RecordBuild(ctx context.Context, runID, source, status string) error
	GetBuild(ctx context.Context, runID string) (*pgxstore.BuildRecord, error)
}

type App struct {
	Store          store.OntologyStorage
	Builds         BuildStore
	Cache          *util.OntologyCache
	Queue          queue.Channel
	Key            *keyfunc.Keyfunc
	Artifacts      *storage.ArtifactStore
	S3             *s3.Client
	MasterAPIKey   string
	MasterUserID   int64
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
