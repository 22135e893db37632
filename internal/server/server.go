package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/pipeline"
	"github.com/OFFIS-RIT/ontograph/internal/queue"
	mid "github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	serverutil "github.com/OFFIS-RIT/ontograph/internal/server/util"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	pgxstore "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New creates the echo instance with the app context and the routes.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := pgxstore.Migrate(databaseURL, util.GetEnvString("MIGRATIONS_DIR", pgxstore.DefaultMigrationsDir)); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	ontologyStore := pgxstore.NewOntologyDBStorageWithConnection(conn)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.BuildQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	artifacts, s3Client, err := storage.NewArtifactStoreFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Parallelism: util.GetEnvInt("ONTOGRAPH_PARALLELISM", 4),
	})
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}
	cache := serverutil.NewOntologyCache(ontologyStore, client)

	eventCh, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open event channel", "err", err)
	}
	defer eventCh.Close()
	go evictOnBuild(ctx, eventCh, cache)

	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	e := New(&mid.App{
		Store:          ontologyStore,
		Builds:         ontologyStore,
		Cache:          cache,
		Queue:          ch,
		Key:            &k,
		Artifacts:      artifacts,
		S3:             s3Client,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   masterUserID,
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	})

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// evictOnBuild drops cached ontologies once a worker announces a new build
// of them.
func evictOnBuild(ctx context.Context, ch *amqp091.Channel, cache *serverutil.OntologyCache) {
	msgs, err := queue.SubscribeTopic(ch, queue.BuildTopic("*"))
	if err != nil {
		logger.Error("[API] Failed to subscribe to build events", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var report pipeline.Report
			if err := json.Unmarshal(msg.Body, &report); err != nil {
				logger.Warn("[API] Ignoring malformed build event", "err", err)
				continue
			}
			for _, o := range report.Ontologies {
				cache.Evict(o.Name)
				logger.Debug("[API] Evicted ontology", "name", o.Name, "run", report.RunID)
			}
		}
	}
}
