package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/config"
	"github.com/OFFIS-RIT/ontograph/internal/pipeline"
	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/timing"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/leaselock"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/console"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "worker",
		JSON:   util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load(util.GetEnvString("ONTOGRAPH_CONFIG", config.DefaultPath))
	if err != nil {
		logger.Fatal("Failed to load config", "err", err)
	}

	metrics, err := timing.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("Failed to register metrics", "err", err)
	}
	if addr := util.GetEnv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics endpoint stopped", "err", err)
			}
		}()
	}

	l, err := pipeline.NewLoaderFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create loader", "err", err)
	}

	// Init postgres, neo4j and s3
	targets, err := pipeline.OpenTargets(ctx, pipeline.TargetOptions{Database: true, Graph: true, Upload: true})
	if err != nil {
		logger.Fatal("Failed to open targets", "err", err)
	}
	defer targets.Close(context.Background())

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.BuildQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	processor := &queue.Processor{
		Config: cfg,
		NewRunner: func(cfg *config.Config) (queue.BuildRunner, error) {
			return pipeline.NewRunner(targets.RunnerParams(cfg, l, metrics))
		},
		Builds:   targets.Store,
		Locker:   leaselock.New(targets.Pool),
		Events:   ch,
		LeaseTTL: util.GetEnvDuration("BUILD_LEASE_TTL", 30*time.Minute),
	}

	// One build at a time per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.BuildQueue,
		queue.BuildQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.BuildQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.BuildQueue)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.BuildQueue)
				return
			}
			handle(ctx, processor, consumerCh, msg)
		}
	}
}

func handle(ctx context.Context, processor *queue.Processor, ch *amqp.Channel, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.BuildQueue)

	if err := processor.ProcessBuildMessage(ctx, msg.Body); err != nil {
		logger.Error("Error processing message", "queue", queue.BuildQueue, "err", err)
		queue.HandleProcessingError(context.WithoutCancel(ctx), ch, msg, queue.BuildQueue, err)
	} else if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	} else {
		logger.Info("Message processed successfully", "queue", queue.BuildQueue)
	}

	logger.Info("Processing time", "duration", timing.FormatDuration(time.Since(startTime)))
	logger.Info("Waiting for next message")
}
