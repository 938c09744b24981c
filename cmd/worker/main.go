// Package main is the entrypoint for the roster job worker. It consumes export
// and import jobs from the Redis stream or AMQP queue until SIGINT/SIGTERM, then drains.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/config"
	"github.com/roster/roster/internal/jobs"
	"github.com/roster/roster/internal/logging"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/repository"
	"github.com/roster/roster/internal/server"
	"github.com/roster/roster/internal/service"
	"github.com/roster/roster/internal/store"
)

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if cfg.InProcessJobs() {
		logger.Error("the standalone worker needs JOB_BROKER=redis or amqp; the memory broker runs inside the API process")
		os.Exit(1)
	}

	brokerOpts := cfg.BrokerOptions()
	stream, closeStream, err := broker.Open(ctx, brokerOpts)
	if err != nil {
		logger.Error(
			"failed to connect to job broker",
			slog.String("broker", cfg.JobBroker),
			slog.String("error", logging.SanitizeError(err, brokerOpts.URL())),
			slog.String("broker_url", logging.RedactURL(brokerOpts.URL())),
		)
		os.Exit(1)
	}
	defer closeStream()
	logger.Info("connected to job broker", "broker", cfg.JobBroker, "stream", cfg.JobStream, "group", cfg.JobGroup)

	var runs jobs.RunRecorder
	if cfg.HasJobLog() {
		repo, err := repository.New(ctx, cfg.DatabaseURL, repository.WithPoolSize(cfg.DBMinConns, cfg.DBMaxConns))
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", logging.SanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", logging.RedactURL(cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create job run schema", "error", logging.SanitizeError(err, cfg.DatabaseURL))
			os.Exit(1)
		}
		logger.Info("connected to database")
		runs = repo
	}

	recorder := metrics.NewInMemory()
	svc := service.NewUserService(store.NewMemory(), nil, logger, recorder, service.Options{
		BulkConcurrency: cfg.BulkConcurrency,
	})

	worker := jobs.NewWorker(stream, svc, runs, logger, broker.NewConsumerID(), recorder)
	worker.SetConcurrency(cfg.WorkerConcurrency)
	worker.SetBlockTimeout(cfg.WorkerBlockTimeout)
	worker.SetMaxRetries(cfg.JobMaxRetries)
	worker.SetBackoff(cfg.JobRetryBackoff)
	worker.SetClaimIdle(cfg.JobClaimIdle)
	worker.SetClaimInterval(cfg.JobClaimInterval)
	worker.SetMetricsInterval(cfg.QueueDepthInterval)

	srv := server.New(server.Options{
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	srv.Go("job-worker", worker.Run)
	srv.OnShutdown("job-worker", worker.Shutdown)

	logger.Info("starting worker",
		"env", cfg.AppEnv,
		"concurrency", cfg.WorkerConcurrency,
		"max_retries", cfg.JobMaxRetries,
		"job_log", cfg.HasJobLog(),
	)

	err = srv.Run(ctx)

	snap := recorder.Snapshot()
	logger.Info("worker totals",
		"jobs_processed", snap.JobsProcessed,
		"job_duration_count", snap.JobDurationCount,
	)

	if err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
