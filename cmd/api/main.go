// Package main is the entrypoint for the roster API server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/roster/roster/internal/broker"
	"github.com/roster/roster/internal/config"
	"github.com/roster/roster/internal/handler"
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

	// A missing .env file is fine; the environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	recorder := metrics.NewInMemory()
	svc := service.NewUserService(store.NewMemory(), nil, logger, recorder, service.Options{
		BulkConcurrency: cfg.BulkConcurrency,
	})

	var deps []handler.Dependency

	// Job broker
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
	if pinger, ok := stream.(broker.Pinger); ok {
		deps = append(deps, handler.Dependency{Name: cfg.JobBroker, Checker: pinger})
	}
	if cfg.InProcessJobs() {
		logger.Warn("using in-memory job broker; jobs are lost on restart")
	} else {
		logger.Info("connected to job broker", "broker", cfg.JobBroker, "stream", cfg.JobStream)
	}
	if err := stream.EnsureGroup(ctx); err != nil {
		logger.Error("failed to prepare job stream", "error", err)
		os.Exit(1)
	}

	// Optional job run log
	var repo *repository.Repository
	if cfg.HasJobLog() {
		repo, err = repository.New(ctx, cfg.DatabaseURL, repository.WithPoolSize(cfg.DBMinConns, cfg.DBMaxConns))
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
		deps = append(deps, handler.Dependency{Name: "database", Checker: repo})
	}

	producer := jobs.NewProducer(stream, logger, recorder, cfg.JobPublishTimeout)

	jobCfg := handler.JobHandlerConfig{
		DataDir:    cfg.DataDir,
		ExportPath: cfg.ExportPath,
		ImportPath: cfg.ImportPath,
	}
	if repo != nil {
		jobCfg.Runs = repo
	}

	router := handler.NewRouter(handler.RouterConfig{
		Users:              handler.NewUserHandler(svc, logger),
		Jobs:               handler.NewJobHandler(producer, jobCfg, logger),
		Stats:              handler.NewStatsHandler(svc),
		Health:             handler.NewHealthHandler(deps...),
		Metrics:            handler.NewMetricsHandler(recorder),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Logger:             logger,
	})

	srv := server.New(server.Options{
		Handler:         router,
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	// The in-memory broker only reaches consumers in this process.
	if cfg.InProcessJobs() {
		var runs jobs.RunRecorder
		if repo != nil {
			runs = repo
		}
		worker := jobs.NewWorker(stream, svc, runs, logger, broker.NewConsumerID(), recorder)
		configureWorker(worker, cfg)
		srv.Go("job-worker", worker.Run)
		srv.OnShutdown("job-worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"broker", cfg.JobBroker,
		"job_log", cfg.HasJobLog(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func configureWorker(w *jobs.Worker, cfg *config.Config) {
	w.SetConcurrency(cfg.WorkerConcurrency)
	w.SetBlockTimeout(cfg.WorkerBlockTimeout)
	w.SetMaxRetries(cfg.JobMaxRetries)
	w.SetBackoff(cfg.JobRetryBackoff)
	w.SetClaimIdle(cfg.JobClaimIdle)
	w.SetClaimInterval(cfg.JobClaimInterval)
	w.SetMetricsInterval(cfg.QueueDepthInterval)
}
