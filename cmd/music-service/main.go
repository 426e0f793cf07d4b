// main package for the music-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/handler"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/book-expert/music-service/internal/objectstore"
	"github.com/book-expert/music-service/internal/pipeline"
	"github.com/book-expert/music-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const shutdownTimeout = 5 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "music-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "music-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// 4. Wire the generation pipeline; the model itself loads on the first job
	loader, err := pipeline.NewLoader(cfg.Music, log)
	if err != nil {
		return fmt.Errorf("failed to create generation loader: %w", err)
	}

	provider := pipeline.NewProvider(loader, func() core.ModelOptions {
		return cfg.Music.ModelOptions(os.LookupEnv)
	}, log)

	jobHandler, err := handler.New(provider, cfg.Music.ScratchDir, log)
	if err != nil {
		return fmt.Errorf("failed to create job handler: %w", err)
	}

	// 5. Connect to NATS and optionally bind the audio archive
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("music-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	opts := worker.Options{
		Queue:      cfg.NATS.WorkerQueue,
		JobTimeout: cfg.Music.JobTimeout(),
	}

	if cfg.NATS.AudioObjectStoreBucket != "" {
		archive, archiveErr := openArchive(ctx, natsConnection, cfg.NATS.AudioObjectStoreBucket)
		if archiveErr != nil {
			return archiveErr
		}

		opts.Archive = archive
	}

	musicWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.JobSubject, jobHandler, opts, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// 6. Ops endpoints
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.NewRouter(provider),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("Metrics listening on %s", cfg.Metrics.Addr)

			listenErr := srv.ListenAndServe()
			if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
				log.Error("Metrics server error: %v", listenErr)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.System("Music-Service successfully initialized. Listening for jobs on subject: %s", cfg.NATS.JobSubject)

	err = musicWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	log.Info("Music-Service stopped.")

	return nil
}

func openArchive(ctx context.Context, natsConnection *nats.Conn, bucket string) (*objectstore.NatsObjectStore, error) {
	js, err := jetstream.New(natsConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio archive: %w", err)
	}

	return store, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
