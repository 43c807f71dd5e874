// main package for the milora-tts service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/milora-tts/internal/config"
	"github.com/book-expert/milora-tts/internal/objectstore"
	"github.com/book-expert/milora-tts/internal/telemetry"
	"github.com/book-expert/milora-tts/internal/tts"
	"github.com/book-expert/milora-tts/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	serviceName     = "milora-tts"
	shutdownTimeout = 5 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	envErr := godotenv.Load()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "milora-tts-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to read .env file: %v", envErr)
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.ValidateService()
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return fmt.Errorf("invalid configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "milora-tts.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownMetrics, err := telemetry.Setup(serviceName, cfg.Telemetry.MetricsAddr, log)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := shutdownMetrics(shutdownCtx)
		if shutdownErr != nil {
			log.Warn("Failed to shut down telemetry: %v", shutdownErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	texts, err := objectstore.New(ctx, js, cfg.NATS.TextObjectStoreBucket, log)
	if err != nil {
		return err
	}

	audioStore, err := objectstore.New(ctx, js, cfg.NATS.AudioObjectStoreBucket, log)
	if err != nil {
		return err
	}

	service, err := tts.NewService(cfg, log, telemetry.Default())
	if err != nil {
		return fmt.Errorf("failed to create synthesis service: %w", err)
	}
	defer service.Close()

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Synthesis: cfg.NATS.SynthesisSubject, Stop: cfg.NATS.StopSubject},
		texts,
		audioStore,
		service,
		log,
	)

	log.System("Milora TTS service initialized. Listening for jobs on subject: %s", cfg.NATS.SynthesisSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Milora TTS service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
