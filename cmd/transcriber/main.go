package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/acme/voice-interview/internal/app"
	"github.com/acme/voice-interview/internal/telemetry"
	"github.com/acme/voice-interview/internal/worker/transcription"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, "transcriber", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	transcriber := container.Providers().Transcriber
	if transcriber == nil {
		log.Fatalf("speech.api_key is required for the transcriber")
	}

	cfg := container.Config.Kafka
	pubs := container.Publishers()
	w := transcription.New(
		container.Kafka.NewReader(cfg.TranscriptionTopic, cfg.TranscriberGroupID),
		transcriber,
		container.Services().Engine,
		pubs.Transcriptions,
		pubs.DeadLetters,
		cfg.TranscriptionMaxRetries,
		container.Logger,
	)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("transcriber terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
