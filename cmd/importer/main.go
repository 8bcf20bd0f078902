package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/app"
	"github.com/acme/voice-interview/internal/service/catalog"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	seedPath := flag.String("file", "configs/seed.yaml", "path to the question and candidate seed file")
	flag.Parse()

	f, err := os.Open(*seedPath)
	if err != nil {
		log.Fatalf("failed to open seed: %v", err)
	}
	defer f.Close()

	seed, err := catalog.LoadSeed(f)
	if err != nil {
		log.Fatalf("failed to read seed: %v", err)
	}

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(ctx)

	res, err := container.Services().Catalog.Import(ctx, seed)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	container.Logger.Info("importer: seed applied",
		zap.Int("roles", res.Roles),
		zap.Int("questions", res.Questions),
		zap.Int("candidates", res.Candidates),
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
