// Package main provides the HTTP server for tfreechat.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tfreechat/tfreechat-go/internal/ai"
	"github.com/tfreechat/tfreechat-go/internal/blob"
	"github.com/tfreechat/tfreechat-go/internal/chat"
	"github.com/tfreechat/tfreechat-go/internal/config"
	"github.com/tfreechat/tfreechat-go/internal/db"
	"github.com/tfreechat/tfreechat-go/internal/metrics"
	"github.com/tfreechat/tfreechat-go/internal/server"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting tfreechat-server", "addr", cfg.HTTPAddr)

	collector := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, collector)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("TFREECHAT_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Warn("wiped all chat data")
	}

	if err := dbClient.InitSchema(ctx); err != nil {
		cancel()
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	cancel()
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	agent := ai.NewAgent(ai.Config{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GoogleAPIKey:    cfg.GoogleAPIKey,
		BedrockEnabled:  cfg.BedrockEnabled,
		BedrockRegion:   cfg.BedrockRegion,
	}, logger, collector)

	var images chat.ImageRenderer
	if cfg.OpenAIAPIKey != "" {
		gen, err := ai.NewImageGenerator(cfg.OpenAIAPIKey, logger, collector)
		if err != nil {
			logger.Error("failed to create image generator", "error", err)
			os.Exit(1)
		}
		images = gen
	} else {
		logger.Warn("no OpenAI key configured, image generation disabled")
	}

	blobs, err := blob.NewDirStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		logger.Error("failed to create blob store", "error", err)
		os.Exit(1)
	}

	bus := chat.NewBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("failed to close event bus", "error", err)
		}
	}()

	svc := chat.NewService(dbClient, agent, images, blobs, bus, logger)

	if cfg.APISecret == "" {
		logger.Error("TFREECHAT_API_SECRET must be set")
		os.Exit(1)
	}
	verifier := server.StaticVerifier{Secret: cfg.APISecret}

	srv := server.New(svc, verifier, logger, collector, blobs.Dir())
	httpServer := srv.HTTPServer(cfg.HTTPAddr)

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
