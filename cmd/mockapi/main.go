// Package main runs the in-memory search and chat backend used for development.
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

	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/config"
	"github.com/conthunt/streamcore/internal/handler"
	"github.com/conthunt/streamcore/internal/llm"
	natsclient "github.com/conthunt/streamcore/internal/nats"
	"github.com/conthunt/streamcore/internal/service"
	"github.com/conthunt/streamcore/pkg/logger"
	"github.com/conthunt/streamcore/pkg/tracing"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadServer()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting mock API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conthunt-mockapi", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	deps := handler.Deps{
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}

	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:   cfg.NATSURL,
			Name:  "conthunt-mockapi",
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		if err := natsclient.NewPublisher(natsClient).EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		deps.Telemetry = natsClient
	}

	llmClient, err := llm.Select(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("failed to create LLM client, using scripted replies", zap.Error(err))
	}
	if err != nil || llmClient.Name() == string(llm.ProviderScripted) {
		llmClient = llm.NewScriptedClient(cfg.EventDelay / 4)
	}
	deps.Provider = llmClient.Name()

	// Initialize services
	deps.Searches = service.NewSearchService(service.Catalog{
		PageSize:   cfg.PageSize,
		TotalPages: cfg.TotalPages,
	}, cfg.EventDelay, log)
	deps.Chats = service.NewChatService(llmClient, deps.Searches, cfg.DefaultModel, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("llm_provider", deps.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
