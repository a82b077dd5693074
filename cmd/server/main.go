// FlowPilot - conversational workflow automation service
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashvetsov/flowpilot/internal/agent"
	"github.com/ashvetsov/flowpilot/internal/api"
	"github.com/ashvetsov/flowpilot/internal/config"
	"github.com/ashvetsov/flowpilot/internal/deploy"
	"github.com/ashvetsov/flowpilot/internal/engine"
	"github.com/ashvetsov/flowpilot/internal/llm"
	"github.com/ashvetsov/flowpilot/internal/middleware"
	"github.com/ashvetsov/flowpilot/internal/secrets"
	"github.com/ashvetsov/flowpilot/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize services.
	resolver := secrets.NewResolver(repo)
	invoker := llm.NewInvoker(resolver, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey)
	orchestrator := deploy.New(engineClient, cfg.Deploy.SettleDelay, cfg.Deploy.CheckpointTTL)
	pipeline := agent.NewService(repo, invoker, orchestrator, engineClient, cfg.HistoryWindow)
	slog.Info("Agent pipeline initialized",
		"engine", cfg.Engine.BaseURL,
		"model", cfg.LLM.Model,
		"llm_timeout", cfg.LLM.Timeout,
	)

	// Initialize handlers.
	rateLimiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	agentHandler := agent.NewHandler(pipeline, rateLimiter)
	sessionHandler := api.NewSessionHandler(repo)
	credentialHandler := api.NewCredentialHandler(repo)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	credentialHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)

	// Create server. The write timeout leaves headroom above the LLM
	// invoker's own deadline plus the deployment settle delay.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
