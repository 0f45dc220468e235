// Atelier server — multi-tenant backend for interactive coding agents:
// sandboxed sessions, streaming chat, skill validation, and file access.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/atelier-ai/atelier/pkg/agent"
	"github.com/atelier-ai/atelier/pkg/api"
	"github.com/atelier-ai/atelier/pkg/auth"
	"github.com/atelier-ai/atelier/pkg/checkpoint"
	"github.com/atelier-ai/atelier/pkg/config"
	"github.com/atelier-ai/atelier/pkg/database"
	"github.com/atelier-ai/atelier/pkg/llm"
	"github.com/atelier-ai/atelier/pkg/sandbox"
	"github.com/atelier-ai/atelier/pkg/services"
	"github.com/atelier-ai/atelier/pkg/session"
	"github.com/atelier-ai/atelier/pkg/upload"
	"github.com/atelier-ai/atelier/pkg/validation"
	"github.com/atelier-ai/atelier/pkg/webdav"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Atelier", "http_port", cfg.HTTPPort)

	ctx := context.Background()

	// Database (runs migrations on connect)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// Domain services
	userService := services.NewUserService(dbClient)
	threadService := services.NewThreadService(dbClient)
	skillService := services.NewSkillService(dbClient, cfg.SkillsPendingDir, cfg.SkillsApprovedDir)
	imageService := services.NewImageVersionService(dbClient)
	checkpointStore := checkpoint.NewPostgresStore(dbClient)
	slog.Info("Services initialized")

	// Sandbox runtime
	runtime, err := sandbox.NewDockerRuntime(cfg.SandboxImage, cfg.ExecTimeout)
	if err != nil {
		slog.Error("Failed to initialize sandbox runtime", "error", err)
		os.Exit(1)
	}
	sandboxManager := sandbox.NewManager(runtime, cfg.WorkspacesDir, cfg.SkillsApprovedDir)
	slog.Info("Sandbox runtime initialized", "image", cfg.SandboxImage)

	// LLM client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY must be set")
		os.Exit(1)
	}
	llmClient := llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.BigModel, cfg.FlashModel)
	slog.Info("LLM client initialized", "big_model", cfg.BigModel, "flash_model", cfg.FlashModel)

	// Agent loop and session lifecycle
	runner := agent.NewRunner(llmClient, checkpointStore, sandboxManager)
	sessionManager := session.NewManager(threadService, checkpointStore, sandboxManager)

	// Validation pipeline
	layer1 := validation.NewLayer1Runner(llmClient, sandboxManager)
	layer2 := validation.NewLayer2Runner(llmClient, sandboxManager, cfg.MaxConcurrentRegression)
	orchestrator := validation.NewOrchestrator(skillService, checkpointStore, sandboxManager, layer1, layer2)
	reports := validation.NewReportGenerator(llmClient)

	// Resume validations interrupted by the previous shutdown before serving.
	if err := orchestrator.ResumeAllPending(ctx); err != nil {
		slog.Error("Failed to resume pending validations", "error", err)
		os.Exit(1)
	}

	// File access
	uploadManager := upload.NewManager(cfg.WorkspacesDir, cfg.ChunkSize, cfg.MaxSimpleUpload, cfg.UploadTTL)
	if err := uploadManager.CleanupStale(); err != nil {
		slog.Warn("Stale upload cleanup failed", "error", err)
	}
	davHandler := webdav.NewHandler(cfg.WorkspacesDir, "/dav")

	// HTTP server
	httpServer := api.NewServer(api.Deps{
		Issuer:        auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Users:         userService,
		Threads:       threadService,
		Sessions:      sessionManager,
		Runner:        runner,
		LLM:           llmClient,
		Skills:        skillService,
		Images:        imageService,
		Orchestrator:  orchestrator,
		Reports:       reports,
		Uploads:       uploadManager,
		DAV:           davHandler,
		ChunkSize:     cfg.ChunkSize,
		RegressionCap: cfg.MaxConcurrentRegression,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Atelier started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting requests, then tear down live sandboxes.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sandboxShutdownCtx, sandboxCancel := context.WithTimeout(ctx, 30*time.Second)
	defer sandboxCancel()
	sandboxManager.DestroyAll(sandboxShutdownCtx)

	slog.Info("Shutdown complete")
}
