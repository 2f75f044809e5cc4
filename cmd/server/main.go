// ClinicAI triage intake server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"clinicai-triage/internal/config"
	"clinicai-triage/internal/core"
	"clinicai-triage/internal/db"
	httpserver "clinicai-triage/internal/http"
	"clinicai-triage/internal/llm"
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

	// Open database connection.
	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(pingCtx); err != nil {
		slog.Error("Failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready")

	repo := db.NewRepository(dbConn)
	notifier := db.NewNotifier(dbConn, cfg.DatabaseURL, cfg.NotifyChannel)

	lexicon := core.DefaultLexicon()
	if cfg.LexiconPath != "" {
		lexicon, err = core.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			slog.Error("Failed to load lexicon", "path", cfg.LexiconPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded lexicon override", "path", cfg.LexiconPath,
			"emergency_phrases", len(lexicon.Emergency))
	}

	// Model gateway (uses env: OPENAI_API_KEY).
	client := llm.NewOpenAIClient(cfg.OpenAIModel)
	gateway := llm.NewGateway(client, core.SystemPrompt)
	orch := core.NewOrchestrator(gateway, lexicon, cfg.MaxTurns, logger)

	server := httpserver.NewServer(repo, orch, notifier, cfg.LLMTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout so the SSE stream stays open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Listening", "addr", srv.Addr, "model", cfg.OpenAIModel, "max_turns", cfg.MaxTurns)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
