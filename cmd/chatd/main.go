// Package main contains the entrypoint for the chat daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contextchat/contextchat/internal/app"
	"github.com/contextchat/contextchat/internal/chat"
	"github.com/contextchat/contextchat/internal/config"
	"github.com/contextchat/contextchat/internal/database"
	"github.com/contextchat/contextchat/internal/gemini"
	"github.com/contextchat/contextchat/internal/logger"
	"github.com/contextchat/contextchat/internal/server"
	"github.com/contextchat/contextchat/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// db, backend client, chat service, HTTP API, optional Telegram
// front-end, maintenance scheduler), handles graceful shutdown, and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	backend, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	service := chat.NewService(log, store, backend, cfg.Chat.HistoryLimit)

	httpServer := server.New(cfg.Server, cfg.Chat, service, store, log)

	runners := []app.Runner{httpServer}
	if cfg.Telegram.Token != "" {
		frontend, err := telegram.New(cfg.Telegram.Token, cfg.Chat, service, log)
		if err != nil {
			log.Error("Failed to create Telegram front-end", "error", err)
			return 1
		}
		runners = append(runners, frontend)
	}

	maintenance, err := app.NewMaintenance(cfg.Maintenance, store, log)
	if err != nil {
		log.Error("Failed to create maintenance scheduler", "error", err)
		return 1
	}

	application := app.New(log, maintenance, runners...)

	log.Info("Starting chat daemon...")
	runErr := application.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Chat daemon stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Chat daemon stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
