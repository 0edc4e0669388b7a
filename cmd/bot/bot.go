package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/abelzeko/sensor-archive/internal/api"
	"github.com/abelzeko/sensor-archive/internal/app"
	"github.com/abelzeko/sensor-archive/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Starting Sensor Archive Bot...")

	if cfg.Telegram.Token == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{WithAssistant: true})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	telegramBot, err := api.NewTelegramBot(cfg.Telegram.Token, a.UseCase, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Telegram bot")
	}

	catalogImported := a.ImportCatalogInBackground(ctx)

	telegramBot.Start(ctx)
	// The import must not outlive the store
	<-catalogImported
	logger.Info("Bot stopped")
}
