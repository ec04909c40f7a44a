// Package main содержит точку входа HTTP-приложения сервиса подписок.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/perfumeclub/subscription-bot/internal/app/bot"
	"github.com/perfumeclub/subscription-bot/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting subscription-bot", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bot.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize bot app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("bot app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}
