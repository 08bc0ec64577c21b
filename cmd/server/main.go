package main

import (
	"context"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting chat relay", "port", cfg.Port)

	app := server.NewApp(cfg, logger)
	app.Start(context.Background())

	go func() {
		if err := app.ListenAndServe(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		app.Config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-relay": func(ctx context.Context) error {
				logger.Info("shutdown signal received")
				return app.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("chat relay stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}
