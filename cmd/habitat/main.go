package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"habitat/internal/app"
	"habitat/internal/config"
	"habitat/internal/logging"
)

// configFileEnv names the optional config file.
const configFileEnv = "HABITAT_CONFIG_FILE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv(configFileEnv), os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration, builds the application and serves until ctx is
// cancelled.
func run(ctx context.Context, configPath string, logOut io.Writer) error {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.Log, logOut)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.Addr()).
		Str("journal", cfg.Database.DatabasePath).
		Msg("starting habitat")

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	logger.Info().Msg("habitat stopped")
	return nil
}
