package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"tradeshell/internal/app"
	"tradeshell/internal/config"
	"tradeshell/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cliApp := &cli.App{
		Name:  "tradeshell",
		Usage: "session and access gate service for the trading dashboard shell",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment, later files win",
				Value: cli.NewStringSlice("../.env", ".env"),
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "override PORT",
			},
		},
		Before: loadEnvFiles,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP server (default)",
				Action: serve,
			},
			{
				Name:   "check-config",
				Usage:  "print the resolved configuration and exit non-zero when it is invalid",
				Action: checkConfig,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadEnvFiles(c *cli.Context) error {
	for _, path := range c.StringSlice("env-file") {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func loadConfig(c *cli.Context) (config.Config, error) {
	if port := c.String("port"); port != "" {
		if err := os.Setenv("PORT", port); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to construct application", zap.Error(err))
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("server exited with error", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func checkConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)

	out := map[string]any{
		"environment":        cfg.Environment,
		"port":               cfg.Port,
		"publicURL":          cfg.PublicURL,
		"frontendURL":        cfg.FrontendURL,
		"sessionTTL":         cfg.SessionTTL.String(),
		"sessionIdleTimeout": cfg.SessionIdleTimeout.String(),
		"gateWaitTimeout":    cfg.GateWaitTimeout.String(),
		"identityConfigured": cfg.IdentityConfigured(),
		"profilesConfigured": cfg.SupabaseDBURL != "",
		"redisTokens":        cfg.RedisURL != "",
		"googleSignIn":       cfg.GoogleConfigured(),
		"setupWarning":       cfg.SetupWarning(),
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return encErr
	}

	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
