package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jastek/extractor/internal/config"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the extraction HTTP gateway",
		Long: `Start the extraction HTTP gateway.

The server will:
1. Load configuration from the specified file
2. Construct the artifact store (local disk or S3)
3. Register every configured LLM provider
4. Serve /extract, /url, /healthz, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  extractor serve

  # Start with a custom config
  extractor serve --config /etc/extractor/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")

	return cmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("EXTRACTOR_CONFIG"); env != "" {
		return env
	}
	return "extractor.yaml"
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = a.tracerShutdown(context.Background()) }()

	srv := newGatewayServer(a)
	if err := srv.start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	a.logger.Info(ctx, "shutting down")
	srv.stop(ctx)
	return nil
}
