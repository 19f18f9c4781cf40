// Package main provides the CLI entry point for the attribute extraction
// service.
//
// extractor turns unstructured documents (PDFs, images, pre-OCR'd text)
// into structured attribute values by orchestrating an LLM across one of
// four parsing strategies (TEXT_LLM, IMAGE_LLM, OCR_THEN_TEXT_LLM,
// MANAGED_IDP).
//
// # Basic Usage
//
// Start the HTTP gateway:
//
//	extractor serve --config extractor.yaml
//
// Run a one-shot extraction against local files:
//
//	extractor extract --config extractor.yaml --attributes attrs.json ./invoice.pdf
//
// # Environment Variables
//
// Provider credentials are read from the configuration file; the file
// itself is resolved from --config or the EXTRACTOR_CONFIG environment
// variable.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build-info vars, set via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "extractor",
		Short: "Document attribute extraction service",
		Long: `extractor turns unstructured documents into structured attribute
values by routing each one through an LLM-orchestrated parsing pipeline.

Parsing modes: TEXT_LLM, IMAGE_LLM, OCR_THEN_TEXT_LLM, MANAGED_IDP
LLM providers: Bedrock, Anthropic, OpenAI, Gemini`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildExtractCmd(),
		buildScheduleCmd(),
	)

	return rootCmd
}
