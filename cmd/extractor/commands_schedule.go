package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jastek/extractor/internal/config"
	"github.com/jastek/extractor/internal/domain"
)

// buildScheduleCmd wires a recurring variant of `extract`: on every cron
// tick it re-globs a local directory, uploads whatever currently matches,
// and runs one orchestration over the result. This is how a caller picks up
// documents dropped into a watched folder (or re-drives documents whose
// previous attempt errored, once re-uploaded) without standing up the HTTP
// gateway.
func buildScheduleCmd() *cobra.Command {
	var (
		configPath string
		specPath   string
		glob       string
		cronExpr   string
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run extraction on a cron schedule against a glob of local files",
		Long: `Periodically re-glob a local directory and run one extraction batch over
whatever currently matches, on a standard 5-field cron schedule (local time).

Each tick's BatchResult is logged at info level (one line per document,
success/error) and persisted individually by the orchestrator under
attributes/<stem>.json as usual; nothing about a single tick's outcome
blocks the next one.`,
		Example: `  extractor schedule --attributes attrs.json --glob "./inbox/*.pdf" --cron "*/5 * * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), scheduleOptions{
				configPath: resolveConfigPath(configPath),
				specPath:   specPath,
				glob:       glob,
				cronExpr:   cronExpr,
				runOnStart: runOnStart,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVarP(&specPath, "attributes", "a", "", "Path to a JSON file describing attributes, parsing_mode, and model_params")
	cmd.Flags().StringVarP(&glob, "glob", "g", "", "Glob pattern (relative to the working directory) matched on every tick")
	cmd.Flags().StringVar(&cronExpr, "cron", "*/10 * * * *", "Standard 5-field cron expression, local time")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", true, "Run one batch immediately before waiting for the first tick")
	cobra.CheckErr(cmd.MarkFlagRequired("attributes"))
	cobra.CheckErr(cmd.MarkFlagRequired("glob"))

	return cmd
}

type scheduleOptions struct {
	configPath string
	specPath   string
	glob       string
	cronExpr   string
	runOnStart bool
}

func runSchedule(ctx context.Context, opts scheduleOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	spec, err := loadExtractSpec(opts.specPath)
	if err != nil {
		return fmt.Errorf("load attributes file: %w", err)
	}

	// A mutex keeps overlapping ticks from racing: a slow batch (many
	// documents, a stalled LLM provider) simply delays the next tick
	// rather than running concurrently with it.
	var mu sync.Mutex
	tick := func() {
		if !mu.TryLock() {
			a.logger.Warn(ctx, "schedule: previous tick still running, skipping")
			return
		}
		defer mu.Unlock()
		runScheduledTick(ctx, a, spec, opts.glob)
	}

	c := cron.New()
	if _, err := c.AddFunc(opts.cronExpr, tick); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", opts.cronExpr, err)
	}

	if opts.runOnStart {
		tick()
	}

	c.Start()
	a.logger.Info(ctx, "schedule: started", "cron", opts.cronExpr, "glob", opts.glob)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	a.logger.Info(ctx, "schedule: shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// runScheduledTick globs, uploads, and extracts one batch, logging a
// per-document summary. Errors here never propagate past this function:
// a bad tick should not stop future ticks from running.
func runScheduledTick(ctx context.Context, a *app, spec extractSpec, glob string) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		a.logger.Error(ctx, "schedule: invalid glob", "glob", glob, "error", err)
		return
	}
	if len(matches) == 0 {
		a.logger.Info(ctx, "schedule: no files matched", "glob", glob)
		return
	}

	documents := make([]string, 0, len(matches))
	for _, p := range matches {
		key, err := uploadLocalFile(ctx, a, p)
		if err != nil {
			a.logger.Warn(ctx, "schedule: failed to stage file", "path", p, "error", err)
			continue
		}
		documents = append(documents, key)
	}
	if len(documents) == 0 {
		return
	}

	req := domain.ExtractionRequest{
		Documents:    documents,
		Attributes:   spec.Attributes,
		Instructions: spec.Instructions,
		FewShots:     spec.FewShots,
		ParsingMode:  spec.ParsingMode,
		ModelParams:  spec.ModelParams,
		ChunkSize:    spec.ChunkSize,
	}

	batch, err := a.orchestrator.Run(ctx, req)
	if err != nil {
		a.logger.Error(ctx, "schedule: orchestration failed", "error", err)
		return
	}

	for _, doc := range batch {
		if doc.Error != nil {
			a.logger.Warn(ctx, "schedule: document failed", "file_key", doc.FileKey, "kind", doc.Error.Kind)
			continue
		}
		a.logger.Info(ctx, "schedule: document extracted", "file_key", doc.FileKey)
	}
}
