package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jastek/extractor/internal/config"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/tools/files"
)

// localSearchDirs is the stdio-facade's allowlist of project-relative
// directories a bare file name is searched under, in addition to the
// current directory, before giving up with ArtifactUnavailable.
var localSearchDirs = []string{".", "documents", "samples", "testdata"}

// extractSpec is the on-disk shape of the --attributes file: everything an
// ExtractionRequest needs except the resolved document keys, which this
// command fills in from its positional arguments.
type extractSpec struct {
	Attributes   domain.AttributeSet     `json:"attributes"`
	Instructions string                  `json:"instructions,omitempty"`
	FewShots     []domain.FewShotExample `json:"few_shots,omitempty"`
	ParsingMode  domain.ParsingMode      `json:"parsing_mode"`
	ModelParams  domain.ModelParams      `json:"model_params"`
	ChunkSize    int                     `json:"chunk_size,omitempty"`
}

func buildExtractCmd() *cobra.Command {
	var (
		configPath string
		specPath   string
	)

	cmd := &cobra.Command{
		Use:   "extract [files...]",
		Short: "Run a one-shot extraction against local files",
		Long: `Resolve one or more local files, upload them to the configured
artifact store, and run a single synchronous extraction batch, printing the
resulting BatchResult as JSON to stdout.

Each file argument is resolved against the current directory and a small
allowlist of project-relative directories (documents/, samples/, testdata/)
before failing closed.`,
		Example: `  extractor extract --attributes attrs.json ./invoice.pdf
  extractor extract --attributes attrs.json receipt-01.png receipt-02.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), resolveConfigPath(configPath), specPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVarP(&specPath, "attributes", "a", "", "Path to a JSON file describing attributes, parsing_mode, and model_params")
	cobra.CheckErr(cmd.MarkFlagRequired("attributes"))

	return cmd
}

func runExtract(ctx context.Context, configPath, specPath string, paths []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = a.tracerShutdown(context.Background()) }()

	spec, err := loadExtractSpec(specPath)
	if err != nil {
		return fmt.Errorf("load attributes file: %w", err)
	}

	documents := make([]string, 0, len(paths))
	for _, p := range paths {
		key, err := uploadLocalFile(ctx, a, p)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", p, err)
		}
		documents = append(documents, key)
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
		return fmt.Errorf("run extraction: %w", err)
	}

	out, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func loadExtractSpec(path string) (extractSpec, error) {
	var spec extractSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse %s: %w", path, err)
	}
	return spec, nil
}

// uploadLocalFile resolves a local path against the search allowlist, reads
// it, and uploads it to the configured store under originals/<name>,
// returning the key an ExtractionRequest can reference.
func uploadLocalFile(ctx context.Context, a *app, path string) (string, error) {
	resolved, err := resolveLocalPath(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	key := "originals/" + filepath.Base(resolved)
	if err := a.store.Put(ctx, key, data, ""); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return key, nil
}

// resolveLocalPath tries path against each directory in localSearchDirs in
// order, returning the first workspace-safe match.
func resolveLocalPath(path string) (string, error) {
	var lastErr error
	for _, dir := range localSearchDirs {
		resolver := files.Resolver{Root: dir}
		resolved, err := resolver.Resolve(path)
		if err != nil {
			lastErr = err
			continue
		}
		if _, statErr := os.Stat(resolved); statErr == nil {
			return resolved, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("file not found")
	}
	return "", fmt.Errorf("%q not found under %v: %w", path, localSearchDirs, lastErr)
}
