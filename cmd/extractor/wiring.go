package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/cache"
	"github.com/jastek/extractor/internal/config"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/extract/image"
	"github.com/jastek/extractor/internal/extract/text"
	"github.com/jastek/extractor/internal/llm"
	"github.com/jastek/extractor/internal/observability"
	"github.com/jastek/extractor/internal/orchestrator"
	"github.com/jastek/extractor/internal/rasterize"
)

// app bundles the wired components a subcommand drives. Built once from
// config.Config by buildApp.
type app struct {
	cfg            *config.Config
	logger         *observability.Logger
	tracer         *observability.Tracer
	tracerShutdown func(context.Context) error
	store          *artifacts.Gateway
	orchestrator   *orchestrator.Orchestrator
}

// buildApp constructs the artifact store, LLM client, extractors, and
// orchestrator from cfg. Both `serve` and `extract` share this so their
// wiring can never drift.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.EnableInsecure,
		Attributes:     cfg.Tracing.Attributes,
	})

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build artifact store: %w", err)
	}
	store.Tracer = tracer

	client, err := buildLLMClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	client.Tracer = tracer
	client.OnRetry = func(modelID string, _ int) {
		metrics.LLMRetries.WithLabelValues(modelID).Inc()
	}

	rasterOpts := rasterize.Options{
		PdftoppmPath:   cfg.Rasterizer.PdftoppmPath,
		DPI:            cfg.Rasterizer.DPI,
		MaxDimensionPx: cfg.Rasterizer.MaxDimensionPx,
	}

	textExtractor := text.New(store, client, logger)
	textExtractor.Metrics = metrics
	imageExtractor := image.New(store, client, logger, rasterOpts)
	imageExtractor.Tracer = tracer
	imageExtractor.Metrics = metrics

	orch := orchestrator.New(store, textExtractor, imageExtractor, nil, nil, logger)
	orch.MaxConcurrentDocuments = cfg.Orchestrator.MaxConcurrentDocuments
	orch.Tracer = tracer
	orch.Metrics = metrics
	if cfg.Orchestrator.DedupeTTL > 0 {
		orch.ResultCache = cache.NewResultCache[domain.DocumentResult](cfg.Orchestrator.DedupeTTL)
	}

	return &app{cfg: cfg, logger: logger, tracer: tracer, store: store, orchestrator: orch, tracerShutdown: tracerShutdown}, nil
}

// buildStore constructs C5's Gateway over whichever backend
// cfg.Store.Backend selects.
func buildStore(ctx context.Context, cfg *config.Config) (*artifacts.Gateway, error) {
	switch cfg.Store.Backend {
	case "s3":
		s3Cfg := &artifacts.S3StoreConfig{
			Bucket:   cfg.Store.S3.Bucket,
			Region:   cfg.Store.S3.Region,
			Endpoint: cfg.Store.S3.Endpoint,
			Prefix:   cfg.Store.S3.Prefix,
		}
		backend, err := artifacts.NewS3Store(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("new s3 store: %w", err)
		}
		return artifacts.NewGateway(backend, backend, cfg.Store.S3.Bucket), nil

	case "local", "":
		backend, err := artifacts.NewLocalStore(cfg.Store.Local.BasePath)
		if err != nil {
			return nil, fmt.Errorf("new local store: %w", err)
		}
		return artifacts.NewGateway(backend, nil, ""), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildLLMClient registers every provider the examples carry, keyed by the
// model_id prefix each is responsible for. A provider with no credentials
// configured is simply left unregistered: requests naming a model under its
// prefix surface as a routing failure at call time rather than a startup
// error, since a given deployment may only ever exercise a subset.
func buildLLMClient(ctx context.Context, cfg *config.Config) (*llm.Client, error) {
	client := llm.NewClient()

	bedrock, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{Region: cfg.LLM.Bedrock.Region})
	if err != nil {
		return nil, fmt.Errorf("new bedrock provider: %w", err)
	}
	client.Register("anthropic.", bedrock)
	client.Register("us.anthropic.", bedrock)
	client.Register("amazon.", bedrock)
	client.Register("meta.", bedrock)
	client.Register("cohere.", bedrock)

	if p, ok := cfg.LLM.Providers["anthropic"]; ok && p.APIKey != "" {
		client.Register("claude-", llm.NewAnthropicProvider(p.APIKey))
	}
	if p, ok := cfg.LLM.Providers["openai"]; ok && p.APIKey != "" {
		client.Register("gpt-", llm.NewOpenAIProvider(p.APIKey))
		client.Register("o1-", llm.NewOpenAIProvider(p.APIKey))
	}
	if p, ok := cfg.LLM.Providers["gemini"]; ok && p.APIKey != "" {
		gemini, err := llm.NewGeminiProvider(ctx, p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("new gemini provider: %w", err)
		}
		client.Register("gemini-", gemini)
	}

	return client, nil
}
