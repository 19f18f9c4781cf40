package config

import "time"

// Config is the root configuration for the extraction service, decoded from
// a merged YAML/JSON5 document by LoadRaw + decodeRawConfig. It replaces the
// chat-gateway config schema this loader originally served.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Rasterizer   RasterizerConfig   `yaml:"rasterizer"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig configures the HTTP gateway started by `cmd/extractor serve`.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the artifact store backend (C5).
type StoreConfig struct {
	// Backend is "local" or "s3".
	Backend string         `yaml:"backend"`
	Local   LocalStoreSpec `yaml:"local"`
	S3      S3StoreSpec    `yaml:"s3"`
}

type LocalStoreSpec struct {
	BasePath string `yaml:"base_path"`
}

type S3StoreSpec struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// OrchestratorConfig bounds C8's concurrency and per-document behavior.
type OrchestratorConfig struct {
	// MaxConcurrentDocuments caps the number of documents processed in
	// parallel within a single batch request.
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents"`

	// DedupeTTL bounds how long an identical (document, attribute_set)
	// extraction result is cached to skip redundant LLM calls.
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

// RasterizerConfig configures PDF-to-image page rendering for C7.
type RasterizerConfig struct {
	// PdftoppmPath locates the poppler pdftoppm binary. Default: "pdftoppm"
	// (resolved via PATH).
	PdftoppmPath string `yaml:"pdftoppm_path"`

	// MaxDimensionPx bounds the longest edge of a rasterized page image
	// after downscaling, applied via golang.org/x/image/draw.
	MaxDimensionPx int `yaml:"max_dimension_px"`

	// DPI is the rendering resolution passed to pdftoppm.
	DPI int `yaml:"dpi"`
}

// LoggingConfig configures the structured logger (internal/observability).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry span export for document, chunk,
// LLM, and HTTP units of work. Tracing is disabled (a no-op tracer) unless
// Endpoint is set.
type TracingConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	EnableInsecure bool              `yaml:"enable_insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads path (resolving $include directives) and decodes it into a
// Config, applying defaults for any field left unset.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "local"
	}
	if cfg.Store.Local.BasePath == "" {
		cfg.Store.Local.BasePath = "./data"
	}
	if cfg.LLM.Bedrock.Region == "" {
		cfg.LLM.Bedrock.Region = "us-east-1"
	}
	if cfg.Orchestrator.MaxConcurrentDocuments <= 0 {
		cfg.Orchestrator.MaxConcurrentDocuments = 10
	}
	if cfg.Rasterizer.PdftoppmPath == "" {
		cfg.Rasterizer.PdftoppmPath = "pdftoppm"
	}
	if cfg.Rasterizer.MaxDimensionPx <= 0 {
		cfg.Rasterizer.MaxDimensionPx = 1568
	}
	if cfg.Rasterizer.DPI <= 0 {
		cfg.Rasterizer.DPI = 150
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "extractor"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
