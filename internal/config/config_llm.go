package config

// LLMConfig configures C4's provider registry: which model_id prefixes
// route to which provider, and each provider's credentials.
type LLMConfig struct {
	// DefaultModel is used by `cmd/extractor extract` when the request
	// doesn't specify model_id.
	DefaultModel string `yaml:"default_model"`

	Providers map[string]LLMProviderConfig `yaml:"providers"`

	// Bedrock configures the AWS Bedrock provider specifically, since it
	// authenticates via the AWS credential chain rather than an API key.
	Bedrock BedrockConfig `yaml:"bedrock"`
}

// LLMProviderConfig configures a single API-key-authenticated provider. The
// map key in LLMConfig.Providers is the provider name ("anthropic",
// "openai", or "gemini"); each name owns a fixed set of model_id prefixes
// registered on the llm.Client (see cmd/extractor's buildLLMClient).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// BedrockConfig configures the AWS Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region Converse calls are issued against.
	// Default: us-east-1.
	Region string `yaml:"region"`
}
