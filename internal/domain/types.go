// Package domain holds the core data model for attribute extraction:
// attribute specifications, few-shot examples, extraction requests, and
// per-document/per-batch results.
package domain

import "fmt"

// AttributeType constrains the value extracted for an attribute.
type AttributeType string

const (
	AttributeAuto    AttributeType = "auto"
	AttributeText    AttributeType = "text"
	AttributeNumber  AttributeType = "number"
	AttributeBoolean AttributeType = "boolean"
)

// AttributeSpec describes one attribute to extract from a document.
type AttributeSpec struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        AttributeType `json:"type,omitempty"`
}

// Validate checks the invariants required of a single spec: non-empty name
// and description. Type defaults to auto when unset.
func (a AttributeSpec) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("attribute name is required")
	}
	if a.Description == "" {
		return fmt.Errorf("attribute %q: description is required", a.Name)
	}
	switch a.Type {
	case "", AttributeAuto, AttributeText, AttributeNumber, AttributeBoolean:
		return nil
	default:
		return fmt.Errorf("attribute %q: unknown type %q", a.Name, a.Type)
	}
}

// EffectiveType returns the attribute's type, defaulting unset to auto.
func (a AttributeSpec) EffectiveType() AttributeType {
	if a.Type == "" {
		return AttributeAuto
	}
	return a.Type
}

// AttributeSet is an ordered, name-unique collection of AttributeSpecs.
// Ordering is preserved because it surfaces directly in rendered prompts.
type AttributeSet []AttributeSpec

// Validate checks name uniqueness and delegates per-spec validation.
func (s AttributeSet) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, spec := range s {
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate attribute name %q", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// FewShotExample is a textual or multimodal priming example. Exactly one of
// the two shapes is populated: Input/Output (textual) or Documents/Markings
// (multimodal).
type FewShotExample struct {
	// Textual shape.
	Input  any            `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// Multimodal shape.
	Documents []string `json:"documents,omitempty"`
	Markings  string   `json:"markings,omitempty"`
}

// IsMultimodal reports whether this example uses the image+marking shape.
func (f FewShotExample) IsMultimodal() bool {
	return len(f.Documents) > 0
}

// ParsingMode selects which extractor handles a document.
type ParsingMode string

const (
	ParsingTextLLM         ParsingMode = "TEXT_LLM"
	ParsingImageLLM        ParsingMode = "IMAGE_LLM"
	ParsingOCRThenTextLLM  ParsingMode = "OCR_THEN_TEXT_LLM"
	ParsingManagedIDP      ParsingMode = "MANAGED_IDP"
)

func (m ParsingMode) Valid() bool {
	switch m {
	case ParsingTextLLM, ParsingImageLLM, ParsingOCRThenTextLLM, ParsingManagedIDP:
		return true
	default:
		return false
	}
}

// ModelParams carries the per-request LLM sampling configuration.
type ModelParams struct {
	ModelID         string   `json:"model_id"`
	Temperature     float64  `json:"temperature"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`
	ThinkingBudget  int      `json:"thinking_budget,omitempty"`
}

// ExtractionRequest is the inbound unit of work: a batch of documents sharing
// one attribute set, prompt configuration, and model parameters.
type ExtractionRequest struct {
	Documents       []string         `json:"documents"`
	Attributes      AttributeSet     `json:"attributes"`
	Instructions    string           `json:"instructions,omitempty"`
	FewShots        []FewShotExample `json:"few_shots,omitempty"`
	ParsingMode     ParsingMode      `json:"parsing_mode"`
	ModelParams     ModelParams      `json:"model_params"`
	ChunkSize       int              `json:"chunk_size,omitempty"`
	ParallelChunks  *bool            `json:"parallel_chunks,omitempty"`
}

// EffectiveChunkSize returns the configured chunk size, defaulting to 10.
func (r ExtractionRequest) EffectiveChunkSize() int {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	return 10
}

// EffectiveParallelChunks returns whether chunks should run in parallel,
// defaulting to true.
func (r ExtractionRequest) EffectiveParallelChunks() bool {
	if r.ParallelChunks == nil {
		return true
	}
	return *r.ParallelChunks
}

// Validate enforces the MalformedRequest-triggering invariants from the
// inbound request contract.
func (r ExtractionRequest) Validate() error {
	if len(r.Documents) == 0 {
		return fmt.Errorf("at least one document is required")
	}
	if !r.ParsingMode.Valid() {
		return fmt.Errorf("unknown parsing_mode %q", r.ParsingMode)
	}
	if r.ModelParams.ModelID == "" {
		return fmt.Errorf("model_params.model_id is required")
	}
	if r.ModelParams.Temperature < 0 || r.ModelParams.Temperature > 1 {
		return fmt.Errorf("model_params.temperature must be in [0,1]")
	}
	if err := r.Attributes.Validate(); err != nil {
		return err
	}
	return nil
}

// DocumentResult is the per-document outcome. Exactly one of Error or
// Answer+RawAnswer is populated.
type DocumentResult struct {
	FileKey          string         `json:"file_key"`
	OriginalFileName string         `json:"original_file_name"`
	Answer           map[string]any `json:"answer,omitempty"`
	RawAnswer        string         `json:"raw_answer,omitempty"`
	ChunksProcessed  int            `json:"chunks_processed,omitempty"`
	Error            *ErrorInfo     `json:"error,omitempty"`
}

// BatchResult is the ordered output of one orchestration, matching the
// input documents list one-to-one.
type BatchResult []DocumentResult
