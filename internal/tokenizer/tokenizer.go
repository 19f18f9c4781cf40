// Package tokenizer implements C1: token counting and budget-aware
// middle-truncation for documents headed into an LLM prompt.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// defaultMaxInputTokens is used when a model family has no known context size.
const defaultMaxInputTokens = 100_000

// modelPrefixMaxInputTokens maps a model-ID family prefix to its known
// context window, mirroring the AmazonBedrockTokenizer.MODEL_PREFIXES_TO_MAX_INPUT_TOKENS
// table from the reference implementation. Longest/most specific prefixes are
// checked first.
var modelPrefixMaxInputTokens = []struct {
	prefix string
	max    int
}{
	{"anthropic.claude-3", 200_000},
	{"anthropic.claude-2", 100_000},
	{"anthropic.claude-instant", 100_000},
	{"anthropic.claude", 200_000},
	{"claude-3", 200_000},
	{"claude", 100_000},
	{"amazon.titan-text-premier", 32_000},
	{"amazon.titan", 8_000},
	{"amazon.nova", 300_000},
	{"meta.llama3-1", 128_000},
	{"meta.llama3", 8_000},
	{"meta.llama2", 4_096},
	{"mistral.mixtral", 32_000},
	{"mistral.mistral-large", 32_000},
	{"mistral", 8_000},
	{"cohere.command-r", 128_000},
	{"cohere", 4_096},
	{"gpt-4o", 128_000},
	{"gpt-4-turbo", 128_000},
	{"gpt-4", 8_192},
	{"gpt-3.5-turbo", 16_385},
	{"gemini-1.5", 1_000_000},
	{"gemini", 32_000},
}

var (
	encodingCache   = map[string]*tiktoken.Tiktoken{}
	encodingCacheMu sync.Mutex
)

// stripRegionPrefix removes a leading cross-region inference prefix
// ("us." / "eu." / "apac.") from a Bedrock-style model identifier, per §4.1.
func stripRegionPrefix(modelID string) string {
	for _, p := range []string{"us.", "eu.", "apac."} {
		if strings.HasPrefix(modelID, p) {
			return strings.TrimPrefix(modelID, p)
		}
	}
	return modelID
}

func encodingFor(modelID string) *tiktoken.Tiktoken {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[modelID]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			encodingCache[modelID] = nil
			return nil
		}
	}
	encodingCache[modelID] = enc
	return enc
}

// Count returns the number of tokens text encodes to for the given model.
// Models unknown to tiktoken fall back to the cl100k_base encoding, and if
// that also fails to load, a conservative bytes-per-token approximation
// (roughly 4 bytes/token, the upper end of common English text) is used —
// the same fallback the spec's design notes call for when no tokenizer
// binding exists for a provider.
func Count(text, modelID string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(modelID); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// MaxInputTokens returns the maximum input token budget for modelID, based on
// the family-prefix table above, after stripping a leading region prefix.
func MaxInputTokens(modelID string) int {
	modelID = strings.ToLower(stripRegionPrefix(modelID))
	for _, entry := range modelPrefixMaxInputTokens {
		if strings.HasPrefix(modelID, entry.prefix) {
			return entry.max
		}
	}
	return defaultMaxInputTokens
}

// Truncate removes a single central span of words from document so that
// count(result, modelID) + promptOverheadTokens <= budget, preserving the
// document's head and tail. If document already fits, it is returned
// unchanged (Truncate is idempotent). The cut grows geometrically
// (multiplier 1.0 -> 5.0 in steps of 0.1) until the budget constraint holds
// or the multiplier range is exhausted, in which case the largest attempted
// cut is returned.
func Truncate(document string, promptOverheadTokens, budget int, modelID string) string {
	totalTokens := Count(document, modelID) + promptOverheadTokens
	if totalTokens <= budget {
		return document
	}

	words := strings.Split(document, " ")
	midPoint := len(words) / 2
	splitParameter := (totalTokens - budget) / 2

	var truncated string
	for multiplier := 1.0; multiplier < 5.0; multiplier += 0.1 {
		cut := int(float64(splitParameter) * multiplier)
		left := midPoint - cut
		right := midPoint + cut
		if left < 0 {
			left = 0
		}
		if right > len(words) {
			right = len(words)
		}

		truncated = strings.Join(words[:left], " ") + "\n...\n" + strings.Join(words[right:], " ")
		if Count(truncated, modelID)+promptOverheadTokens <= budget {
			return truncated
		}
	}
	return truncated
}
