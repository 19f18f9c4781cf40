package image

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/llm"
	"github.com/jastek/extractor/internal/rasterize"
)

// assistantTemplate is the fixed shape every multimodal few-shot assistant
// turn takes, so the model sees the same thinking/json structure it's
// expected to reproduce for the real chunk.
const assistantTemplate = "<thinking>\nI was able to find all the requested attributes\n</thinking>\n<json>\n%s\n</json>\n"

// buildMultimodalPrime downloads a multimodal few-shot's document pages and
// marking JSON and materializes the paired user+assistant messages §4.7
// prepends to every chunk's message list. Only the first multimodal
// few-shot in the request is used; textual few-shots are handled by C2.
func buildMultimodalPrime(ctx context.Context, store artifacts.Store, shot domain.FewShotExample, rasterOpts rasterize.Options) ([]llm.Message, error) {
	var blocks []llm.ContentBlock
	for _, docKey := range shot.Documents {
		raw, err := store.Get(ctx, docKey)
		if err != nil {
			return nil, fmt.Errorf("load few-shot document %s: %w", docKey, err)
		}
		pages, err := rasterizeBytes(ctx, docKey, raw, rasterOpts)
		if err != nil {
			return nil, fmt.Errorf("rasterize few-shot document %s: %w", docKey, err)
		}
		for _, p := range pages {
			blocks = append(blocks, llm.ImageContent("jpeg", p.Bytes))
		}
	}

	output, err := loadMarkingOutput(ctx, store, shot)
	if err != nil {
		return nil, err
	}
	outputJSON, err := json.MarshalIndent(output, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal few-shot marking output: %w", err)
	}

	userMsg := llm.UserMessage(blocks...)
	assistantMsg := llm.AssistantMessage(llm.TextContent(fmt.Sprintf(assistantTemplate, string(outputJSON))))
	return []llm.Message{userMsg, assistantMsg}, nil
}

// loadMarkingOutput fetches shot.Markings from the store and returns the
// "output" object matching shot.Documents. The marking JSON is either a
// single object (one marking) or a list of objects keyed by a "file_name"
// field; a list with no matching entry is fatal for this extraction.
func loadMarkingOutput(ctx context.Context, store artifacts.Store, shot domain.FewShotExample) (map[string]any, error) {
	raw, err := store.Get(ctx, shot.Markings)
	if err != nil {
		return nil, fmt.Errorf("load few-shot markings %s: %w", shot.Markings, err)
	}

	var single struct {
		Output map[string]any `json:"output"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Output != nil {
		return single.Output, nil
	}

	var list []struct {
		FileName string         `json:"file_name"`
		Output   map[string]any `json:"output"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse few-shot markings %s: %w", shot.Markings, err)
	}

	target := ""
	if len(shot.Documents) > 0 {
		target = path.Base(shot.Documents[0])
	}
	for _, entry := range list {
		if strings.EqualFold(path.Base(entry.FileName), target) {
			return entry.Output, nil
		}
	}
	return nil, fmt.Errorf("few-shot markings %s: no entry matches document %q", shot.Markings, target)
}
