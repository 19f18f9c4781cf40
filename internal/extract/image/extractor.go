// Package image implements C7, the Image Extractor: rasterization,
// page-chunking, multimodal few-shot priming, bounded-parallel per-chunk LLM
// dispatch, and deterministic page-order merge of the chunk answers.
package image

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/infra"
	"github.com/jastek/extractor/internal/llm"
	"github.com/jastek/extractor/internal/media"
	"github.com/jastek/extractor/internal/observability"
	"github.com/jastek/extractor/internal/promptcompose"
	"github.com/jastek/extractor/internal/rasterize"
	"github.com/jastek/extractor/internal/responseparser"
)

// maxChunkWorkers is the §4.7/§5 hard worker cap for chunk concurrency.
const maxChunkWorkers = 10

// Extractor is C7.
type Extractor struct {
	Store        artifacts.Store
	Client       *llm.Client
	Logger       *observability.Logger
	RasterizeOpt rasterize.Options

	// Tracer, when set, wraps each chunk's LLM round trip in a
	// process_chunk span. nil disables tracing.
	Tracer *observability.Tracer

	// Metrics, when set, records each chunk's wall-clock duration. nil
	// disables metrics.
	Metrics *observability.Metrics
}

// New builds an Extractor.
func New(store artifacts.Store, client *llm.Client, logger *observability.Logger, rasterOpts rasterize.Options) *Extractor {
	return &Extractor{Store: store, Client: client, Logger: logger, RasterizeOpt: rasterOpts}
}

// chunkOutcome is one chunk's state-machine terminus: PARSED/MALFORMED fold
// into Answer+Raw, ERROR folds into the sentinel ({}, "Error: <message>").
type chunkOutcome struct {
	pageStart int // 0-based, inclusive
	pageEnd   int // 0-based, inclusive
	answer    map[string]any
	raw       string
}

// Extract runs the C7 contract for a single resolved document key.
func (e *Extractor) Extract(ctx context.Context, fileKey, originalFileName string, req domain.ExtractionRequest) (domain.DocumentResult, error) {
	result := domain.DocumentResult{FileKey: fileKey, OriginalFileName: originalFileName}

	raw, err := e.Store.Get(ctx, fileKey)
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrArtifactUnavailable, err, "load document %s", fileKey)
	}

	pages, err := rasterizeBytes(ctx, originalFileName, raw, e.RasterizeOpt)
	if err != nil {
		return result, err
	}

	composed, err := promptcompose.Build(req.FewShots, req.Instructions)
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrMalformedRequest, err, "compose prompt")
	}
	systemPrompt, err := promptcompose.LoadSystemPrompt()
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrMalformedRequest, err, "load system prompt")
	}
	variables := map[string]string{
		"document":   "",
		"attributes": promptcompose.RenderAttributes(req.Attributes),
	}
	if req.Instructions != "" {
		variables["instructions"] = req.Instructions
	}
	promptText := promptcompose.Fill(composed.Template, variables)

	var primeMessages []llm.Message
	for _, shot := range req.FewShots {
		if !shot.IsMultimodal() {
			continue
		}
		primeMessages, err = buildMultimodalPrime(ctx, e.Store, shot, e.RasterizeOpt)
		if err != nil {
			return result, domain.WrapDocumentError(domain.ErrMalformedRequest, err, "build multimodal few-shot")
		}
		break
	}

	chunks := chunkPages(pages, req.EffectiveChunkSize())

	cfg := llm.InferenceConfig{
		Temperature: req.ModelParams.Temperature,
		TopP:        req.ModelParams.TopP,
		MaxTokens:   req.ModelParams.MaxOutputTokens,
	}
	extras := llm.Extras{TopK: req.ModelParams.TopK, ThinkingBudget: req.ModelParams.ThinkingBudget}

	runChunk := func(c context.Context, idx int) (chunkOutcome, error) {
		chunk := chunks[idx]
		return e.runChunk(c, fileKey, idx, chunk, len(chunks), promptText, primeMessages, systemPrompt, req.ModelParams.ModelID, cfg, extras), nil
	}

	indices := make([]int, len(chunks))
	for i := range indices {
		indices[i] = i
	}

	var outcomes []chunkOutcome
	if req.EffectiveParallelChunks() && len(chunks) > 1 {
		workers := maxChunkWorkers
		if len(chunks) < workers {
			workers = len(chunks)
		}
		res, _ := infra.ParallelProcess(ctx, indices, workers, runChunk)
		outcomes = res
	} else {
		outcomes = make([]chunkOutcome, len(chunks))
		for _, idx := range indices {
			outcome, _ := runChunk(ctx, idx)
			outcomes[idx] = outcome
		}
	}

	answers := make([]map[string]any, len(outcomes))
	rawTexts := make([]string, len(outcomes))
	for i, o := range outcomes {
		answers[i] = o.answer
		rawTexts[i] = o.raw
	}

	result.Answer = mergeChunkAnswers(answers)
	result.RawAnswer = concatRawAnswers(rawTexts)
	result.ChunksProcessed = len(chunks)

	outputKey := artifacts.DerivedOutputKey(fileKey)
	if err := e.persist(ctx, outputKey, result); err != nil {
		e.Logger.Warn(ctx, "persist document result failed", "key", outputKey, "error", err)
	}

	return result, nil
}

// runChunk drives one chunk through QUEUED -> RUNNING -> (PARSED|MALFORMED)
// | ERROR -> DONE. A chunk's failure is isolated: it returns the
// ({}, "Error: <message>") sentinel rather than propagating, so sibling
// chunks and the merge step see the correct cardinality.
func (e *Extractor) runChunk(ctx context.Context, fileKey string, chunkIndex int, chunk pageChunk, totalChunks int, promptText string, primeMessages []llm.Message, systemPrompt, modelID string, cfg llm.InferenceConfig, extras llm.Extras) chunkOutcome {
	outcome := chunkOutcome{pageStart: chunk.start, pageEnd: chunk.end}

	if e.Tracer != nil {
		var span trace.Span
		ctx, span = e.Tracer.TraceChunkProcessing(ctx, fileKey, chunkIndex, totalChunks)
		defer span.End()
	}
	if e.Metrics != nil {
		start := time.Now()
		defer func() {
			e.Metrics.ChunkDuration.WithLabelValues(string(domain.ParsingImageLLM)).Observe(time.Since(start).Seconds())
		}()
	}

	text := promptText
	if totalChunks > 1 {
		text = fmt.Sprintf("Processing pages %d:%d.\n%s", chunk.start+1, chunk.end+1, promptText)
	}

	var blocks []llm.ContentBlock
	for _, p := range chunk.pages {
		blocks = append(blocks, llm.ImageContent("jpeg", p.Bytes))
	}
	blocks = append(blocks, llm.TextContent(text))

	messages := append(append([]llm.Message{}, primeMessages...), llm.UserMessage(blocks...))

	responseText, err := e.Client.Converse(ctx, modelID, systemPrompt, messages, cfg, extras)
	if err != nil {
		outcome.answer = map[string]any{}
		outcome.raw = "Error: " + err.Error()
		return outcome
	}

	answer, ok := responseparser.Parse(responseText)
	outcome.raw = responseText
	if ok {
		outcome.answer = answer
	} else {
		outcome.answer = map[string]any{}
	}
	return outcome
}

func (e *Extractor) persist(ctx context.Context, key string, result domain.DocumentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal document result: %w", err)
	}
	return e.Store.Put(ctx, key, payload, "application/json")
}

// pageChunk is a contiguous, page-ordered slice of up to chunk_size pages.
type pageChunk struct {
	start int // 0-based, inclusive
	end   int // 0-based, inclusive
	pages []rasterize.Page
}

// chunkPages partitions pages into contiguous chunks of up to size pages
// each, in page order.
func chunkPages(pages []rasterize.Page, size int) []pageChunk {
	if size <= 0 {
		size = 10
	}
	var chunks []pageChunk
	for i := 0; i < len(pages); i += size {
		end := i + size
		if end > len(pages) {
			end = len(pages)
		}
		chunks = append(chunks, pageChunk{start: i, end: end - 1, pages: pages[i:end]})
	}
	return chunks
}

// rasterizeBytes dispatches to PDF or single-image rasterization based on
// the document's file extension. Unknown extensions are a fatal
// UnsupportedFormat error per §4.7.
func rasterizeBytes(ctx context.Context, nameHint string, data []byte, opts rasterize.Options) ([]rasterize.Page, error) {
	switch media.GetExtension(nameHint) {
	case ".pdf":
		pages, err := rasterize.RasterizePDF(ctx, data, opts)
		if err != nil {
			return nil, domain.WrapDocumentError(domain.ErrParsingStageFailed, err, "rasterize pdf")
		}
		return pages, nil
	case ".jpg", ".jpeg", ".png":
		page, err := rasterize.RasterizeImage(data, opts)
		if err != nil {
			return nil, domain.WrapDocumentError(domain.ErrParsingStageFailed, err, "rasterize image")
		}
		return []rasterize.Page{page}, nil
	default:
		return nil, domain.NewDocumentError(domain.ErrUnsupportedFormat, "unsupported document extension %q", media.GetExtension(nameHint))
	}
}
