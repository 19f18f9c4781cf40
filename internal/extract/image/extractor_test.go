package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/llm"
	"github.com/jastek/extractor/internal/observability"
	"github.com/jastek/extractor/internal/rasterize"
)

// stubProvider answers Converse with canned per-call text, optionally
// erroring.
type stubProvider struct {
	answer func(callIndex int) (string, error)
	calls  int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Converse(_ context.Context, _, _ string, _ []llm.Message, _ llm.InferenceConfig, _ llm.Extras) (llm.Response, error) {
	idx := p.calls
	p.calls++
	text, err := p.answer(idx)
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Text: text}, nil
}

// recordingProvider delegates to a caller-supplied function and is used
// where a test needs to inspect exactly what messages runChunk composed,
// rather than just its return value.
type recordingProvider struct {
	onConverse func(ctx context.Context, modelID, systemPrompt string, messages []llm.Message, cfg llm.InferenceConfig, extras llm.Extras) (llm.Response, error)
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Converse(ctx context.Context, modelID, systemPrompt string, messages []llm.Message, cfg llm.InferenceConfig, extras llm.Extras) (llm.Response, error) {
	return p.onConverse(ctx, modelID, systemPrompt, messages, cfg, extras)
}

func newTestClient(p llm.Provider) *llm.Client {
	c := llm.NewClient()
	c.Register("stub-", p)
	return c
}

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestStore(t *testing.T) *artifacts.LocalStore {
	t.Helper()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
}

func baseReq() domain.ExtractionRequest {
	return domain.ExtractionRequest{
		Attributes:  domain.AttributeSet{{Name: "vendor", Description: "vendor name"}},
		ParsingMode: domain.ParsingImageLLM,
		ModelParams: domain.ModelParams{ModelID: "stub-model", Temperature: 0.2},
	}
}

func TestChunkPages_PartitionsContiguously(t *testing.T) {
	pages := make([]rasterize.Page, 25)
	chunks := chunkPages(pages, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].start)
	assert.Equal(t, 9, chunks[0].end)
	assert.Equal(t, 10, chunks[1].start)
	assert.Equal(t, 19, chunks[1].end)
	assert.Equal(t, 20, chunks[2].start)
	assert.Equal(t, 24, chunks[2].end)
}

func TestChunkPages_DefaultsToTenWhenSizeNonPositive(t *testing.T) {
	pages := make([]rasterize.Page, 12)
	chunks := chunkPages(pages, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, 9, chunks[0].end)
}

func TestChunkPages_SinglePageSingleChunk(t *testing.T) {
	chunks := chunkPages(make([]rasterize.Page, 1), 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].start)
	assert.Equal(t, 0, chunks[0].end)
}

func TestRunChunk_SuccessParsesJSON(t *testing.T) {
	provider := &stubProvider{answer: func(int) (string, error) {
		return `<json>{"name":"Alice"}</json>`, nil
	}}
	e := &Extractor{Client: newTestClient(provider), Logger: testLogger()}

	chunk := pageChunk{start: 0, end: 0, pages: []rasterize.Page{{Index: 0, Bytes: []byte("fake")}}}
	outcome := e.runChunk(context.Background(), "doc-key", 0, chunk, 1, "extract name", nil, "system", "stub-model", llm.InferenceConfig{}, llm.Extras{})

	assert.Equal(t, map[string]any{"name": "Alice"}, outcome.answer)
	assert.Equal(t, `<json>{"name":"Alice"}</json>`, outcome.raw)
}

func TestRunChunk_ErrorProducesSentinel(t *testing.T) {
	provider := &stubProvider{answer: func(int) (string, error) {
		return "", fmt.Errorf("provider unavailable")
	}}
	e := &Extractor{Client: newTestClient(provider), Logger: testLogger()}

	chunk := pageChunk{start: 2, end: 2, pages: []rasterize.Page{{Index: 2, Bytes: []byte("fake")}}}
	outcome := e.runChunk(context.Background(), "doc-key", 0, chunk, 4, "extract name", nil, "system", "stub-model", llm.InferenceConfig{}, llm.Extras{})

	assert.Equal(t, map[string]any{}, outcome.answer)
	assert.Contains(t, outcome.raw, "Error: ")
	assert.Contains(t, outcome.raw, "provider unavailable")
}

// TestRunChunk_PageRangePrefix asserts the "Processing pages A:B." prefix is
// only added once a document has more than one chunk, and uses 1-based
// inclusive page numbers.
func TestRunChunk_PageRangePrefix(t *testing.T) {
	var capturedMessages []llm.Message
	provider := &recordingProvider{onConverse: func(_ context.Context, _, _ string, messages []llm.Message, _ llm.InferenceConfig, _ llm.Extras) (llm.Response, error) {
		capturedMessages = messages
		return llm.Response{Text: `{}`}, nil
	}}

	e := &Extractor{Client: newTestClient(provider), Logger: testLogger()}
	chunk := pageChunk{start: 10, end: 19, pages: []rasterize.Page{{Index: 10, Bytes: []byte("x")}}}

	e.runChunk(context.Background(), "doc-key", 0, chunk, 3, "body", nil, "sys", "stub-model", llm.InferenceConfig{}, llm.Extras{})
	require.NotEmpty(t, capturedMessages)
	lastBlock := capturedMessages[len(capturedMessages)-1]
	text := lastBlock.Content[len(lastBlock.Content)-1].Text
	assert.Contains(t, text, "Processing pages 11:20.")

	e.runChunk(context.Background(), "doc-key", 0, chunk, 1, "body", nil, "sys", "stub-model", llm.InferenceConfig{}, llm.Extras{})
	lastBlock = capturedMessages[len(capturedMessages)-1]
	text = lastBlock.Content[len(lastBlock.Content)-1].Text
	assert.NotContains(t, text, "Processing pages")
}

func TestExtract_SingleImage_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "originals/receipt.jpg", tinyJPEG(t), "image/jpeg"))

	provider := &stubProvider{answer: func(int) (string, error) {
		return `<json>{"vendor":"Acme"}</json>`, nil
	}}
	e := New(store, newTestClient(provider), testLogger(), rasterize.Options{})

	result, err := e.Extract(ctx, "originals/receipt.jpg", "receipt.jpg", baseReq())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"vendor": "Acme"}, result.Answer)
	assert.Equal(t, 1, result.ChunksProcessed)
	assert.Contains(t, result.RawAnswer, "CHUNK 1:")

	persisted, err := store.Get(ctx, "attributes/receipt.json")
	require.NoError(t, err)
	assert.Contains(t, string(persisted), "Acme")
}

func TestExtract_UnsupportedExtensionIsFatal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "originals/file.docx", []byte("whatever"), ""))

	e := New(store, newTestClient(&stubProvider{answer: func(int) (string, error) { return "{}", nil }}), testLogger(), rasterize.Options{})
	_, err := e.Extract(ctx, "originals/file.docx", "file.docx", baseReq())
	require.Error(t, err)

	de, ok := domain.AsDocumentError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrUnsupportedFormat, de.Kind)
}

func TestExtract_ArtifactUnavailable(t *testing.T) {
	store := newTestStore(t)
	e := New(store, newTestClient(&stubProvider{}), testLogger(), rasterize.Options{})

	_, err := e.Extract(context.Background(), "originals/missing.jpg", "missing.jpg", baseReq())
	require.Error(t, err)
	de, ok := domain.AsDocumentError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrArtifactUnavailable, de.Kind)
}

// TestChunkFailureIsolation reproduces S4/invariant 6: with 4 chunks and
// chunk index 1 (0-based) raising, the merged answer contains contributions
// from the other chunks only and the document does not error.
func TestChunkFailureIsolation(t *testing.T) {
	outcomes := []chunkOutcome{
		{answer: map[string]any{"pages": []any{float64(1)}}, raw: `{"pages":[1]}`},
		{answer: map[string]any{}, raw: "Error: boom"},
		{answer: map[string]any{"pages": []any{float64(3)}}, raw: `{"pages":[3]}`},
		{answer: map[string]any{"pages": []any{float64(4)}}, raw: `{"pages":[4]}`},
	}

	answers := make([]map[string]any, len(outcomes))
	rawTexts := make([]string, len(outcomes))
	for i, o := range outcomes {
		answers[i] = o.answer
		rawTexts[i] = o.raw
	}

	merged := mergeChunkAnswers(answers)
	assert.Equal(t, []any{float64(1), float64(3), float64(4)}, merged["pages"])

	raw := concatRawAnswers(rawTexts)
	assert.Contains(t, raw, "CHUNK 2:\nError: boom")
}

// TestMergeAcrossRandomizedCompletionOrder reproduces invariant 4 / S3: the
// merged answer is identical across repeated runs regardless of which
// goroutine's chunk finishes first, because outcomes are always written at
// their source (page-order) index before merge runs — exactly what
// Extract does via infra.ParallelProcess's index-preserving results slice.
func TestMergeAcrossRandomizedCompletionOrder(t *testing.T) {
	pageFirstOf := []int{1, 11, 21}

	for run := 0; run < 20; run++ {
		outcomes := make([]map[string]any, 3)
		done := make(chan struct{}, 3)
		for i, first := range pageFirstOf {
			go func(idx, first int) {
				outcomes[idx] = map[string]any{"pages": []any{float64(first)}}
				done <- struct{}{}
			}(i, first)
		}
		for i := 0; i < 3; i++ {
			<-done
		}

		merged := mergeChunkAnswers(outcomes)
		assert.Equal(t, []any{float64(1), float64(11), float64(21)}, merged["pages"])
	}
}
