package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastek/extractor/internal/cache"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/orchestrator"
)

type stubStore struct {
	mu        sync.Mutex
	resolve   func(ctx context.Context, ref string) (string, error)
	puts      map[string][]byte
	putErrKey string
}

func newStubStore() *stubStore {
	return &stubStore{puts: make(map[string][]byte)}
}

func (s *stubStore) Resolve(ctx context.Context, ref string) (string, error) {
	if s.resolve != nil {
		return s.resolve(ctx, ref)
	}
	return ref, nil
}

func (s *stubStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.putErrKey {
		return errors.New("put failed")
	}
	s.puts[key] = data
	return nil
}

type stubExtractor struct {
	fn func(ctx context.Context, fileKey, originalFileName string, req domain.ExtractionRequest) (domain.DocumentResult, error)
}

func (s stubExtractor) Extract(ctx context.Context, fileKey, originalFileName string, req domain.ExtractionRequest) (domain.DocumentResult, error) {
	return s.fn(ctx, fileKey, originalFileName, req)
}

type ocrStageFunc func(ctx context.Context, fileKey, originalFileName string) (string, error)

func (f ocrStageFunc) Convert(ctx context.Context, fileKey, originalFileName string) (string, error) {
	return f(ctx, fileKey, originalFileName)
}

type managedIDPFunc func(ctx context.Context, fileKey string, req domain.ExtractionRequest) (orchestrator.ManagedIDPResult, error)

func (f managedIDPFunc) Invoke(ctx context.Context, fileKey string, req domain.ExtractionRequest) (orchestrator.ManagedIDPResult, error) {
	return f(ctx, fileKey, req)
}

func baseRequest(mode domain.ParsingMode, docs ...string) domain.ExtractionRequest {
	return domain.ExtractionRequest{
		Documents:   docs,
		Attributes:  domain.AttributeSet{{Name: "a", Description: "d"}},
		ParsingMode: mode,
		ModelParams: domain.ModelParams{ModelID: "anthropic.claude-3-sonnet", Temperature: 0.2},
	}
}

func TestRun_OrderPreservedAcrossDocuments(t *testing.T) {
	text := stubExtractor{fn: func(_ context.Context, fileKey, name string, _ domain.ExtractionRequest) (domain.DocumentResult, error) {
		return domain.DocumentResult{FileKey: fileKey, OriginalFileName: name, Answer: map[string]any{"a": fileKey}, RawAnswer: "ok"}, nil
	}}
	req := baseRequest(domain.ParsingTextLLM, "originals/one.txt", "originals/two.txt", "originals/three.txt")

	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	want := []string{"originals/one.txt", "originals/two.txt", "originals/three.txt"}
	for i := range want {
		assert.Equal(t, want[i], batch[i].FileKey)
	}
}

func TestRun_OneDocumentFailureDoesNotAbortSiblings(t *testing.T) {
	text := stubExtractor{fn: func(_ context.Context, fileKey, name string, _ domain.ExtractionRequest) (domain.DocumentResult, error) {
		if strings.Contains(fileKey, "bad") {
			return domain.DocumentResult{}, domain.NewDocumentError(domain.ErrLLMInvocationFailed, "boom")
		}
		return domain.DocumentResult{FileKey: fileKey, OriginalFileName: name, Answer: map[string]any{"a": 1}, RawAnswer: "ok"}, nil
	}}
	req := baseRequest(domain.ParsingTextLLM, "originals/good1.txt", "originals/bad.txt", "originals/good2.txt")

	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, batch[0].Error)
	assert.Nil(t, batch[2].Error)
	require.NotNil(t, batch[1].Error)
	assert.Equal(t, domain.ErrLLMInvocationFailed, batch[1].Error.Kind)
}

func TestRun_MalformedRequestRejectedBeforeFanout(t *testing.T) {
	req := baseRequest(domain.ParsingMode("NOT_A_MODE"), "originals/one.txt")
	o := orchestrator.New(newStubStore(), nil, nil, nil, nil, nil)

	_, err := o.Run(context.Background(), req)
	require.Error(t, err)

	de, ok := domain.AsDocumentError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrMalformedRequest, de.Kind)
}

func TestRun_TextLLMRoutesThroughOCRPreStage(t *testing.T) {
	var gotKey string
	text := stubExtractor{fn: func(_ context.Context, fileKey, name string, _ domain.ExtractionRequest) (domain.DocumentResult, error) {
		gotKey = fileKey
		return domain.DocumentResult{FileKey: fileKey, OriginalFileName: name, Answer: map[string]any{}, RawAnswer: "ok"}, nil
	}}
	ocr := ocrStageFunc(func(_ context.Context, fileKey, _ string) (string, error) {
		return "processed/" + fileKey + ".txt", nil
	})
	req := baseRequest(domain.ParsingTextLLM, "originals/scan.pdf")

	o := orchestrator.New(newStubStore(), text, nil, ocr, nil, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "processed/originals/scan.pdf.txt", gotKey)
	// FileKey in the result must be the canonical input key, not the
	// intermediate processed key.
	assert.Equal(t, "originals/scan.pdf", batch[0].FileKey)
}

func TestRun_OCRThenTextLLMFailsClosedWithoutCollaborator(t *testing.T) {
	req := baseRequest(domain.ParsingOCRThenTextLLM, "originals/scan.pdf")
	text := stubExtractor{fn: func(context.Context, string, string, domain.ExtractionRequest) (domain.DocumentResult, error) {
		t.Fatalf("text extractor should not be invoked without an OCR stage")
		return domain.DocumentResult{}, nil
	}}
	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)

	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, batch[0].Error)
	assert.Equal(t, domain.ErrParsingStageFailed, batch[0].Error.Kind)
}

func TestRun_ManagedIDPSynthesizesRawAnswer(t *testing.T) {
	idp := managedIDPFunc(func(context.Context, string, domain.ExtractionRequest) (orchestrator.ManagedIDPResult, error) {
		return orchestrator.ManagedIDPResult{InferenceResult: map[string]any{"invoice_number": "INV-1"}}, nil
	})
	req := baseRequest(domain.ParsingManagedIDP, "originals/invoice.pdf")

	o := orchestrator.New(newStubStore(), nil, nil, nil, idp, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "INV-1", batch[0].Answer["invoice_number"])
	assert.Contains(t, batch[0].RawAnswer, "<thinking>")
	assert.Contains(t, batch[0].RawAnswer, "<json>")
}

func TestRun_UnresolvableReferenceYieldsArtifactUnavailable(t *testing.T) {
	store := newStubStore()
	store.resolve = func(_ context.Context, ref string) (string, error) {
		return "", errors.New("not found")
	}
	req := baseRequest(domain.ParsingTextLLM, "https://example.com/missing.pdf")
	text := stubExtractor{fn: func(context.Context, string, string, domain.ExtractionRequest) (domain.DocumentResult, error) {
		t.Fatalf("extractor should not run when resolution fails")
		return domain.DocumentResult{}, nil
	}}

	o := orchestrator.New(store, text, nil, nil, nil, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, batch[0].Error)
	assert.Equal(t, domain.ErrArtifactUnavailable, batch[0].Error.Kind)
}

func TestRun_ResultCacheSkipsRepeatExtraction(t *testing.T) {
	var calls int32
	text := stubExtractor{fn: func(_ context.Context, fileKey, name string, _ domain.ExtractionRequest) (domain.DocumentResult, error) {
		atomic.AddInt32(&calls, 1)
		return domain.DocumentResult{FileKey: fileKey, OriginalFileName: name, Answer: map[string]any{"a": 1}, RawAnswer: "ok"}, nil
	}}
	req := baseRequest(domain.ParsingTextLLM, "originals/repeat.txt")

	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)
	o.ResultCache = cache.NewResultCache[domain.DocumentResult](time.Minute)

	_, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRun_ResultCacheMissesOnDifferentAttributes(t *testing.T) {
	var calls int32
	text := stubExtractor{fn: func(_ context.Context, fileKey, name string, _ domain.ExtractionRequest) (domain.DocumentResult, error) {
		atomic.AddInt32(&calls, 1)
		return domain.DocumentResult{FileKey: fileKey, OriginalFileName: name, Answer: map[string]any{"a": 1}, RawAnswer: "ok"}, nil
	}}

	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)
	o.ResultCache = cache.NewResultCache[domain.DocumentResult](time.Minute)

	req1 := baseRequest(domain.ParsingTextLLM, "originals/repeat.txt")
	_, err := o.Run(context.Background(), req1)
	require.NoError(t, err)

	req2 := baseRequest(domain.ParsingTextLLM, "originals/repeat.txt")
	req2.Attributes = domain.AttributeSet{{Name: "b", Description: "different"}}
	_, err = o.Run(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRun_PanicInExtractorIsIsolated(t *testing.T) {
	text := stubExtractor{fn: func(context.Context, string, string, domain.ExtractionRequest) (domain.DocumentResult, error) {
		panic("boom")
	}}
	req := baseRequest(domain.ParsingTextLLM, "originals/one.txt", "originals/two.txt")

	o := orchestrator.New(newStubStore(), text, nil, nil, nil, nil)
	batch, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	for _, r := range batch {
		require.NotNil(t, r.Error)
		assert.Equal(t, domain.ErrParsingStageFailed, r.Error.Kind)
	}
}
