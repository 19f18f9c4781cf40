// Package orchestrator implements C8: the per-batch state machine that
// routes each document to the extractor (or external collaborator) its
// parsing_mode selects, isolates per-document failures, and assembles an
// order-preserving BatchResult.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/cache"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/infra"
	"github.com/jastek/extractor/internal/observability"
)

// defaultPerDocumentTimeout is the §5 default orchestrator-to-extractor
// deadline.
const defaultPerDocumentTimeout = 900 * time.Second

// defaultMaxConcurrentDocuments bounds document fan-out when the caller
// leaves it unset.
const defaultMaxConcurrentDocuments = 10

// Store is the subset of *artifacts.Gateway the orchestrator depends on.
// Keeping it narrow lets tests stub reference resolution and persistence
// without standing up a full Gateway, satisfying §4.8's "pure function over
// (request, stubbed collaborators)" requirement.
type Store interface {
	Resolve(ctx context.Context, reference string) (string, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Orchestrator is C8.
type Orchestrator struct {
	Store      Store
	Text       DocumentExtractor
	Image      DocumentExtractor
	OCR        OCRStage
	ManagedIDP ManagedIDPClient
	Logger     *observability.Logger

	// Tracer, when set, wraps each document's routing and extraction in an
	// extract_document span. nil disables tracing.
	Tracer *observability.Tracer

	// Metrics, when set, records one documents-processed observation per
	// document. nil disables metrics.
	Metrics *observability.Metrics

	// ResultCache, when set, short-circuits re-processing an identical
	// (resolved document, attribute set, parsing mode, model) combination
	// seen within its TTL. nil disables deduplication entirely.
	ResultCache *cache.ResultCache[domain.DocumentResult]

	// MaxConcurrentDocuments caps document fan-out per batch. <= 0 uses
	// defaultMaxConcurrentDocuments.
	MaxConcurrentDocuments int

	// PerDocumentTimeout bounds a single document's processing. <= 0 uses
	// defaultPerDocumentTimeout.
	PerDocumentTimeout time.Duration
}

// New builds an Orchestrator. OCR and ManagedIDP may be nil when the
// corresponding parsing_mode is never exercised by the caller; a request
// that routes to a missing collaborator produces a per-document
// ParsingStageFailed error rather than panicking the batch.
func New(store Store, text, image DocumentExtractor, ocr OCRStage, idp ManagedIDPClient, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		Store:      store,
		Text:       text,
		Image:      image,
		OCR:        ocr,
		ManagedIDP: idp,
		Logger:     logger,
	}
}

// Run executes one orchestration: resolve, route, and isolate every
// document, returning a BatchResult in input order. The only error Run
// itself returns is a pre-fanout MalformedRequest — everything after
// validation is captured per-document.
func (o *Orchestrator) Run(ctx context.Context, req domain.ExtractionRequest) (domain.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, domain.NewDocumentError(domain.ErrMalformedRequest, "%s", err)
	}

	workers := o.maxConcurrency()
	if workers > len(req.Documents) {
		workers = len(req.Documents)
	}

	results, _ := infra.ParallelProcess(ctx, req.Documents, workers, func(c context.Context, ref string) (domain.DocumentResult, error) {
		return o.processOne(c, ref, req), nil
	})

	return domain.BatchResult(results), nil
}

// processOne resolves one document reference, routes it under its own
// deadline, recovers from any panic at the boundary, and persists the
// result. It never returns an error: every failure mode becomes a
// populated DocumentResult.Error so a sibling document's outcome is never
// affected.
func (o *Orchestrator) processOne(ctx context.Context, ref string, req domain.ExtractionRequest) domain.DocumentResult {
	originalName := originalNameFromRef(ref)

	resolvedKey, err := o.Store.Resolve(ctx, ref)
	if err != nil {
		result := toResult(domain.DocumentResult{FileKey: ref, OriginalFileName: originalName},
			domain.WrapDocumentError(domain.ErrArtifactUnavailable, err, "resolve document reference %q", ref))
		o.persist(ctx, ref, result)
		return result
	}

	dedupeKey := o.dedupeKey(resolvedKey, req)
	if o.ResultCache != nil {
		if cached, ok := o.ResultCache.Get(dedupeKey); ok {
			return cached
		}
	}

	docCtx, cancel := context.WithTimeout(ctx, o.perDocumentTimeout())
	defer cancel()

	if o.Tracer != nil {
		var span trace.Span
		docCtx, span = o.Tracer.TraceDocumentExtraction(docCtx, resolvedKey, string(req.ParsingMode))
		defer span.End()
	}

	result := o.runWithRecovery(docCtx, resolvedKey, originalName, req)
	if docCtx.Err() == context.DeadlineExceeded {
		result = toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
			domain.NewDocumentError(domain.ErrInternalTimeout, "document processing exceeded %s", o.perDocumentTimeout()))
	}

	o.recordOutcome(req.ParsingMode, result)
	o.persist(ctx, resolvedKey, result)
	if o.ResultCache != nil && result.Error == nil {
		o.ResultCache.Put(dedupeKey, result)
	}
	return result
}

// recordOutcome increments the documents-processed counter for one
// terminal DocumentResult, when Metrics is configured.
func (o *Orchestrator) recordOutcome(mode domain.ParsingMode, result domain.DocumentResult) {
	if o.Metrics == nil {
		return
	}
	outcome := "success"
	if result.Error != nil {
		outcome = "error"
	}
	o.Metrics.DocumentsProcessed.WithLabelValues(string(mode), outcome).Inc()
}

// dedupeKey identifies a (document, attribute set, parsing mode, model)
// combination for ResultCache. Few-shots and instructions are deliberately
// excluded: they're request-shaping inputs the DedupeTTL window is meant to
// skip re-sending, not part of the document's identity.
func (o *Orchestrator) dedupeKey(resolvedKey string, req domain.ExtractionRequest) string {
	payload, err := json.Marshal(struct {
		Attributes  domain.AttributeSet
		ParsingMode domain.ParsingMode
		ModelID     string
	}{req.Attributes, req.ParsingMode, req.ModelParams.ModelID})
	if err != nil {
		return ""
	}
	return resolvedKey + "|" + string(payload)
}

// runWithRecovery converts a panic anywhere in the routed extraction path
// into a ParsingStageFailed DocumentResult instead of letting it cross the
// per-document boundary.
func (o *Orchestrator) runWithRecovery(ctx context.Context, resolvedKey, originalName string, req domain.ExtractionRequest) (result domain.DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			result = toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
				domain.NewDocumentError(domain.ErrParsingStageFailed, "internal panic: %v", r))
		}
	}()
	return o.route(ctx, resolvedKey, originalName, req)
}

// route dispatches by parsing_mode per §4.8.
func (o *Orchestrator) route(ctx context.Context, resolvedKey, originalName string, req domain.ExtractionRequest) domain.DocumentResult {
	switch req.ParsingMode {
	case domain.ParsingTextLLM:
		key := resolvedKey
		if o.OCR != nil {
			processedKey, err := o.OCR.Convert(ctx, resolvedKey, originalName)
			if err != nil {
				return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
					domain.WrapDocumentError(domain.ErrParsingStageFailed, err, "pre-stage document for text extraction"))
			}
			key = processedKey
		}
		result, err := o.Text.Extract(ctx, key, originalName, req)
		result.FileKey = resolvedKey
		return toResult(result, err)

	case domain.ParsingImageLLM:
		result, err := o.Image.Extract(ctx, resolvedKey, originalName, req)
		return toResult(result, err)

	case domain.ParsingOCRThenTextLLM:
		if o.OCR == nil {
			return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
				domain.NewDocumentError(domain.ErrParsingStageFailed, "no OCR collaborator configured for OCR_THEN_TEXT_LLM"))
		}
		processedKey, err := o.OCR.Convert(ctx, resolvedKey, originalName)
		if err != nil {
			return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
				domain.WrapDocumentError(domain.ErrParsingStageFailed, err, "ocr conversion"))
		}
		result, err := o.Text.Extract(ctx, processedKey, originalName, req)
		result.FileKey = resolvedKey
		return toResult(result, err)

	case domain.ParsingManagedIDP:
		if o.ManagedIDP == nil {
			return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
				domain.NewDocumentError(domain.ErrParsingStageFailed, "no managed IDP collaborator configured"))
		}
		idpResult, err := o.ManagedIDP.Invoke(ctx, resolvedKey, req)
		if err != nil {
			return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
				domain.WrapDocumentError(domain.ErrParsingStageFailed, err, "managed idp invocation"))
		}
		return adaptManagedIDPResult(resolvedKey, originalName, idpResult)

	default:
		return toResult(domain.DocumentResult{FileKey: resolvedKey, OriginalFileName: originalName},
			domain.NewDocumentError(domain.ErrMalformedRequest, "unknown parsing_mode %q", req.ParsingMode))
	}
}

// adaptManagedIDPResult maps the managed service's native schema onto
// DocumentResult per §4.8: answer is the service's inference_result
// verbatim, and raw_answer is synthesized in the same thinking/json shape
// C6/C7 produce so downstream audit tooling doesn't need a special case.
func adaptManagedIDPResult(resolvedKey, originalName string, idp ManagedIDPResult) domain.DocumentResult {
	answer := idp.InferenceResult
	if answer == nil {
		answer = map[string]any{}
	}
	raw := ""
	if payload, err := json.MarshalIndent(answer, "", "    "); err == nil {
		raw = fmt.Sprintf("<thinking>\n</thinking>\n<json>\n%s\n</json>\n", string(payload))
	}
	return domain.DocumentResult{
		FileKey:          resolvedKey,
		OriginalFileName: originalName,
		Answer:           answer,
		RawAnswer:        raw,
		ChunksProcessed:  1,
	}
}

// toResult merges a component's (DocumentResult, error) return into a
// single DocumentResult, converting a typed DocumentError into the wire
// ErrorInfo. C1-C7 never populate Error directly; C8 is where that
// translation happens.
func toResult(result domain.DocumentResult, err error) domain.DocumentResult {
	if err == nil {
		return result
	}
	if de, ok := domain.AsDocumentError(err); ok {
		result.Error = de.ToErrorInfo()
		return result
	}
	result.Error = &domain.ErrorInfo{Kind: domain.ErrLLMInvocationFailed, Message: err.Error()}
	return result
}

func (o *Orchestrator) persist(ctx context.Context, resolvedKey string, result domain.DocumentResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		o.warn(ctx, "marshal document result failed", "key", resolvedKey, "error", err)
		return
	}
	outputKey := artifacts.DerivedOutputKey(resolvedKey)
	if err := o.Store.Put(ctx, outputKey, payload, "application/json"); err != nil {
		o.warn(ctx, "persist document result failed", "key", outputKey, "error", err)
	}
}

func (o *Orchestrator) warn(ctx context.Context, msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Warn(ctx, msg, args...)
	}
}

func (o *Orchestrator) maxConcurrency() int {
	if o.MaxConcurrentDocuments > 0 {
		return o.MaxConcurrentDocuments
	}
	return defaultMaxConcurrentDocuments
}

func (o *Orchestrator) perDocumentTimeout() time.Duration {
	if o.PerDocumentTimeout > 0 {
		return o.PerDocumentTimeout
	}
	return defaultPerDocumentTimeout
}

// originalNameFromRef derives a human-readable file name from a raw
// document reference (bare key, s3:// URI, or URL), stripping any query or
// fragment before taking the base name.
func originalNameFromRef(ref string) string {
	clean := ref
	if idx := strings.IndexAny(clean, "?#"); idx != -1 {
		clean = clean[:idx]
	}
	return path.Base(clean)
}
