package orchestrator

import (
	"context"

	"github.com/jastek/extractor/internal/domain"
)

// DocumentExtractor is satisfied by both C6 (text) and C7 (image); the
// orchestrator only ever needs their shared Extract contract.
type DocumentExtractor interface {
	Extract(ctx context.Context, fileKey, originalFileName string, req domain.ExtractionRequest) (domain.DocumentResult, error)
}

// OCRStage is the external collaborator behind TEXT_LLM pre-staging and
// OCR_THEN_TEXT_LLM: it normalizes a raw document (Amazon Textract, or an
// office-to-text converter for docx/xlsx/etc.) and writes the result to
// processed/<name>.txt, returning that key. The core never implements OCR
// itself per §1's explicit out-of-scope list.
type OCRStage interface {
	Convert(ctx context.Context, fileKey, originalFileName string) (processedKey string, err error)
}

// ManagedIDPResult is the managed service's native response, prior to being
// adapted into a DocumentResult.
type ManagedIDPResult struct {
	// InferenceResult becomes DocumentResult.Answer verbatim.
	InferenceResult map[string]any
	// OutputsKey is the opaque bda-outputs/... key the service wrote, if any.
	OutputsKey string
}

// ManagedIDPClient is the external collaborator behind MANAGED_IDP: a
// fully-managed extraction service (Bedrock Data Automation) that performs
// its own parsing and inference out of process.
type ManagedIDPClient interface {
	Invoke(ctx context.Context, fileKey string, req domain.ExtractionRequest) (ManagedIDPResult, error)
}
