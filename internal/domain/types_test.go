package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastek/extractor/internal/domain"
)

func TestAttributeSpec_Validate(t *testing.T) {
	cases := []struct {
		name    string
		spec    domain.AttributeSpec
		wantErr bool
	}{
		{"valid auto", domain.AttributeSpec{Name: "vendor", Description: "the vendor"}, false},
		{"valid typed", domain.AttributeSpec{Name: "total", Description: "total due", Type: domain.AttributeNumber}, false},
		{"missing name", domain.AttributeSpec{Description: "no name"}, true},
		{"missing description", domain.AttributeSpec{Name: "vendor"}, true},
		{"unknown type", domain.AttributeSpec{Name: "vendor", Description: "d", Type: "currency"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.spec.Validate()
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAttributeSpec_EffectiveType(t *testing.T) {
	assert.Equal(t, domain.AttributeAuto, domain.AttributeSpec{}.EffectiveType())
	assert.Equal(t, domain.AttributeText, domain.AttributeSpec{Type: domain.AttributeText}.EffectiveType())
}

func TestAttributeSet_Validate_RejectsDuplicateNames(t *testing.T) {
	set := domain.AttributeSet{
		{Name: "vendor", Description: "a"},
		{Name: "vendor", Description: "b"},
	}
	assert.Error(t, set.Validate())
}

func TestFewShotExample_IsMultimodal(t *testing.T) {
	assert.False(t, domain.FewShotExample{Input: "x", Output: map[string]any{"a": 1}}.IsMultimodal())
	assert.True(t, domain.FewShotExample{Documents: []string{"originals/a.jpg"}, Markings: "{}"}.IsMultimodal())
}

func TestParsingMode_Valid(t *testing.T) {
	assert.True(t, domain.ParsingTextLLM.Valid())
	assert.True(t, domain.ParsingImageLLM.Valid())
	assert.True(t, domain.ParsingOCRThenTextLLM.Valid())
	assert.True(t, domain.ParsingManagedIDP.Valid())
	assert.False(t, domain.ParsingMode("NOT_A_MODE").Valid())
}

func TestExtractionRequest_Defaults(t *testing.T) {
	req := domain.ExtractionRequest{}
	assert.Equal(t, 10, req.EffectiveChunkSize())
	assert.True(t, req.EffectiveParallelChunks())

	req.ChunkSize = 25
	assert.Equal(t, 25, req.EffectiveChunkSize())

	disabled := false
	req.ParallelChunks = &disabled
	assert.False(t, req.EffectiveParallelChunks())
}

func validRequest() domain.ExtractionRequest {
	return domain.ExtractionRequest{
		Documents:   []string{"originals/doc.pdf"},
		Attributes:  domain.AttributeSet{{Name: "vendor", Description: "the vendor"}},
		ParsingMode: domain.ParsingTextLLM,
		ModelParams: domain.ModelParams{ModelID: "anthropic.claude-3-sonnet", Temperature: 0.2},
	}
}

func TestExtractionRequest_Validate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	noDocs := validRequest()
	noDocs.Documents = nil
	assert.Error(t, noDocs.Validate())

	badMode := validRequest()
	badMode.ParsingMode = "BOGUS"
	assert.Error(t, badMode.Validate())

	noModel := validRequest()
	noModel.ModelParams.ModelID = ""
	assert.Error(t, noModel.Validate())

	badTemp := validRequest()
	badTemp.ModelParams.Temperature = 1.5
	assert.Error(t, badTemp.Validate())

	badAttrs := validRequest()
	badAttrs.Attributes = domain.AttributeSet{{Name: "", Description: "d"}}
	assert.Error(t, badAttrs.Validate())
}

func TestAsDocumentError_UnwrapsWrappedErrors(t *testing.T) {
	inner := domain.NewDocumentError(domain.ErrLLMInvocationFailed, "boom")
	wrapped := errors.New("context: " + inner.Error())
	_, ok := domain.AsDocumentError(wrapped)
	assert.False(t, ok, "plain errors.New does not implement Unwrap and must not be mistaken for a DocumentError")

	de, ok := domain.AsDocumentError(inner)
	require.True(t, ok)
	assert.Equal(t, domain.ErrLLMInvocationFailed, de.Kind)
}

func TestWrapDocumentError_PreservesCauseAndKind(t *testing.T) {
	cause := errors.New("network reset")
	de := domain.WrapDocumentError(domain.ErrArtifactUnavailable, cause, "load %s", "doc.pdf")
	assert.Equal(t, domain.ErrArtifactUnavailable, de.Kind)
	assert.Same(t, cause, de.Unwrap())
	assert.Contains(t, de.Error(), "load doc.pdf")
	assert.Contains(t, de.Error(), "network reset")
}

func TestDocumentError_ToErrorInfo(t *testing.T) {
	de := domain.NewDocumentError(domain.ErrUnsupportedFormat, "unsupported extension %q", ".docx")
	info := de.ToErrorInfo()
	assert.Equal(t, domain.ErrUnsupportedFormat, info.Kind)
	assert.Contains(t, info.Message, ".docx")
}
