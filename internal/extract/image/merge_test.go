package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeChunkAnswers_FirstAssignment(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"name": "Alice"},
	})
	assert.Equal(t, map[string]any{"name": "Alice"}, got)
}

func TestMergeChunkAnswers_ArrayConcat(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"pages": []any{1.0}},
		{"pages": []any{11.0}},
		{"pages": []any{21.0}},
	})
	assert.Equal(t, []any{1.0, 11.0, 21.0}, got["pages"])
}

func TestMergeChunkAnswers_ScalarScalarPromotesToArray(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"total": "100"},
		{"total": "200"},
	})
	assert.Equal(t, []any{"100", "200"}, got["total"])
}

func TestMergeChunkAnswers_ArrayThenScalarAppends(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"items": []any{"a", "b"}},
		{"items": "c"},
	})
	assert.Equal(t, []any{"a", "b", "c"}, got["items"])
}

func TestMergeChunkAnswers_ScalarThenArrayPrepends(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"items": "z"},
		{"items": []any{"y", "x"}},
	})
	assert.Equal(t, []any{"z", "y", "x"}, got["items"])
}

func TestMergeChunkAnswers_NonObjectChunksContributeNothing(t *testing.T) {
	got := mergeChunkAnswers([]map[string]any{
		{"name": "Alice"},
		{}, // parse failure sentinel
		{"age": "30"},
	})
	assert.Equal(t, map[string]any{"name": "Alice", "age": "30"}, got)
}

func TestMergeChunkAnswers_DeterministicInSourceOrder(t *testing.T) {
	chunks := []map[string]any{
		{"pages": []any{1.0}},
		{"pages": []any{11.0}},
		{"pages": []any{21.0}},
	}
	first := mergeChunkAnswers(chunks)
	for i := 0; i < 100; i++ {
		got := mergeChunkAnswers(chunks)
		assert.Equal(t, first, got, "merge must be a pure function of the ordered chunk slice")
	}
}

func TestConcatRawAnswers_OneBasedChunkHeaders(t *testing.T) {
	got := concatRawAnswers([]string{"first", "second", "Error: boom"})
	assert.Equal(t, "CHUNK 1:\nfirst\nCHUNK 2:\nsecond\nCHUNK 3:\nError: boom\n", got)
}
