// Package responseparser implements C3: lenient extraction of a structured
// JSON object from a single free-form LLM reply, tolerating the minor
// deviations models routinely produce (single quotes, trailing commas,
// pretty-printed blank-line-separated keys, mismatched braces).
package responseparser

import (
	"encoding/json"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

var (
	jsonTagPattern    = regexp.MustCompile(`(?s)<json>(.*?)</json>`)
	blankLinesPattern = regexp.MustCompile(`\n\s*\n+`)
	doubleOpenBrace   = regexp.MustCompile(`\{\s*\{`)
	doubleCloseBrace  = regexp.MustCompile(`\}\s*\}`)
)

// MultipleTextBlocksError is returned by SelectTextBlock when more than one
// text-bearing content block survives filtering (§4.3, ErrMultipleTextBlocks).
type MultipleTextBlocksError struct {
	Count int
}

func (e *MultipleTextBlocksError) Error() string {
	return "multiple text blocks in provider response"
}

// Parse extracts a mapping (or list) from raw LLM output text, applying the
// recovery rules of §4.3 in order. On unrecoverable failure it returns an
// empty map and ok=false; callers decide how to surface that (C6/C7 keep
// raw_answer and set answer to {}, which is not treated as a hard error).
func Parse(raw string) (map[string]any, bool) {
	candidate := extractCandidate(raw)
	candidate = collapseBlankLines(candidate)
	candidate = ensureBrackets(candidate)
	candidate = collapseDoubledBraces(candidate)

	value, ok := lenientDecode(candidate)
	if !ok {
		return map[string]any{}, false
	}

	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case []any:
		// A bare list answer is wrapped so callers always see a map;
		// the list is preserved under a synthetic key so no data is lost.
		return map[string]any{"items": typed}, true
	default:
		return map[string]any{}, false
	}
}

// extractCandidate implements rule 1: prefer the inner content of a
// <json>...</json> pair; otherwise use the full text trimmed. The
// <thinking>...</thinking> block, if present, is left untouched in the
// caller's raw_answer and never inspected here.
func extractCandidate(raw string) string {
	if m := jsonTagPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// collapseBlankLines implements rule 2: runs of two-or-more blank lines
// become a comma, tolerating models that pretty-print an object as
// newline-separated "key: value" pairs without surrounding braces.
func collapseBlankLines(s string) string {
	return blankLinesPattern.ReplaceAllString(s, ",")
}

// ensureBrackets implements rule 3.
func ensureBrackets(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		s = "{" + s
	}
	if !strings.HasSuffix(s, "}") && !strings.HasSuffix(s, "]") {
		s = s + "}"
	}
	return s
}

// collapseDoubledBraces implements rule 4: a single collapse pass of
// doubled braces, which some models emit when asked to nest an object
// inside the already-braced response wrapper.
func collapseDoubledBraces(s string) string {
	s = doubleOpenBrace.ReplaceAllString(s, "{")
	s = doubleCloseBrace.ReplaceAllString(s, "}")
	return s
}

// lenientDecode implements rule 5: parse with a permissive literal
// evaluator that accepts single quotes and trailing commas (the JSON5
// grammar is a superset covering both), falling back to strict JSON first
// since it is the common case and cheaper to try.
func lenientDecode(s string) (any, bool) {
	if s == "" {
		return nil, false
	}

	var strict any
	if err := json.Unmarshal([]byte(s), &strict); err == nil {
		return strict, true
	}

	var lenient any
	if err := json5.Unmarshal([]byte(s), &lenient); err == nil {
		return lenient, true
	}

	return nil, false
}

// TextBlock is the minimal shape of a provider content block needed to
// pick the text-bearing one out of an interleaved reasoning+answer list.
type TextBlock struct {
	Text     string
	IsText   bool
	IsThink  bool // reasoning/thinking blocks are filtered, never selected
}

// SelectTextBlock implements §4.4's content-block selection for providers
// that return a list of typed blocks: reasoning blocks are filtered out,
// and exactly one text block must remain. Zero remaining blocks is not an
// error (the client returns empty string per §4.4); more than one is
// ErrMultipleTextBlocks.
func SelectTextBlock(blocks []TextBlock) (string, error) {
	var texts []string
	for _, b := range blocks {
		if b.IsThink || !b.IsText {
			continue
		}
		texts = append(texts, b.Text)
	}
	switch len(texts) {
	case 0:
		return "", nil
	case 1:
		return texts[0], nil
	default:
		return "", &MultipleTextBlocksError{Count: len(texts)}
	}
}
