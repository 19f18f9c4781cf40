package image

import "fmt"

// mergeChunkAnswers folds per-chunk parsed objects into one object per §4.7's
// merge semantics, in page order regardless of completion order. Non-object
// results contribute nothing.
func mergeChunkAnswers(chunks []map[string]any) map[string]any {
	acc := map[string]any{}
	for _, chunk := range chunks {
		for key, value := range chunk {
			existing, present := acc[key]
			if !present {
				acc[key] = value
				continue
			}
			acc[key] = foldValue(existing, value)
		}
	}
	return acc
}

func foldValue(acc, next any) any {
	accArr, accIsArr := acc.([]any)
	nextArr, nextIsArr := next.([]any)

	switch {
	case accIsArr && nextIsArr:
		return append(append([]any{}, accArr...), nextArr...)
	case !accIsArr && !nextIsArr:
		return []any{acc, next}
	case accIsArr && !nextIsArr:
		return append(append([]any{}, accArr...), next)
	default: // !accIsArr && nextIsArr
		return append([]any{acc}, nextArr...)
	}
}

// concatRawAnswers joins per-chunk raw model text with a "CHUNK i:" header
// separator, 1-based per §4.7.
func concatRawAnswers(raw []string) string {
	var out string
	for i, text := range raw {
		out += fmt.Sprintf("CHUNK %d:\n%s\n", i+1, text)
	}
	return out
}
