// Package promptcompose implements C2: assembly of the system and user
// prompts from a base template, optional few-shot examples, optional
// document-level instructions, and the caller's attribute specs.
package promptcompose

import (
	"embed"
	"fmt"
	"strings"

	"github.com/jastek/extractor/internal/domain"
)

//go:embed templates/*.txt
var templatesFS embed.FS

const (
	attributesSentinel       = "Attributes to be extracted:"
	instructionsPlaceholder  = "<document_level_instructions_placeholder>"
	instructionsPlaceholderLine = "\n" + instructionsPlaceholder + "\n"
)

func mustReadTemplate(name string) (string, error) {
	data, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("load prompt template %s: %w", name, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("prompt template %s is empty", name)
	}
	return content, nil
}

// LoadSystemPrompt loads the fixed system prompt. A missing or empty file is
// a fatal configuration error, not a runtime one.
func LoadSystemPrompt() (string, error) {
	return mustReadTemplate("system_prompt.txt")
}

// Composed is the result of Build: the filled-in-later template string plus
// the list of variable names it still expects via Fill.
type Composed struct {
	Template  string
	Variables []string
}

// Build assembles the user-prompt template: header + N few-shot blocks +
// tail, with the instructions marker substituted or removed. Returns the
// unfilled template (still containing {document}, {attributes}, and
// per-few-shot placeholders) and the list of variable names the caller must
// supply to Fill.
func Build(fewShots []domain.FewShotExample, instructions string) (Composed, error) {
	base, err := mustReadTemplate("prompt.txt")
	if err != nil {
		return Composed{}, err
	}
	fewShotBlock, err := mustReadTemplate("few_shot.txt")
	if err != nil {
		return Composed{}, err
	}

	idx := strings.Index(base, attributesSentinel)
	if idx == -1 {
		return Composed{}, fmt.Errorf("invalid prompt template: sentinel %q not found", attributesSentinel)
	}
	header := strings.TrimRight(base[:idx], " \t\n")
	tail := base[idx:]

	variables := []string{"document", "attributes"}

	var sb strings.Builder
	sb.WriteString(header)
	for i, shot := range fewShots {
		if shot.IsMultimodal() {
			// Multimodal few-shots bypass textual substitution entirely: the
			// Image Extractor inserts image content directly and this
			// component only needs to know the document/attributes
			// variables exist downstream.
			continue
		}
		inputKey := fmt.Sprintf("few_shot_input_%d", i)
		outputKey := fmt.Sprintf("few_shot_output_%d", i)
		block := strings.ReplaceAll(fewShotBlock, "{few_shot_input_PLACEHOLDER}", "{"+inputKey+"}")
		block = strings.ReplaceAll(block, "{few_shot_output_PLACEHOLDER}", "{"+outputKey+"}")
		sb.WriteString("\n")
		sb.WriteString(block)
		variables = append(variables, inputKey, outputKey)
	}
	sb.WriteString("\n")
	sb.WriteString(tail)

	prompt := sb.String()
	if strings.TrimSpace(instructions) != "" {
		instructionsBlock, err := mustReadTemplate("instructions.txt")
		if err != nil {
			return Composed{}, err
		}
		prompt = strings.ReplaceAll(prompt, instructionsPlaceholder, strings.TrimRight(instructionsBlock, "\n"))
		variables = append(variables, "instructions")
	} else {
		prompt = strings.ReplaceAll(prompt, instructionsPlaceholderLine, "\n")
		prompt = strings.ReplaceAll(prompt, instructionsPlaceholder, "")
	}

	return Composed{Template: prompt, Variables: variables}, nil
}

// RenderAttributes serializes an AttributeSet as the numbered list the
// template's {attributes} variable expects, including the optional type
// constraint when Type != auto.
func RenderAttributes(specs domain.AttributeSet) string {
	var sb strings.Builder
	for i, spec := range specs {
		fmt.Fprintf(&sb, "%d. %s: %s", i+1, spec.Name, spec.Description)
		if t := spec.EffectiveType(); t != domain.AttributeAuto {
			fmt.Fprintf(&sb, " (must be %s).", strings.ToLower(string(t)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Fill substitutes all named variables into template. Callers supply the
// exact variable set Build returned (minus any that don't apply, such as
// instructions when none were given).
func Fill(template string, variables map[string]string) string {
	filled := template
	for name, value := range variables {
		filled = strings.ReplaceAll(filled, "{"+name+"}", value)
	}
	return filled
}
