// Package providers wraps external text-generation capabilities behind
// a single interface, with per-provider rate limiting and a model
// registry that carries pricing for cost governance.
package providers

import (
	"context"
	"fmt"
	"time"
)

// GenerateRequest asks a provider to write one section for one term.
type GenerateRequest struct {
	// TermName is the glossary term being enriched.
	TermName string
	// Section is the catalogue section to write.
	Section string
	// InputText is optional source material (existing definition etc.).
	InputText string

	// Model is the resolved upstream model name.
	Model string

	// Generation parameters
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// GenerateResult is the outcome of one generation call.
type GenerateResult struct {
	OutputText string

	InputTokens  int
	OutputTokens int

	Provider string
	Model    string
	CostUSD  float64

	ExecutionTime time.Duration
}

// Generator is the opaque generation capability: input text and
// configuration in, generated text plus a token-usage report out.
type Generator interface {
	// Name returns the provider identifier (e.g. "openai", "mock").
	Name() string

	// Generate performs one generation call. It must respect context
	// cancellation; a timed-out call is the caller's per-unit failure.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// minContentLength guards against degenerate outputs: responses at or
// below this length are treated as failures so they re-queue.
const minContentLength = 10

// BuildPrompt renders the standard section prompt for a term.
func BuildPrompt(termName, section, inputText string) string {
	prompt := fmt.Sprintf(
		"You are an AI/ML educational content assistant. For the term %q, "+
			"please write only the content for this section:\n\n%q\n\n"+
			"Do not include any extra headings or formatting, just the prose, "+
			"concise enough to fit in one spreadsheet cell.",
		termName, section,
	)
	if inputText != "" {
		prompt += fmt.Sprintf("\n\nExisting material to stay consistent with:\n%s", inputText)
	}
	return prompt
}

// SystemPrompt is the shared system message for generation calls.
const SystemPrompt = "You are an AI/ML educational content assistant."
