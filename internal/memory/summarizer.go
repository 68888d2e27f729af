package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepthinks/deepthinks/internal/provider"
)

const summarizerSystemPrompt = `You compress conversation history into a structured long-term summary.

Given recent interactions (and an existing summary, if any), produce JSON with:
- "interactions": one entry per distinct topic or exchange worth remembering, each with "timestamp", a concise "summary", optional "verbatim_context" (exact wording that must be preserved, e.g. names, numbers, code), and "priority_score" (0-10, how important this is to recall later).
- "important_details": persistent facts, user preferences, and commitments as short strings.

Fold the existing summary into the new one; drop nothing the user would expect you to remember. Output ONLY the JSON object.`

// summarySchema constrains the summarizer's output so both top-level keys
// are always present.
func summarySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"interactions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"timestamp":        map[string]any{"type": "string", "format": "date-time"},
						"summary":          map[string]any{"type": "string"},
						"verbatim_context": map[string]any{"type": "string"},
						"priority_score":   map[string]any{"type": "number"},
					},
					"required": []string{"timestamp", "summary"},
				},
			},
			"important_details": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"interactions", "important_details"},
	}
}

// LLMSummarizer produces long-term summaries with a schema-constrained
// generation call.
type LLMSummarizer struct {
	llm   provider.LLMProvider
	model string
}

// NewLLMSummarizer creates a summarizer using the given model. An empty
// model falls back to the provider default.
func NewLLMSummarizer(llm provider.LLMProvider, model string) *LLMSummarizer {
	return &LLMSummarizer{llm: llm, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, buffer []Interaction, existing *Summary) (*Summary, error) {
	resp, err := s.llm.Chat(ctx, &provider.ChatRequest{
		Model: s.model,
		Messages: []provider.Message{
			{Role: "system", Content: summarizerSystemPrompt},
			{Role: "user", Content: summarizerUserPrompt(buffer, existing)},
		},
		MaxTokens:      2048,
		Temperature:    0.2,
		ResponseFormat: provider.JSONSchemaFormat(summarySchema()),
	})
	if err != nil {
		return nil, fmt.Errorf("summarization call: %w", err)
	}

	var out Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("summarization output unreadable: %w", err)
	}
	if out.Interactions == nil {
		out.Interactions = []SummaryInteraction{}
	}
	if out.ImportantDetails == nil {
		out.ImportantDetails = []string{}
	}
	return &out, nil
}

func summarizerUserPrompt(buffer []Interaction, existing *Summary) string {
	var b strings.Builder
	if existing != nil {
		raw, _ := json.Marshal(existing)
		fmt.Fprintf(&b, "EXISTING SUMMARY (fold this in):\n%s\n\n", raw)
	}
	b.WriteString("RECENT INTERACTIONS TO COMPRESS:\n")
	for _, in := range buffer {
		fmt.Fprintf(&b, "[%s]\nUser: %s\nAssistant: %s\n\n",
			in.Timestamp.Format("2006-01-02T15:04:05Z07:00"), in.Prompt, in.Response)
	}
	b.WriteString("Produce the updated summary JSON now.")
	return b.String()
}
