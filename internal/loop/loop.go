// Package loop drives one user turn: stream a generation, detect a tool
// call, execute it, fold the result into a continuation prompt, and
// repeat until the model stops calling tools or the per-turn cap is hit.
package loop

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/detect"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/provider"
	"github.com/deepthinks/deepthinks/internal/store"
	"github.com/deepthinks/deepthinks/internal/tools"
)

// Response grammars. Default and reason stream free text with an optional
// trailing tool-call object; code is schema-constrained JSON.
const (
	ModeDefault = "default"
	ModeReason  = "reason"
	ModeCode    = "code"
)

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Sink receives the turn's streamed envelope events. The HTTP layer
// renders them as SSE; the CLI prints them.
type Sink interface {
	Token(token, mode string)
	ToolCall(toolName, mode string)
	MemoryStats(stats memory.Stats, mode string)
	Error(message, mode string)
	Done(mode string)
}

// Memory is the slice of the memory manager the loop uses.
type Memory interface {
	Context(userID, sessionID string) []provider.Message
	AddInteraction(ctx context.Context, userID, sessionID string, in memory.Interaction) (bool, error)
	Save(userID, sessionID string) error
	Stats(userID, sessionID string) memory.Stats
}

// History logs raw exchanges; the email sub-agent replays them. May be
// nil for ephemeral sessions.
type History interface {
	AppendMessage(m *store.ChatMessage) error
}

// Request is one user turn.
type Request struct {
	UserID    string
	SessionID string
	Prompt    string
	// Mode selects the response grammar; empty means ModeDefault.
	Mode        string
	Model       string
	Temperature float64
	TopP        float64
	// APIKey is the per-user provider key override, if any.
	APIKey   string
	UserName string
	Persona  string
}

// Result summarizes a finished turn.
type Result struct {
	Response  string
	ToolCalls int
	// Capped is true when the turn ended because the per-turn tool budget
	// was spent, not because the model finished.
	Capped bool
	Stats  memory.Stats
}

// Runner owns the generate-detect-execute-reprompt cycle.
type Runner struct {
	llm          provider.LLMProvider
	tools        *tools.Registry
	memory       Memory
	history      History
	maxToolCalls int
	logger       *slog.Logger
	clock        func() time.Time
}

// Params collects the runner's collaborators.
type Params struct {
	LLM          provider.LLMProvider
	Tools        *tools.Registry
	Memory       Memory
	History      History
	MaxToolCalls int
	Logger       *slog.Logger
}

// NewRunner creates a turn runner.
func NewRunner(p Params) *Runner {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	max := p.MaxToolCalls
	if max <= 0 {
		max = 5
	}
	return &Runner{
		llm:          p.LLM,
		tools:        p.Tools,
		memory:       p.Memory,
		history:      p.History,
		maxToolCalls: max,
		logger:       logger,
		clock:        time.Now,
	}
}

// Run executes one turn to completion. Cancellation stops emission and
// skips recording; committed tool side effects are not rolled back.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeDefault
	}

	var detector detect.Detector
	var respFormat *provider.ResponseFormat
	if mode == ModeCode {
		detector = detect.StructuredDetector{}
		respFormat = provider.JSONSchemaFormat(structuredResponseSchema())
	} else {
		detector = detect.TextDetector{}
	}

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt(mode, req.UserName, req.Persona, r.clock())},
	}
	messages = append(messages, r.memory.Context(req.UserID, req.SessionID)...)
	messages = append(messages, provider.Message{Role: "user", Content: req.Prompt})

	var (
		toolCalls     int
		capped        bool
		fullResponse  strings.Builder
		codeResponses []*detect.StructuredResponse
		inputTokens   int
		outputTokens  int
	)

	for {
		if toolCalls >= r.maxToolCalls {
			r.logger.Warn("turn hit tool-call cap", "session", req.SessionID, "max", r.maxToolCalls)
			capped = true
			break
		}

		resp, err := r.llm.ChatStream(ctx, &provider.ChatRequest{
			Messages:       messages,
			Model:          req.Model,
			MaxTokens:      10000,
			Temperature:    req.Temperature,
			TopP:           req.TopP,
			ResponseFormat: respFormat,
			APIKey:         req.APIKey,
		}, func(delta string) {
			sink.Token(delta, mode)
		})
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("turn cancelled mid-stream", "session", req.SessionID)
				return nil, ctx.Err()
			}
			sink.Error("Generation failed: "+err.Error(), mode)
			return nil, err
		}
		inputTokens += resp.Usage.PromptTokens
		outputTokens += resp.Usage.CompletionTokens

		partial := strings.TrimSpace(resp.Content)
		if partial == "" {
			r.logger.Warn("empty generation, ending turn", "session", req.SessionID)
			break
		}

		d := detector.Detect(partial)

		if mode == ModeCode {
			if d.Response == nil {
				sink.Error("Invalid JSON generated", mode)
				break
			}
			codeResponses = append(codeResponses, d.Response)
		} else {
			fullResponse.WriteString(partial)
		}

		if d.Call == nil {
			break
		}

		sink.ToolCall(d.Call.Tool, mode)
		res := r.tools.Execute(ctx, d.Call.Tool, tools.Invocation{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Query:     d.Call.Query,
		})
		if !res.Success {
			r.logger.Warn("tool failed, ending turn", "tool", d.Call.Tool, "error", res.Error)
			if mode == ModeCode {
				sink.Error("Tool execution failed: "+res.Error, mode)
			} else {
				marker := toolFailureMarker(res.Error)
				sink.Token(marker, mode)
				fullResponse.WriteString(marker)
			}
			break
		}
		toolCalls++

		resultJSON := indentJSON(res.Essential)
		if mode == ModeCode {
			callJSON := indentJSON(map[string]string{"tool_name": d.Call.Tool, "query": d.Call.Query})
			messages = append(messages,
				provider.Message{Role: "assistant", Content: partial},
				provider.Message{Role: "user", Content: codeContinuationPrompt(
					req.Prompt, indentJSON(d.Response), d.Slot.String(), callJSON, resultJSON)},
			)
			// The continuation prompt shows the call in place; the stored
			// copy has the consumed slot nulled so it never reaches the
			// merged final response.
			d.Response.ClearSlot(d.Slot)
		} else {
			callJSON := indentJSON(d.Call)
			messages = append(messages,
				provider.Message{Role: "assistant", Content: d.Visible},
				provider.Message{Role: "user", Content: continuationPrompt(
					req.Prompt, d.Visible, callJSON, resultJSON)},
			)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	final := fullResponse.String()
	if mode == ModeCode {
		final = indentJSON(detect.Merge(codeResponses))
	}

	r.record(ctx, req, mode, final, inputTokens, outputTokens)

	stats := r.memory.Stats(req.UserID, req.SessionID)
	sink.MemoryStats(stats, mode)
	sink.Done(mode)

	return &Result{Response: final, ToolCalls: toolCalls, Capped: capped, Stats: stats}, nil
}

// record appends the exchange to the chat log and the memory buffer, then
// persists memory state. Reasoning traces are stripped before they enter
// memory, but the chat log keeps the full response.
func (r *Runner) record(ctx context.Context, req Request, mode, response string, inputTokens, outputTokens int) {
	if r.history != nil {
		now := r.clock().UTC()
		for _, m := range []*store.ChatMessage{
			{UserID: req.UserID, SessionID: req.SessionID, Role: "user", Content: req.Prompt, Mode: mode, CreatedAt: now},
			{UserID: req.UserID, SessionID: req.SessionID, Role: "assistant", Content: response, Mode: mode, CreatedAt: now},
		} {
			if err := r.history.AppendMessage(m); err != nil {
				r.logger.Warn("chat history append failed", "error", err)
			}
		}
	}

	memoryResponse := response
	if mode == ModeReason {
		memoryResponse = strings.TrimSpace(thinkTagPattern.ReplaceAllString(response, ""))
	}
	if outputTokens == 0 {
		outputTokens = estimateTokens(memoryResponse)
	}
	if inputTokens == 0 {
		inputTokens = estimateTokens(req.Prompt)
	}

	if _, err := r.memory.AddInteraction(ctx, req.UserID, req.SessionID, memory.Interaction{
		Prompt:       req.Prompt,
		Response:     memoryResponse,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    r.clock().UTC(),
	}); err != nil {
		r.logger.Warn("memory update failed", "error", err)
	}
	if err := r.memory.Save(req.UserID, req.SessionID); err != nil {
		r.logger.Warn("memory save failed", "error", err)
	}
}

// estimateTokens is the fallback when the provider reports no usage.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

func indentJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// structuredResponseSchema is the code grammar's response_format schema.
func structuredResponseSchema() map[string]any {
	toolSlot := map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"tool_name": map[string]any{"type": "string"},
			"query":     map[string]any{"type": "string"},
		},
		"required": []string{"tool_name", "query"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"Text":            map[string]any{"type": []string{"string", "null"}},
			"tool_after_text": toolSlot,
			"Files": map[string]any{
				"type": []string{"array", "null"},
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tool_before_file": toolSlot,
						"FileName":         map[string]any{"type": []string{"string", "null"}},
						"FileVersion":      map[string]any{"type": []string{"string", "null"}},
						"FileCode":         map[string]any{"type": []string{"string", "null"}},
						"FileText":         map[string]any{"type": []string{"string", "null"}},
						"tool_after_file":  toolSlot,
					},
				},
			},
			"tool_before_conclusion": toolSlot,
			"Conclusion":             map[string]any{"type": []string{"string", "null"}},
		},
	}
}
