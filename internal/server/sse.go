package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/deepthinks/deepthinks/internal/memory"
)

// sseSink renders turn envelope events as server-sent events. Writes
// happen on the request goroutine only, so no locking is needed.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Token(token, mode string) {
	s.send(map[string]any{"token": token, "mode": mode})
}

func (s *sseSink) ToolCall(toolName, mode string) {
	s.send(map[string]any{"event": "tool_call", "tool_name": toolName, "mode": mode})
}

func (s *sseSink) MemoryStats(stats memory.Stats, mode string) {
	s.send(map[string]any{"memory_stats": map[string]any{
		"buffer_size":      stats.BufferSize,
		"has_summary":      stats.HasSummary,
		"summary_entries":  stats.SummaryEntries,
		"estimated_tokens": stats.EstimatedTokens,
		"mode":             mode,
	}})
}

func (s *sseSink) Error(message, mode string) {
	s.send(map[string]any{"error": message, "mode": mode})
}

func (s *sseSink) Done(mode string) {
	s.send(map[string]any{"status": "done", "mode": mode})
}

// endOfStream is the terminal frame clients use to tear down the
// EventSource.
func (s *sseSink) endOfStream() {
	fmt.Fprint(s.w, "event: end-of-stream\ndata: {}\n\n")
	s.flusher.Flush()
}

func (s *sseSink) send(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", raw)
	s.flusher.Flush()
}
