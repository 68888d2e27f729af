package detect

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	callPattern = regexp.MustCompile(`\{\s*"tool_call"\s*:\s*"([^"]+)"\s*,\s*"query"\s*:\s*"([^"]+)"\s*\}`)
)

// TextDetector detects the free-text grammar: a response whose final
// characters form a {"tool_call": ..., "query": ...} object. Anything that
// does not cleanly match is treated as plain text, never an error.
type TextDetector struct{}

// Detect scans for the last occurrence of the call pattern. The match must
// sit at the end of the text, allowing at most two trailing characters
// (a stray period or similar). When the pattern misses, a balanced-brace
// scan from the end is tried, accepted only if it parses to exactly the
// two expected keys.
func (TextDetector) Detect(output string) Detection {
	text := strings.TrimSpace(output)

	matches := callPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) > 0 {
		last := matches[len(matches)-1]
		trailing := strings.TrimSpace(text[last[1]:])
		if len(trailing) <= 2 {
			return Detection{
				Call: &Call{
					Tool:  text[last[2]:last[3]],
					Query: text[last[4]:last[5]],
				},
				Visible: strings.TrimSpace(text[:last[0]]),
			}
		}
	}

	if call, start := braceFallback(text); call != nil {
		return Detection{Call: call, Visible: strings.TrimSpace(text[:start])}
	}

	return Detection{Visible: text}
}

// braceFallback walks backwards from a trailing '}' to its balancing '{'
// and accepts the span only if it is a two-key object with exactly the
// expected keys.
func braceFallback(text string) (*Call, int) {
	if !strings.HasSuffix(text, "}") {
		return nil, 0
	}
	braces := 0
	start := -1
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			braces++
		case '{':
			braces--
			if braces == 0 {
				start = i
			}
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return nil, 0
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text[start:]), &parsed); err != nil {
		return nil, 0
	}
	if len(parsed) != 2 {
		return nil, 0
	}
	tool, ok1 := parsed["tool_call"].(string)
	query, ok2 := parsed["query"].(string)
	if !ok1 || !ok2 {
		return nil, 0
	}
	return &Call{Tool: tool, Query: query}, start
}
