package mailagent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decisionOutput is the first model call: decide whether the agent needs
// the prior conversation to resolve references in the query.
type decisionOutput struct {
	NeedsConversationHistory bool   `json:"needs_conversation_history"`
	Reasoning                string `json:"reasoning"`
}

// actionOutput is one action-loop step. A nil Function exits the loop.
type actionOutput struct {
	Function   *string        `json:"function"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
}

// IterationRecord is one scratchpad entry. Every action-loop iteration is
// recorded, including failed function executions, so later iterations can
// see what already happened.
type IterationRecord struct {
	Iteration  int            `json:"iteration"`
	Reasoning  string         `json:"reasoning"`
	Function   string         `json:"function,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

func decisionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"needs_conversation_history": map[string]any{
				"type":        "boolean",
				"description": "Whether the agent needs to see previous conversation messages",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Brief explanation shown to the user in real time",
			},
		},
		"required":             []string{"needs_conversation_history", "reasoning"},
		"additionalProperties": false,
	}
}

func actionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"function": map[string]any{
				"type":        []string{"string", "null"},
				"description": "Mailbox function name to call, or null to exit the loop",
			},
			"parameters": map[string]any{
				"type":        []string{"object", "null"},
				"description": "Parameters for the function, or null if function is null",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "What the agent is doing now",
			},
		},
		"required":             []string{"reasoning"},
		"additionalProperties": false,
	}
}

// parseJSON decodes model output into v. Models occasionally wrap the JSON
// in prose or a code fence even under a schema constraint, so fall back to
// the outermost object.
func parseJSON(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model output")
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}

// paramAliases maps model-emitted shorthand parameter names to the names
// the mailbox functions expect.
var paramAliases = map[string]map[string]string{
	"search_emails": {
		"from": "from_addr",
		"to":   "to_addr",
	},
}

// normalizeParams rewrites shorthand parameter names. An explicit value
// under the real name always wins over an alias.
func normalizeParams(function string, params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	aliases, ok := paramAliases[function]
	if !ok {
		return params
	}
	normalized := make(map[string]any, len(params))
	for k, v := range params {
		normalized[k] = v
	}
	for shorthand, actual := range aliases {
		if v, ok := normalized[shorthand]; ok {
			if _, exists := normalized[actual]; !exists {
				normalized[actual] = v
			}
			delete(normalized, shorthand)
		}
	}
	return normalized
}

func strParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key].(bool)
	return v, ok
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
