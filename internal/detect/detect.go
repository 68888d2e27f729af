// Package detect implements tool-call detection over the two response
// grammars: free-form text ending in a two-field call object, and a
// schema-constrained structured object with fixed tool slots.
package detect

import "encoding/json"

// Call is a detected tool invocation request.
type Call struct {
	Tool  string `json:"tool_call"`
	Query string `json:"query"`
}

// UnmarshalJSON accepts both grammars' key for the tool name: the text
// grammar writes "tool_call", the structured slots write "tool_name".
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw struct {
		ToolCall string `json:"tool_call"`
		ToolName string `json:"tool_name"`
		Query    string `json:"query"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Tool = raw.ToolCall
	if c.Tool == "" {
		c.Tool = raw.ToolName
	}
	c.Query = raw.Query
	return nil
}

// Detection is the result of scanning one accumulated model response.
type Detection struct {
	// Call is nil when the response contains no tool call.
	Call *Call
	// Visible is the user-facing text preceding the call. For a response
	// without a call it is the full text.
	Visible string
	// Slot is the structural address of the consumed tool slot. Set only
	// by the structured detector.
	Slot *SlotAddress
	// Response is the parsed structured object. Set only by the
	// structured detector.
	Response *StructuredResponse
}

// Detector scans a raw model response for a tool call. One implementation
// exists per grammar; the continuation loop is grammar-agnostic.
type Detector interface {
	Detect(output string) Detection
}
