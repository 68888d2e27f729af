package detect

import (
	"encoding/json"
	"fmt"
)

// StructuredResponse is the schema-constrained object the model emits in
// code mode. Tool slots are pointers so an absent slot and a filled slot
// are distinguishable; the generator nulls slots out as they are consumed.
type StructuredResponse struct {
	Text                 string `json:"Text,omitempty"`
	ToolAfterText        *Call  `json:"tool_after_text,omitempty"`
	Files                []File `json:"Files,omitempty"`
	ToolBeforeConclusion *Call  `json:"tool_before_conclusion,omitempty"`
	Conclusion           string `json:"Conclusion,omitempty"`
}

// File is one generated file within a structured response.
type File struct {
	ToolBeforeFile *Call  `json:"tool_before_file,omitempty"`
	FileName       string `json:"FileName,omitempty"`
	FileVersion    string `json:"FileVersion,omitempty"`
	FileCode       string `json:"FileCode,omitempty"`
	FileText       string `json:"FileText,omitempty"`
	ToolAfterFile  *Call  `json:"tool_after_file,omitempty"`
}

// Slot names for the structural address of a tool slot.
const (
	SlotAfterText        = "tool_after_text"
	SlotBeforeConclusion = "tool_before_conclusion"
	SlotBeforeFile       = "tool_before_file"
	SlotAfterFile        = "tool_after_file"
)

// SlotAddress identifies which tool slot a call came from, so the loop can
// null it out before the next generation.
type SlotAddress struct {
	Field string
	// FileIndex is meaningful only for the per-file slots.
	FileIndex int
}

func (a SlotAddress) String() string {
	switch a.Field {
	case SlotBeforeFile, SlotAfterFile:
		return fmt.Sprintf("Files[%d].%s", a.FileIndex, a.Field)
	default:
		return a.Field
	}
}

// FirstToolSlot scans the slots in fixed priority order and returns the
// first filled one with its address: the top-level slot, then the
// pre-conclusion slot, then the per-file slots in file order.
func (r *StructuredResponse) FirstToolSlot() (*Call, *SlotAddress) {
	if r.ToolAfterText != nil {
		return r.ToolAfterText, &SlotAddress{Field: SlotAfterText}
	}
	if r.ToolBeforeConclusion != nil {
		return r.ToolBeforeConclusion, &SlotAddress{Field: SlotBeforeConclusion}
	}
	for i := range r.Files {
		if r.Files[i].ToolBeforeFile != nil {
			return r.Files[i].ToolBeforeFile, &SlotAddress{Field: SlotBeforeFile, FileIndex: i}
		}
		if r.Files[i].ToolAfterFile != nil {
			return r.Files[i].ToolAfterFile, &SlotAddress{Field: SlotAfterFile, FileIndex: i}
		}
	}
	return nil, nil
}

// ClearSlot nulls out the addressed slot. Out-of-range addresses are a
// no-op.
func (r *StructuredResponse) ClearSlot(addr *SlotAddress) {
	if addr == nil {
		return
	}
	switch addr.Field {
	case SlotAfterText:
		r.ToolAfterText = nil
	case SlotBeforeConclusion:
		r.ToolBeforeConclusion = nil
	case SlotBeforeFile:
		if addr.FileIndex < len(r.Files) {
			r.Files[addr.FileIndex].ToolBeforeFile = nil
		}
	case SlotAfterFile:
		if addr.FileIndex < len(r.Files) {
			r.Files[addr.FileIndex].ToolAfterFile = nil
		}
	}
}

// Merge folds a sequence of structured responses into one, keeping the
// last non-null value per field and concatenating Files instead of
// overwriting them.
func Merge(responses []*StructuredResponse) *StructuredResponse {
	merged := &StructuredResponse{}
	for _, r := range responses {
		if r == nil {
			continue
		}
		if r.Text != "" {
			merged.Text = r.Text
		}
		if r.ToolAfterText != nil {
			merged.ToolAfterText = r.ToolAfterText
		}
		if r.ToolBeforeConclusion != nil {
			merged.ToolBeforeConclusion = r.ToolBeforeConclusion
		}
		if r.Conclusion != "" {
			merged.Conclusion = r.Conclusion
		}
		merged.Files = append(merged.Files, r.Files...)
	}
	return merged
}

// StructuredDetector detects tool calls in the structured grammar: the raw
// response is parsed as JSON and the tool slots are scanned in priority
// order. Unparseable output is treated as "no tool call" with the raw text
// passed through.
type StructuredDetector struct{}

func (StructuredDetector) Detect(output string) Detection {
	var r StructuredResponse
	if err := json.Unmarshal([]byte(output), &r); err != nil {
		return Detection{Visible: output}
	}
	call, addr := r.FirstToolSlot()
	return Detection{
		Call:     call,
		Visible:  r.Text,
		Slot:     addr,
		Response: &r,
	}
}
