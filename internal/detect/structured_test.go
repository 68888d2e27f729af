package detect

import (
	"testing"
)

func TestSlotPriorityOrder(t *testing.T) {
	r := &StructuredResponse{
		ToolAfterText:        &Call{Tool: "search_web", Query: "top"},
		ToolBeforeConclusion: &Call{Tool: "search_web", Query: "conclusion"},
		Files: []File{
			{FileName: "main.go", ToolBeforeFile: &Call{Tool: "search_web", Query: "file"}},
		},
	}

	call, addr := r.FirstToolSlot()
	if call.Query != "top" || addr.Field != SlotAfterText {
		t.Errorf("got %+v at %v, want top-level slot first", call, addr)
	}

	r.ClearSlot(addr)
	call, addr = r.FirstToolSlot()
	if call.Query != "conclusion" || addr.Field != SlotBeforeConclusion {
		t.Errorf("got %+v at %v, want pre-conclusion slot second", call, addr)
	}

	r.ClearSlot(addr)
	call, addr = r.FirstToolSlot()
	if call.Query != "file" || addr.Field != SlotBeforeFile || addr.FileIndex != 0 {
		t.Errorf("got %+v at %v, want file slot third", call, addr)
	}
	if addr.String() != "Files[0].tool_before_file" {
		t.Errorf("address = %q", addr.String())
	}

	r.ClearSlot(addr)
	if call, _ := r.FirstToolSlot(); call != nil {
		t.Errorf("expected no slots left, got %+v", call)
	}
}

func TestFileSlotsScanInFileOrder(t *testing.T) {
	r := &StructuredResponse{
		Files: []File{
			{FileName: "a.go", ToolAfterFile: &Call{Tool: "search_web", Query: "after-a"}},
			{FileName: "b.go", ToolBeforeFile: &Call{Tool: "search_web", Query: "before-b"}},
		},
	}
	call, addr := r.FirstToolSlot()
	if call.Query != "after-a" || addr.Field != SlotAfterFile || addr.FileIndex != 0 {
		t.Errorf("got %+v at %v", call, addr)
	}
}

func TestStructuredDetectorParsesAndAddresses(t *testing.T) {
	d := StructuredDetector{}
	det := d.Detect(`{
		"Text": "Here is the plan",
		"tool_after_text": {"tool_name": "search_web", "query": "gin examples"},
		"Files": []
	}`)
	if det.Call == nil || det.Call.Query != "gin examples" {
		t.Fatalf("call = %+v", det.Call)
	}
	if det.Slot == nil || det.Slot.Field != SlotAfterText {
		t.Errorf("slot = %+v", det.Slot)
	}
	if det.Visible != "Here is the plan" {
		t.Errorf("visible = %q", det.Visible)
	}
	if det.Response == nil {
		t.Error("expected parsed response")
	}
}

func TestStructuredDetectorMalformedIsNoCall(t *testing.T) {
	d := StructuredDetector{}
	det := d.Detect("not json at all")
	if det.Call != nil || det.Response != nil {
		t.Errorf("det = %+v", det)
	}
	if det.Visible != "not json at all" {
		t.Errorf("visible = %q", det.Visible)
	}
}

func TestMergeKeepLastNonNull(t *testing.T) {
	first := &StructuredResponse{
		Text:          "initial text",
		ToolAfterText: &Call{Tool: "search_web", Query: "q1"},
		Files:         []File{{FileName: "a.go", FileCode: "package a"}},
	}
	second := &StructuredResponse{
		Files:      []File{{FileName: "b.go", FileCode: "package b"}},
		Conclusion: "done",
	}
	third := &StructuredResponse{
		Text: "revised text",
	}

	m := Merge([]*StructuredResponse{first, second, third})
	if m.Text != "revised text" {
		t.Errorf("Text = %q, want last non-null", m.Text)
	}
	if m.Conclusion != "done" {
		t.Errorf("Conclusion = %q", m.Conclusion)
	}
	// Files concatenate rather than overwrite.
	if len(m.Files) != 2 || m.Files[0].FileName != "a.go" || m.Files[1].FileName != "b.go" {
		t.Errorf("Files = %+v", m.Files)
	}
	// Tool fields survive the merge for history.
	if m.ToolAfterText == nil || m.ToolAfterText.Query != "q1" {
		t.Errorf("ToolAfterText = %+v", m.ToolAfterText)
	}
}

func TestMergeSkipsNil(t *testing.T) {
	m := Merge([]*StructuredResponse{nil, {Text: "only"}, nil})
	if m.Text != "only" {
		t.Errorf("Text = %q", m.Text)
	}
}
