package detect

import (
	"strings"
	"testing"
)

func TestTextDetectorCallAtEnd(t *testing.T) {
	d := TextDetector{}
	out := `Let me check the weather for you {"tool_call": "search_web", "query": "weather in Karachi"}`
	det := d.Detect(out)
	if det.Call == nil {
		t.Fatal("expected a call")
	}
	if det.Call.Tool != "search_web" || det.Call.Query != "weather in Karachi" {
		t.Errorf("call = %+v", det.Call)
	}
	if det.Visible != "Let me check the weather for you" {
		t.Errorf("visible = %q", det.Visible)
	}
}

func TestTextDetectorAllowsShortTrailing(t *testing.T) {
	d := TextDetector{}
	// A single trailing period after the object is tolerated.
	det := d.Detect(`Checking {"tool_call": "search_web", "query": "go 1.24 release notes"}.`)
	if det.Call == nil {
		t.Fatal("expected a call with one trailing char")
	}

	// Three trailing characters push the object out of terminal position.
	det = d.Detect(`Checking {"tool_call": "search_web", "query": "go 1.24 release notes"}abc`)
	if det.Call != nil {
		t.Errorf("expected no call with 3 trailing chars, got %+v", det.Call)
	}
}

func TestTextDetectorLastOccurrenceWins(t *testing.T) {
	d := TextDetector{}
	out := `Earlier I ran {"tool_call": "search_web", "query": "first"} and now ` +
		`{"tool_call": "search_web", "query": "second"}`
	det := d.Detect(out)
	if det.Call == nil || det.Call.Query != "second" {
		t.Errorf("call = %+v, want query second", det.Call)
	}
	if !strings.Contains(det.Visible, "first") {
		t.Errorf("visible should keep the earlier object verbatim: %q", det.Visible)
	}
}

func TestTextDetectorBraceFallback(t *testing.T) {
	d := TextDetector{}
	// Extra whitespace and field order break the strict pattern but the
	// trailing balanced span still parses to exactly the two keys.
	out := "On it.\n{\"query\": \"rust vs go\",\n  \"tool_call\": \"search_web\"}"
	det := d.Detect(out)
	if det.Call == nil {
		t.Fatal("expected fallback detection")
	}
	if det.Call.Tool != "search_web" || det.Call.Query != "rust vs go" {
		t.Errorf("call = %+v", det.Call)
	}
	if det.Visible != "On it." {
		t.Errorf("visible = %q", det.Visible)
	}
}

func TestTextDetectorRejectsExtraKeys(t *testing.T) {
	d := TextDetector{}
	det := d.Detect(`{"tool_call": "search_web", "query": "x", "extra": 1}`)
	if det.Call != nil {
		t.Errorf("expected rejection of three-key object, got %+v", det.Call)
	}
}

func TestTextDetectorMalformedIsNoCall(t *testing.T) {
	d := TextDetector{}
	for _, out := range []string{
		"",
		"plain answer with no tool call",
		`{"tool_call": "search_web", "query": }`,
		`broken {"tool_call" "search_web"}`,
		"unbalanced }}}",
	} {
		det := d.Detect(out)
		if det.Call != nil {
			t.Errorf("Detect(%q) found a call: %+v", out, det.Call)
		}
		if det.Visible != strings.TrimSpace(out) {
			t.Errorf("Detect(%q) visible = %q", out, det.Visible)
		}
	}
}
