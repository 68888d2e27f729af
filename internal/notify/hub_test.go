package notify

import (
	"sync"
	"testing"
	"time"
)

type recordingMirror struct {
	mu     sync.Mutex
	events []Event
}

func (m *recordingMirror) Mirror(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestEmitReachesRoomSubscribersOnly(t *testing.T) {
	h := NewHub(nil)

	var got []Event
	unsub := h.Subscribe("room-a", func(ev Event) { got = append(got, ev) })
	defer unsub()
	h.Subscribe("room-b", func(ev Event) { t.Error("wrong room notified") })

	h.Emit("room-a", "email_tool_progress", map[string]any{"iteration": 2})

	if len(got) != 1 || got[0].Name != "email_tool_progress" {
		t.Errorf("got = %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	unsub := h.Subscribe("r", func(Event) { calls++ })

	h.Emit("r", "e", nil)
	unsub()
	h.Emit("r", "e", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEmitToEmptyRoomIsSilent(t *testing.T) {
	h := NewHub(nil)
	h.Emit("nobody-here", "e", nil) // must not panic
}

func TestMirrorsReceiveEveryEvent(t *testing.T) {
	m := &recordingMirror{}
	h := NewHub(nil, m)

	h.Emit("r1", "a", nil)
	h.Emit("r2", "b", nil)

	deadline := time.Now().Add(2 * time.Second)
	for m.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.count() != 2 {
		t.Errorf("mirrored = %d, want 2", m.count())
	}
}
