package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChatHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	for i, content := range []string{"hi", "hello there", "what's up"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := s.AppendMessage(&ChatMessage{
			UserID: "u1", SessionID: "s1", Role: role, Content: content, Mode: "default",
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	// Different session should not leak in.
	s.AppendMessage(&ChatMessage{UserID: "u1", SessionID: "s2", Role: "user", Content: "other"})

	msgs, err := s.RecentMessages("u1", "s1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[2].Content != "what's up" {
		t.Errorf("wrong order: %q ... %q", msgs[0].Content, msgs[2].Content)
	}

	// Limit trims from the front, keeping the most recent.
	msgs, err = s.RecentMessages("u1", "s1", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello there" {
		t.Errorf("limited messages = %+v", msgs)
	}
}

func TestMemoryStateUpsert(t *testing.T) {
	s := newTestStore(t)

	if _, ok, _ := s.LoadMemoryState("u1", "s1"); ok {
		t.Fatal("expected no state initially")
	}
	if err := s.SaveMemoryState("u1", "s1", `{"v":1}`); err != nil {
		t.Fatalf("SaveMemoryState: %v", err)
	}
	if err := s.SaveMemoryState("u1", "s1", `{"v":2}`); err != nil {
		t.Fatalf("SaveMemoryState upsert: %v", err)
	}
	state, ok, err := s.LoadMemoryState("u1", "s1")
	if err != nil || !ok {
		t.Fatalf("LoadMemoryState: ok=%v err=%v", ok, err)
	}
	if state != `{"v":2}` {
		t.Errorf("state = %q, want {\"v\":2}", state)
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheSearchResponse("go generics", `{"answer":"yes"}`); err != nil {
		t.Fatalf("CacheSearchResponse: %v", err)
	}
	resp, ok, err := s.CachedSearchResponse("go generics", time.Hour)
	if err != nil || !ok {
		t.Fatalf("CachedSearchResponse: ok=%v err=%v", ok, err)
	}
	if resp != `{"answer":"yes"}` {
		t.Errorf("resp = %q", resp)
	}
	// A zero max age treats everything as stale.
	if _, ok, _ := s.CachedSearchResponse("go generics", -time.Second); ok {
		t.Error("expected stale cache miss")
	}
	if _, ok, _ := s.CachedSearchResponse("unknown", time.Hour); ok {
		t.Error("expected miss for unknown query")
	}
}

func TestMailAccountLifecycle(t *testing.T) {
	s := newTestStore(t)

	if _, ok, _ := s.MailAccountFor("u1"); ok {
		t.Fatal("expected no account initially")
	}
	acct := &MailAccount{
		UserID: "u1", Email: "u1@example.com",
		AccessToken: "at", RefreshToken: "rt",
		TokenExpiry: time.Now().Add(time.Hour),
	}
	if err := s.SaveMailAccount(acct); err != nil {
		t.Fatalf("SaveMailAccount: %v", err)
	}
	got, ok, err := s.MailAccountFor("u1")
	if err != nil || !ok {
		t.Fatalf("MailAccountFor: ok=%v err=%v", ok, err)
	}
	if got.Email != "u1@example.com" || got.AccessToken != "at" {
		t.Errorf("got %+v", got)
	}
	if err := s.DeleteMailAccount("u1"); err != nil {
		t.Fatalf("DeleteMailAccount: %v", err)
	}
	if _, ok, _ := s.MailAccountFor("u1"); ok {
		t.Error("expected account gone after delete")
	}
}

func TestUserSettingsDefaults(t *testing.T) {
	s := newTestStore(t)

	u, err := s.UserSettingsFor("nobody")
	if err != nil {
		t.Fatalf("UserSettingsFor: %v", err)
	}
	if u.Temperature != 0.7 || u.TopP != 0.9 {
		t.Errorf("defaults = %+v", u)
	}

	u.Persona = "pirate"
	u.Temperature = 0.2
	if err := s.SaveUserSettings(u); err != nil {
		t.Fatalf("SaveUserSettings: %v", err)
	}
	got, err := s.UserSettingsFor("nobody")
	if err != nil {
		t.Fatalf("UserSettingsFor: %v", err)
	}
	if got.Persona != "pirate" || got.Temperature != 0.2 {
		t.Errorf("got %+v", got)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateApproval(&ApprovalRecord{
		ApprovalID: "ap1", UserID: "u1", SessionID: "s1",
		Action: "send_email", Arguments: `{"to":"a@b.c"}`,
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	r, ok, err := s.ApprovalByID("ap1")
	if err != nil || !ok {
		t.Fatalf("ApprovalByID: ok=%v err=%v", ok, err)
	}
	if r.Status != ApprovalPending {
		t.Errorf("Status = %q, want pending", r.Status)
	}
	if err := s.ResolveApproval("ap1", ApprovalApproved); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	r, _, _ = s.ApprovalByID("ap1")
	if r.Status != ApprovalApproved || r.RespondedAt == nil {
		t.Errorf("after resolve: %+v", r)
	}
	// Resolving again is a no-op: only pending rows flip.
	s.ResolveApproval("ap1", ApprovalDenied)
	r, _, _ = s.ApprovalByID("ap1")
	if r.Status != ApprovalApproved {
		t.Errorf("Status = %q, want approved to stick", r.Status)
	}
}

func TestBumpUnauthorized(t *testing.T) {
	s := newTestStore(t)

	for want := 1; want <= 3; want++ {
		got, err := s.BumpUnauthorized("anon-1")
		if err != nil {
			t.Fatalf("BumpUnauthorized: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}
	if got, _ := s.BumpUnauthorized("anon-2"); got != 1 {
		t.Errorf("separate client count = %d, want 1", got)
	}
}
