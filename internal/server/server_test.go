package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deepthinks/deepthinks/internal/approval"
	"github.com/deepthinks/deepthinks/internal/config"
	"github.com/deepthinks/deepthinks/internal/events"
	"github.com/deepthinks/deepthinks/internal/loop"
	"github.com/deepthinks/deepthinks/internal/memory"
	"github.com/deepthinks/deepthinks/internal/store"
)

type fakeRunner struct {
	got    *loop.Request
	script func(sink loop.Sink, mode string)
}

func (f *fakeRunner) Run(ctx context.Context, req loop.Request, sink loop.Sink) (*loop.Result, error) {
	f.got = &req
	if f.script != nil {
		f.script(sink, req.Mode)
	}
	return &loop.Result{Response: "ok"}, nil
}

type fakeAccounts struct {
	settings store.UserSettings
	count    int
	bumped   []string
}

func (f *fakeAccounts) UserSettingsFor(userID string) (*store.UserSettings, error) {
	s := f.settings
	s.UserID = userID
	return &s, nil
}

func (f *fakeAccounts) BumpUnauthorized(clientID string) (int, error) {
	f.bumped = append(f.bumped, clientID)
	f.count++
	return f.count, nil
}

type fakeStats struct{ stats memory.Stats }

func (f *fakeStats) Stats(userID, sessionID string) memory.Stats { return f.stats }

func testServer(runner TurnRunner, accounts Accounts) *Server {
	return New(Params{
		Config: config.ServerConfig{AnonymousRequestLimit: 2},
		Models: config.ModelsConfig{
			Default: "model-default",
			Reason:  "model-reason",
			Code:    "model-code",
		},
		Runner:   runner,
		Accounts: accounts,
		Memory:   &fakeStats{stats: memory.Stats{BufferSize: 4, EstimatedTokens: 123}},
	})
}

func postChat(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsEnvelopeEvents(t *testing.T) {
	runner := &fakeRunner{script: func(sink loop.Sink, mode string) {
		sink.Token("Hello", mode)
		sink.Token(" world", mode)
		sink.MemoryStats(memory.Stats{BufferSize: 1}, mode)
		sink.Done(mode)
	}}
	s := testServer(runner, &fakeAccounts{settings: store.UserSettings{Temperature: 0.5, TopP: 0.8, Name: "Ada"}})

	rec := postChat(t, s, `{"session_id":"s1","query":"hi","reason":"reason"}`, map[string]string{"X-User-ID": "u1"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`"token":"Hello"`,
		`"token":" world"`,
		`"memory_stats"`,
		`"status":"done"`,
		"event: end-of-stream\ndata: {}\n\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if idx := strings.Index(body, `"status":"done"`); idx > strings.Index(body, "end-of-stream") {
		t.Error("done event must precede end-of-stream")
	}

	if runner.got.UserID != "u1" || runner.got.Mode != loop.ModeReason || runner.got.Model != "model-reason" {
		t.Errorf("runner request = %+v", runner.got)
	}
	if runner.got.Temperature != 0.5 || runner.got.UserName != "Ada" {
		t.Errorf("settings not applied: %+v", runner.got)
	}
}

func TestChatValidatesBody(t *testing.T) {
	s := testServer(&fakeRunner{}, &fakeAccounts{})

	rec := postChat(t, s, `{"session_id":"s1"}`, map[string]string{"X-User-ID": "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d", rec.Code)
	}

	rec = postChat(t, s, `not json`, map[string]string{"X-User-ID": "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", rec.Code)
	}
}

func TestAnonymousCapEnforced(t *testing.T) {
	runner := &fakeRunner{}
	accounts := &fakeAccounts{}
	s := testServer(runner, accounts)

	for i := 0; i < 2; i++ {
		rec := postChat(t, s, `{"session_id":"anon","query":"hi"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := postChat(t, s, `{"session_id":"anon","query":"hi"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", rec.Code)
	}
	if len(accounts.bumped) != 3 || accounts.bumped[0] != "anon" {
		t.Errorf("bumped = %v", accounts.bumped)
	}
}

func TestAnonymousForcedToDefaultGrammar(t *testing.T) {
	runner := &fakeRunner{}
	s := testServer(runner, &fakeAccounts{})

	postChat(t, s, `{"session_id":"anon","query":"hi","reason":"code"}`, nil)

	if runner.got.Mode != loop.ModeDefault || runner.got.Model != "model-default" {
		t.Errorf("anonymous turn = mode %q model %q", runner.got.Mode, runner.got.Model)
	}
	if runner.got.UserID != "anon" {
		t.Errorf("anonymous user id = %q", runner.got.UserID)
	}
}

func TestMemoryStatsRequiresAuth(t *testing.T) {
	s := testServer(&fakeRunner{}, &fakeAccounts{})

	req := httptest.NewRequest(http.MethodGet, "/memory-stats/s1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without auth: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/memory-stats/s1", nil)
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with auth: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"estimated_tokens":123`) {
		t.Errorf("stats body = %s", rec.Body.String())
	}
}

func TestProbesDoNotCountAsActivity(t *testing.T) {
	var paths []string
	s := testServer(&fakeRunner{}, &fakeAccounts{})
	s.activity = func(path string) { paths = append(paths, path) }

	for _, p := range []string{"/ping", "/health"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		s.ServeHTTP(httptest.NewRecorder(), req)
	}
	postChat(t, s, `{"session_id":"s1","query":"hi"}`, map[string]string{"X-User-ID": "u1"})

	if len(paths) != 1 || paths[0] != "/chat" {
		t.Errorf("activity paths = %v", paths)
	}
}

func TestCallbackHandlerDeliversApproval(t *testing.T) {
	approvals := approval.NewManager(nil)
	registry := events.NewRegistry()
	handler := CallbackHandler(approvals, registry, nil)

	id := approvals.Create(&approval.Request{UserID: "u1", SessionID: "s1", Action: "send_email"})

	result := make(chan bool, 1)
	go func() {
		approved, err := approvals.Wait(context.Background(), id)
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		result <- approved
	}()

	handler("email_tool_user_approved", map[string]any{"approval_id": id, "approved": true})

	select {
	case approved := <-result:
		if !approved {
			t.Error("approval not delivered as true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval never delivered")
	}
}

func TestCallbackHandlerResolvesAuth(t *testing.T) {
	registry := events.NewRegistry()
	handler := CallbackHandler(approval.NewManager(nil), registry, nil)

	h, err := registry.Begin("u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	handler("email_tool_auth_completed", map[string]any{"user_id": "u1", "session_id": "s1", "success": true})

	select {
	case <-h.AuthResolved():
	default:
		t.Error("auth not resolved")
	}
}

func TestCallbackHandlerCancelsOnFailedAuth(t *testing.T) {
	registry := events.NewRegistry()
	handler := CallbackHandler(approval.NewManager(nil), registry, nil)

	h, err := registry.Begin("u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	handler("email_tool_auth_completed", map[string]any{"user_id": "u1", "session_id": "s1", "success": false})

	select {
	case <-h.Cancelled():
	default:
		t.Error("run not cancelled after failed auth")
	}
}
