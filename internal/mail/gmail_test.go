package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deepthinks/deepthinks/internal/store"
)

func testMailbox(t *testing.T, handler http.Handler) (*gmailMailbox, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.New(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	acct := &store.MailAccount{
		UserID:      "u1",
		Email:       "u1@example.com",
		AccessToken: "tok",
		TokenExpiry: time.Now().Add(time.Hour),
	}
	if err := st.SaveMailAccount(acct); err != nil {
		t.Fatal(err)
	}

	svc := NewService(st, "cid", "secret", nil)
	return &gmailMailbox{
		svc:        svc,
		acct:       acct,
		httpClient: srv.Client(),
		apiBase:    srv.URL,
		tokenURL:   srv.URL + "/token",
	}, srv
}

func TestProviderQuery(t *testing.T) {
	unread := true
	q := SearchQuery{
		FromAddr:  "boss@corp.com",
		Subject:   "quarterly report",
		IsUnread:  &unread,
		DateAfter: "2026-08-01",
		Query:     "has:attachment",
	}
	got := providerQuery(q)
	want := "from:boss@corp.com subject:quarterly report is:unread after:2026-08-01 has:attachment"
	if got != want {
		t.Errorf("providerQuery = %q, want %q", got, want)
	}

	if got := providerQuery(SearchQuery{}); got != "" {
		t.Errorf("empty query = %q", got)
	}

	read := false
	if got := providerQuery(SearchQuery{IsUnread: &read}); got != "is:read" {
		t.Errorf("is:read query = %q", got)
	}
}

func TestSearchEmailsFetchesMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "from%3Aboss") {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"messages": [{"id": "m1"}, {"id": "m2"}]}`)
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/messages/")
		fmt.Fprintf(w, `{
			"id": "%s",
			"snippet": "snippet of %s",
			"payload": {"headers": [
				{"name": "From", "value": "boss@corp.com"},
				{"name": "Subject", "value": "hello"},
				{"name": "Date", "value": "Mon, 24 Aug 2026"}
			]}
		}`, id, id)
	})

	mb, _ := testMailbox(t, mux)
	got, err := mb.SearchEmails(context.Background(), SearchQuery{FromAddr: "boss@corp.com"})
	if err != nil {
		t.Fatalf("SearchEmails: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d emails", len(got))
	}
	if got[0].ID != "m1" || got[0].Subject != "hello" || got[0].Snippet != "snippet of m1" {
		t.Errorf("got[0] = %+v", got[0])
	}
}

func TestReadEmailExtractsPlainTextPart(t *testing.T) {
	enc := func(s string) string {
		return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(s))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "m1",
			"snippet": "snip",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers":  []map[string]string{{"name": "Subject", "value": "s"}},
				"parts": []map[string]any{
					{"mimeType": "text/html", "body": map[string]string{"data": enc("<b>html</b>")}},
					{"mimeType": "text/plain", "body": map[string]string{"data": enc("plain body")}},
				},
			},
		})
	})

	mb, _ := testMailbox(t, mux)
	email, err := mb.ReadEmail(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ReadEmail: %v", err)
	}
	if email.Body != "plain body" {
		t.Errorf("Body = %q", email.Body)
	}
}

func TestSendEmailBuildsRawMessage(t *testing.T) {
	var raw string
	mux := http.NewServeMux()
	mux.HandleFunc("/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Raw string `json:"raw"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		raw = payload.Raw
		fmt.Fprint(w, `{"id": "sent-1"}`)
	})

	mb, _ := testMailbox(t, mux)
	id, err := mb.SendEmail(context.Background(), "a@b.c", "Hi", "body text")
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if id != "sent-1" {
		t.Errorf("id = %q", id)
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(raw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	msg := string(decoded)
	if !strings.Contains(msg, "To: a@b.c") || !strings.Contains(msg, "Subject: Hi") || !strings.HasSuffix(msg, "body text") {
		t.Errorf("raw message = %q", msg)
	}
}

func TestExpiredTokenRefreshes(t *testing.T) {
	refreshed := false
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		refreshed = true
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		fmt.Fprint(w, `{"access_token": "fresh", "expires_in": 3600}`)
	})
	mux.HandleFunc("/labels", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"labels": [{"id": "INBOX", "name": "INBOX"}]}`)
	})

	mb, _ := testMailbox(t, mux)
	mb.acct.TokenExpiry = time.Now().Add(-time.Minute)
	mb.acct.RefreshToken = "rt"

	labels, err := mb.ListLabels(context.Background())
	if err != nil {
		t.Fatalf("ListLabels: %v", err)
	}
	if !refreshed {
		t.Error("token endpoint never called")
	}
	if len(labels) != 1 || labels[0].ID != "INBOX" {
		t.Errorf("labels = %+v", labels)
	}
}

func TestConnectedPredicate(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	svc := NewService(st, "", "", nil)

	if svc.Connected("u1") {
		t.Error("Connected true before any account saved")
	}
	st.SaveMailAccount(&store.MailAccount{UserID: "u1", Email: "e", AccessToken: "t", TokenExpiry: time.Now()})
	if !svc.Connected("u1") {
		t.Error("Connected false after account saved")
	}
}
