package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deepthinks/deepthinks/internal/store"
)

type fakeSearchLogs struct {
	logged []store.SearchLog
	cache  map[string]string
}

func (f *fakeSearchLogs) LogSearchResult(l *store.SearchLog) error {
	f.logged = append(f.logged, *l)
	return nil
}

func (f *fakeSearchLogs) CacheSearchResponse(query, response string) error {
	if f.cache == nil {
		f.cache = map[string]string{}
	}
	f.cache[query] = response
	return nil
}

func (f *fakeSearchLogs) CachedSearchResponse(query string, maxAge time.Duration) (string, bool, error) {
	resp, ok := f.cache[query]
	return resp, ok, nil
}

func searchServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		long := strings.Repeat("x", 500)
		fmt.Fprintf(w, `{
			"query": "q",
			"answer": "the answer",
			"results": [
				{"title": "r1", "url": "https://a.example", "content": "%s"},
				{"title": "r2", "url": "https://b.example", "content": "short"},
				{"title": "r3", "url": "https://c.example", "content": "third"},
				{"title": "r4", "url": "https://d.example", "content": "fourth"}
			]
		}`, long)
	}))
}

func TestSearchWebEssentialProjection(t *testing.T) {
	srv := searchServer(t, nil)
	defer srv.Close()

	logs := &fakeSearchLogs{}
	tool := NewSearchWebTool("key", srv.URL, 3, 300, logs, nil)
	res, err := tool.Execute(context.Background(), Invocation{UserID: "u", SessionID: "s", Query: "anything"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("failed: %s", res.Error)
	}
	if res.Essential["answer"] != "the answer" {
		t.Errorf("answer = %v", res.Essential["answer"])
	}
	results := res.Essential["results"].([]map[string]any)
	if len(results) != 3 {
		t.Fatalf("projected %d results, want 3", len(results))
	}
	if got := results[0]["content"].(string); len(got) != 300 {
		t.Errorf("content length = %d, want capped at 300", len(got))
	}
	// No URLs in the projection; they go to the log instead.
	if _, ok := results[0]["url"]; ok {
		t.Error("projection should not carry urls")
	}
	if len(logs.logged) != 4 {
		t.Errorf("logged %d urls, want all 4", len(logs.logged))
	}
	if logs.logged[3].URL != "https://d.example" {
		t.Errorf("logged[3] = %+v", logs.logged[3])
	}
}

func TestSearchWebUsesCache(t *testing.T) {
	hits := 0
	srv := searchServer(t, &hits)
	defer srv.Close()

	logs := &fakeSearchLogs{}
	tool := NewSearchWebTool("key", srv.URL, 3, 300, logs, nil)
	inv := Invocation{UserID: "u", SessionID: "s", Query: "same query"}

	if _, err := tool.Execute(context.Background(), inv); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Execute(context.Background(), inv); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1 (second call cached)", hits)
	}
}

func TestSearchWebEmptyQueryFails(t *testing.T) {
	tool := NewSearchWebTool("key", "http://unused.invalid", 3, 300, nil, nil)
	res, err := tool.Execute(context.Background(), Invocation{Query: "   "})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("res = %+v, want failure", res)
	}
}

func TestSearchWebUpstreamErrorIsFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := NewSearchWebTool("key", srv.URL, 3, 300, nil, nil)
	res, err := tool.Execute(context.Background(), Invocation{Query: "q"})
	if err != nil {
		t.Fatalf("Execute returned error, want failed result: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "web search failed") {
		t.Errorf("res = %+v", res)
	}
}

func TestRegistryUnknownToolIsFailedResult(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "no_such_tool", Invocation{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("error = %q", res.Error)
	}
}
