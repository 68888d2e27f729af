package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deepthinks/deepthinks/internal/store"
)

// searchCacheMaxAge bounds how long a cached raw search response may be
// reused for an identical query.
const searchCacheMaxAge = 15 * time.Minute

// SearchLogger captures surfaced URLs and caches raw responses.
type SearchLogger interface {
	LogSearchResult(l *store.SearchLog) error
	CacheSearchResponse(query, response string) error
	CachedSearchResponse(query string, maxAge time.Duration) (string, bool, error)
}

// SearchWebTool performs real-time web search through a Tavily-style HTTP
// API and projects the response down to the fields worth a prompt's
// tokens.
type SearchWebTool struct {
	apiKey     string
	apiBase    string
	topN       int
	contentCap int
	httpClient *http.Client
	logs       SearchLogger
	logger     *slog.Logger
}

// NewSearchWebTool creates the web search tool. logs may be nil (no URL
// capture, no cache).
func NewSearchWebTool(apiKey, apiBase string, topN, contentCap int, logs SearchLogger, logger *slog.Logger) *SearchWebTool {
	if apiBase == "" {
		apiBase = "https://api.tavily.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchWebTool{
		apiKey:     apiKey,
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		topN:       topN,
		contentCap: contentCap,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logs:       logs,
		logger:     logger,
	}
}

func (t *SearchWebTool) Name() string { return "search_web" }

func (t *SearchWebTool) Description() string {
	return "Searches the web for up-to-date information and returns a short answer with top sources."
}

// searchResponse is the subset of the search API response we consume.
type searchResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Execute runs the search and returns the essential projection: the
// answer plus the top results with hard-capped content.
func (t *SearchWebTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	query := strings.TrimSpace(inv.Query)
	if query == "" {
		return Failed("search_web requires a non-empty query"), nil
	}
	if t.apiKey == "" {
		return Failed("web search is not configured"), nil
	}

	raw, err := t.fetch(ctx, query)
	if err != nil {
		t.logger.Error("web search failed", "query", query, "error", err)
		return Failed("web search failed: %v", err), nil
	}

	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Failed("web search returned an unreadable response"), nil
	}

	t.captureURLs(inv, query, &resp)

	return &Result{Success: true, Essential: t.essential(query, &resp)}, nil
}

// fetch returns the raw response body, serving identical queries from the
// realtime cache when fresh.
func (t *SearchWebTool) fetch(ctx context.Context, query string) ([]byte, error) {
	if t.logs != nil {
		if cached, ok, err := t.logs.CachedSearchResponse(query, searchCacheMaxAge); err == nil && ok {
			t.logger.Debug("search cache hit", "query", query)
			return []byte(cached), nil
		}
	}

	body, err := json.Marshal(map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"include_answer": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.apiBase+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(raw))
	}

	if t.logs != nil {
		if err := t.logs.CacheSearchResponse(query, string(raw)); err != nil {
			t.logger.Warn("search cache write failed", "error", err)
		}
	}
	return raw, nil
}

// essential compresses a raw search response to the answer plus the top N
// results, each with its content truncated. This is what re-enters the
// prompt.
func (t *SearchWebTool) essential(query string, resp *searchResponse) map[string]any {
	out := map[string]any{"query": query}
	if resp.Answer != "" {
		out["answer"] = resp.Answer
	}
	if len(resp.Results) > 0 {
		n := t.topN
		if n > len(resp.Results) {
			n = len(resp.Results)
		}
		results := make([]map[string]any, 0, n)
		for _, r := range resp.Results[:n] {
			content := r.Content
			if len(content) > t.contentCap {
				content = content[:t.contentCap]
			}
			results = append(results, map[string]any{
				"title":   r.Title,
				"content": content,
			})
		}
		out["results"] = results
	}
	return out
}

// captureURLs logs every surfaced URL, not just the projected top N.
func (t *SearchWebTool) captureURLs(inv Invocation, query string, resp *searchResponse) {
	if t.logs == nil {
		return
	}
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		err := t.logs.LogSearchResult(&store.SearchLog{
			UserID:    inv.UserID,
			SessionID: inv.SessionID,
			Query:     query,
			URL:       r.URL,
			Title:     r.Title,
		})
		if err != nil {
			t.logger.Warn("search log write failed", "error", err)
			return
		}
	}
}
