package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Wikipedia searches the MediaWiki APIs: opensearch for title matches, then
// the REST summary endpoint for the best match. Disambiguation pages fall
// back to the next search result.
type Wikipedia struct {
	client   *http.Client
	language string
	baseURL  string // overridable in tests; default built from language
}

var _ Tool = (*Wikipedia)(nil)

// NewWikipedia builds the wikipedia_search tool. language is the wiki
// subdomain ("en", "tr", ...); empty defaults to "en".
func NewWikipedia(client *http.Client, language string) *Wikipedia {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if language == "" {
		language = "en"
	}
	return &Wikipedia{
		client:   client,
		language: language,
		baseURL:  fmt.Sprintf("https://%s.wikipedia.org", language),
	}
}

func (w *Wikipedia) Name() string { return "wikipedia_search" }

func (w *Wikipedia) Description() string {
	return "Search Wikipedia for encyclopedic information. Use for history, science, geography, biographies, general knowledge topics. Returns reliable, structured information with source URL. Write the query in the same language as the user's question."
}

func (w *Wikipedia) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The Wikipedia search query (use the same language as the user)",
			},
		},
		"required": []string{"query"},
	}
}

// summary is the subset of the REST page-summary response we use.
type summary struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Execute implements Tool.
func (w *Wikipedia) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "No search query provided", nil
	}

	titles, err := w.search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(titles) == 0 {
		return fmt.Sprintf("No Wikipedia results for: %s", query), nil
	}

	// Disambiguation pages carry no usable extract; try the next match.
	var lastErr error
	for _, title := range titles {
		s, err := w.summarize(ctx, title)
		if err != nil {
			lastErr = err
			continue
		}
		if s.Type == "disambiguation" {
			continue
		}
		return fmt.Sprintf("%s\n\n%s\n\nURL: %s", s.Title, s.Extract, s.ContentURLs.Desktop.Page), nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return fmt.Sprintf("Multiple matches found for %q. Try a more specific search.", query), nil
}

// search returns up to 3 matching page titles.
func (w *Wikipedia) search(ctx context.Context, query string) ([]string, error) {
	q := url.Values{}
	q.Set("action", "opensearch")
	q.Set("search", query)
	q.Set("limit", "3")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/w/api.php?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia search status %d", resp.StatusCode)
	}

	// opensearch responds with [query, [titles], [descriptions], [urls]].
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(raw) < 2 {
		return nil, nil
	}
	var titles []string
	if err := json.Unmarshal(raw[1], &titles); err != nil {
		return nil, fmt.Errorf("decode search titles: %w", err)
	}
	return titles, nil
}

// summarize fetches the REST summary for a page title.
func (w *Wikipedia) summarize(ctx context.Context, title string) (*summary, error) {
	endpoint := w.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build summary request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia summary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia summary status %d", resp.StatusCode)
	}

	var s summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
