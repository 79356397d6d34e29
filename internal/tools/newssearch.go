package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const duckDuckGoNewsAPI = "https://duckduckgo.com/news.js"

// maxNewsResults caps the digest length so it stays speakable.
const maxNewsResults = 5

// NewsSearch queries the DuckDuckGo news endpoint.
type NewsSearch struct {
	client   *http.Client
	endpoint string
}

var _ Tool = (*NewsSearch)(nil)

// NewNewsSearch builds the news_search tool.
func NewNewsSearch(client *http.Client) *NewsSearch {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NewsSearch{client: client, endpoint: duckDuckGoNewsAPI}
}

func (n *NewsSearch) Name() string { return "news_search" }

func (n *NewsSearch) Description() string {
	return "Search for recent news articles and headlines. Use when the user asks about current events, breaking news, or recent developments. Returns news with source and date. Write the query in the same language as the user's question."
}

func (n *NewsSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The news search query (use the same language as the user)",
			},
		},
		"required": []string{"query"},
	}
}

// newsResponse is the subset of the news endpoint response we digest.
type newsResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Excerpt string `json:"excerpt"`
		Source  string `json:"source"`
		Date    int64  `json:"date"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Execute implements Tool.
func (n *NewsSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "No search query provided", nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("o", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("news status %d", resp.StatusCode)
	}

	var news newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&news); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var parts []string
	for i, r := range news.Results {
		if i >= maxNewsResults {
			break
		}
		date := ""
		if r.Date > 0 {
			date = time.Unix(r.Date, 0).UTC().Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf("%s\n%s\nSource: %s — %s\nURL: %s",
			r.Title, r.Excerpt, r.Source, date, r.URL))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("No news found for: %s", query), nil
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}
