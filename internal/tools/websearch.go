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

const duckDuckGoAPI = "https://api.duckduckgo.com/"

// WebSearch queries the DuckDuckGo instant-answer API. No API key needed.
type WebSearch struct {
	client   *http.Client
	endpoint string
}

var _ Tool = (*WebSearch)(nil)

// NewWebSearch builds the web_search tool. A nil client gets a 10s-timeout
// default so a slow search cannot stall a conversational turn.
func NewWebSearch(client *http.Client) *WebSearch {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebSearch{client: client, endpoint: duckDuckGoAPI}
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Description() string {
	return "Search the web for current information. Use when the user asks about recent events, facts, or anything not in their documents."
}

func (w *WebSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

// instantAnswer is the subset of the DuckDuckGo response we digest.
type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Execute implements Tool.
func (w *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "No search query provided", nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	var answer instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var parts []string
	if answer.AbstractText != "" {
		parts = append(parts, answer.AbstractText)
	}
	if answer.Answer != "" {
		parts = append(parts, answer.Answer)
	}
	for i, topic := range answer.RelatedTopics {
		if i >= 3 {
			break
		}
		if topic.Text != "" {
			parts = append(parts, topic.Text)
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}
	return strings.Join(parts, "\n\n"), nil
}
