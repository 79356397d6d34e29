package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ckocel/voxtutor/pkg/rag"
)

// docSearchK is how many chunks a document search surfaces to the model.
const docSearchK = 5

// DocSearch proxies Store.Search with the conversation's user scope. The
// engine injects "user_id" and "doc_ids" into the arguments before dispatch.
type DocSearch struct {
	store rag.Store
}

var _ Tool = (*DocSearch)(nil)

// NewDocSearch builds the search_documents tool.
func NewDocSearch(store rag.Store) *DocSearch {
	return &DocSearch{store: store}
}

func (d *DocSearch) Name() string { return "search_documents" }

func (d *DocSearch) Description() string {
	return "Search through the user's uploaded documents for relevant information. Use when the user asks about their documents or specific content they uploaded."
}

func (d *DocSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to find relevant document sections",
			},
		},
		"required": []string{"query"},
	}
}

// Execute implements Tool.
func (d *DocSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "No search query provided", nil
	}
	userID := stringArg(args, "user_id")
	if userID == "" {
		return "No user context available for document search", nil
	}
	docIDs := stringSliceArg(args, "doc_ids")

	results := d.store.Search(ctx, userID, query, docSearchK, docIDs)
	if len(results) == 0 {
		return "No relevant information found in the user's documents.", nil
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, r.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}
