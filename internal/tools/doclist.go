package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ckocel/voxtutor/pkg/rag"
)

// DocList proxies Store.ListDocuments. The engine injects "user_id" and
// "doc_ids".
type DocList struct {
	store rag.Store
}

var _ Tool = (*DocList)(nil)

// NewDocList builds the list_documents tool.
func NewDocList(store rag.Store) *DocList {
	return &DocList{store: store}
}

func (d *DocList) Name() string { return "list_documents" }

func (d *DocList) Description() string {
	return "List the names of documents the user has uploaded. Use when the user asks what documents they have, or asks about their files. Does NOT search content."
}

func (d *DocList) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Execute implements Tool.
func (d *DocList) Execute(ctx context.Context, args map[string]any) (string, error) {
	userID := stringArg(args, "user_id")
	if userID == "" {
		return "No user context available", nil
	}

	docs := d.store.ListDocuments(ctx, userID, stringSliceArg(args, "doc_ids"))
	if len(docs) == 0 {
		return "No documents uploaded yet.", nil
	}

	lines := make([]string, len(docs))
	for i, doc := range docs {
		lines[i] = "- " + doc.Filename
	}
	return fmt.Sprintf("Uploaded documents (%d):\n%s", len(docs), strings.Join(lines, "\n")), nil
}
