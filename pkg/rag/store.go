// Package rag defines the document retrieval layer: per-user vector
// collections of chunked course material, searched by semantic similarity to
// ground tutoring answers.
//
// The Store contract is deliberately fail-open on the read path: a retrieval
// failure must degrade to answering without grounding, never abort a live
// conversation. Search, ListDocuments and HasDocuments therefore swallow
// internal errors (logging them) instead of propagating. Writes (AddDocument,
// DeleteDocument) do return errors, since their callers are request handlers
// that can surface failure to the uploader.
//
// Per-user collections bound the blast radius of search: cross-tenant
// isolation holds by construction, not only by query-time filtering.
package rag

import (
	"context"
	"errors"
)

// ErrNoText is returned by AddDocument when the document contains no
// extractable text. The document should be marked failed with a message, not
// treated as a crash.
var ErrNoText = errors.New("rag: document contains no extractable text")

// Document is the input to AddDocument.
type Document struct {
	// UserID scopes the document to one user's collection.
	UserID string

	// DocID uniquely identifies the document within the user's collection.
	DocID string

	// Filename is the original upload name, stored as chunk metadata.
	Filename string

	// Text is the full extracted text to index.
	Text string
}

// SearchResult is a single retrieval hit.
type SearchResult struct {
	// Content is the chunk text.
	Content string

	// DocID identifies the source document.
	DocID string

	// Filename is the source document's upload name.
	Filename string

	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int

	// Score is the cosine distance to the query (lower is more similar).
	Score float64
}

// DocumentInfo summarises one indexed document.
type DocumentInfo struct {
	// DocID identifies the document.
	DocID string

	// Filename is the first-seen filename across the document's chunks.
	Filename string
}

// Store is the abstraction over a vector-search document backend.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// AddDocument splits, embeds and indexes a document atomically: either
	// every chunk becomes visible or none do. Returns the number of chunks
	// indexed. Empty extracted text returns (0, ErrNoText); a splitter that
	// produces no chunks returns (0, nil) with a warning logged. Embedding
	// failures propagate.
	AddDocument(ctx context.Context, doc Document) (int, error)

	// Search embeds the query and returns the k nearest chunks in the user's
	// collection, ordered by ascending distance, optionally restricted to
	// docIDs. k is clamped to the collection size. An empty or missing
	// collection yields an empty slice; so does any internal error.
	Search(ctx context.Context, userID, query string, k int, docIDs []string) []SearchResult

	// DeleteDocument removes every chunk of the document from the user's
	// collection. Deleting an unknown docID is a no-op.
	DeleteDocument(ctx context.Context, userID, docID string) error

	// ListDocuments returns the user's documents deduplicated by DocID,
	// keeping the first-seen filename, optionally restricted to docIDs.
	// Empty on error.
	ListDocuments(ctx context.Context, userID string, docIDs []string) []DocumentInfo

	// HasDocuments reports whether the user has any indexed chunks.
	// False on error.
	HasDocuments(ctx context.Context, userID string) bool
}
