// Package mock provides an in-memory test double for the rag.Store interface.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/ckocel/voxtutor/pkg/rag"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	UserID string
	Query  string
	K      int
	DocIDs []string
}

// Store is a mock implementation of rag.Store.
type Store struct {
	mu sync.Mutex

	// Results is returned from every Search call.
	Results []rag.SearchResult

	// Docs is returned from ListDocuments, keyed by user ID.
	Docs map[string][]rag.DocumentInfo

	// Has is returned from HasDocuments, keyed by user ID.
	Has map[string]bool

	// AddResult and AddErr are returned from AddDocument.
	AddResult int
	AddErr    error

	// DeleteErr is returned from DeleteDocument.
	DeleteErr error

	// SearchCalls records every Search invocation in order.
	SearchCalls []SearchCall

	// Added records every AddDocument invocation in order.
	Added []rag.Document

	// Deleted records "userID/docID" for every DeleteDocument call.
	Deleted []string
}

var _ rag.Store = (*Store)(nil)

// AddDocument implements rag.Store.
func (s *Store) AddDocument(ctx context.Context, doc rag.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Added = append(s.Added, doc)
	if s.AddErr != nil {
		return 0, s.AddErr
	}
	if strings.TrimSpace(doc.Text) == "" {
		return 0, rag.ErrNoText
	}
	return s.AddResult, nil
}

// Search implements rag.Store.
func (s *Store) Search(ctx context.Context, userID, query string, k int, docIDs []string) []rag.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(docIDs))
	copy(ids, docIDs)
	s.SearchCalls = append(s.SearchCalls, SearchCall{UserID: userID, Query: query, K: k, DocIDs: ids})
	out := make([]rag.SearchResult, len(s.Results))
	copy(out, s.Results)
	return out
}

// DeleteDocument implements rag.Store.
func (s *Store) DeleteDocument(ctx context.Context, userID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, userID+"/"+docID)
	return s.DeleteErr
}

// ListDocuments implements rag.Store.
func (s *Store) ListDocuments(ctx context.Context, userID string, docIDs []string) []rag.DocumentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.Docs[userID]
	if len(docIDs) == 0 {
		return append([]rag.DocumentInfo(nil), docs...)
	}
	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}
	out := make([]rag.DocumentInfo, 0, len(docs))
	for _, d := range docs {
		if allowed[d.DocID] {
			out = append(out, d)
		}
	}
	return out
}

// HasDocuments implements rag.Store.
func (s *Store) HasDocuments(ctx context.Context, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Has[userID]
}

// Searches returns a snapshot of all Search invocations so far.
func (s *Store) Searches() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SearchCall, len(s.SearchCalls))
	copy(out, s.SearchCalls)
	return out
}
