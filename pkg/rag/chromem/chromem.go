// Package chromem provides an embedded rag.Store implementation backed by
// chromem-go with per-user collections and disk persistence. It needs no
// external database, which makes it the default backend for single-node
// deployments and tests.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ckocel/voxtutor/pkg/provider/embeddings"
	"github.com/ckocel/voxtutor/pkg/rag"
)

// Compile-time assertion that Store implements rag.Store.
var _ rag.Store = (*Store)(nil)

// Store wraps chromem-go with per-user collections.
//
// chromem offers no way to enumerate a collection's documents, so the store
// keeps its own doc_id -> filename catalogue, maintained on every write and
// persisted beside the vector store.
type Store struct {
	mu        sync.RWMutex
	db        *chromem.DB
	embedder  embeddings.Provider
	splitter  *rag.Splitter
	index     map[string]map[string]string // user ID -> doc ID -> filename
	indexPath string                       // empty for in-memory stores
	log       *slog.Logger
}

// New creates (or opens) the persistent vector store at dataDir/vectorstore/.
// An empty dataDir keeps everything in memory.
func New(dataDir string, embedder embeddings.Provider, logger *slog.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag chromem: embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	var indexPath string
	if dataDir == "" {
		db = chromem.NewDB()
	} else {
		dir := filepath.Join(dataDir, "vectorstore")
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("rag chromem: create vectorstore dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("rag chromem: open vectorstore: %w", err)
		}
		indexPath = filepath.Join(dataDir, "documents.json")
	}

	index, err := loadIndex(indexPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		embedder:  embedder,
		splitter:  rag.NewSplitter(rag.DefaultChunkSize, rag.DefaultChunkOverlap),
		index:     index,
		indexPath: indexPath,
		log:       logger.With("component", "rag.chromem"),
	}, nil
}

// loadIndex reads the persisted document catalogue. A missing file is an
// empty catalogue.
func loadIndex(path string) (map[string]map[string]string, error) {
	index := make(map[string]map[string]string)
	if path == "" {
		return index, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rag chromem: read document catalogue: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("rag chromem: parse document catalogue: %w", err)
	}
	return index, nil
}

// saveIndex writes the catalogue back to disk. Callers hold s.mu. A failed
// write only degrades listings after a restart, so it is logged and dropped.
func (s *Store) saveIndex() {
	if s.indexPath == "" {
		return
	}
	data, err := json.Marshal(s.index)
	if err == nil {
		err = os.WriteFile(s.indexPath, data, 0640)
	}
	if err != nil {
		s.log.Warn("document catalogue write failed", "path", s.indexPath, "error", err)
	}
}

// collectionName returns the per-user collection name. Collection names end
// up as directory names, so the user ID is sanitised.
func collectionName(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "user_" + b.String() + "_docs"
}

// chunkID returns the deterministic chunk document ID.
func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}

// embedFunc adapts the embeddings provider to chromem's callback shape.
func (s *Store) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

// getOrCreateCollection returns (or creates) the per-user collection.
// Returns nil on creation failure.
func (s *Store) getOrCreateCollection(userID string) *chromem.Collection {
	name := collectionName(userID)
	col := s.db.GetCollection(name, s.embedFunc())
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(name, nil, s.embedFunc())
		if err != nil {
			s.log.Error("create collection failed", "user_id", userID, "error", err)
			return nil
		}
	}
	return col
}

// AddDocument implements rag.Store. Chunks are embedded in one batched call
// before anything is written, so an embedding failure leaves the collection
// untouched.
func (s *Store) AddDocument(ctx context.Context, doc rag.Document) (int, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return 0, rag.ErrNoText
	}

	chunks, err := s.splitter.Split(doc.Text)
	if err != nil {
		return 0, fmt.Errorf("rag chromem: add document %s: %w", doc.DocID, err)
	}
	if len(chunks) == 0 {
		s.log.Warn("document produced no chunks", "doc_id", doc.DocID, "user_id", doc.UserID)
		return 0, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("rag chromem: embed document %s: %w", doc.DocID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.getOrCreateCollection(doc.UserID)
	if col == nil {
		return 0, fmt.Errorf("rag chromem: nil collection for user %s", doc.UserID)
	}

	// Replace any previous version of the document.
	if err := col.Delete(ctx, map[string]string{"doc_id": doc.DocID}, nil); err != nil {
		return 0, fmt.Errorf("rag chromem: replace document %s: %w", doc.DocID, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunkID(doc.DocID, i),
			Content:   chunk,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"doc_id":      doc.DocID,
				"chunk_index": fmt.Sprintf("%d", i),
				"filename":    doc.Filename,
			},
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("rag chromem: index document %s: %w", doc.DocID, err)
	}

	byUser := s.index[doc.UserID]
	if byUser == nil {
		byUser = make(map[string]string)
		s.index[doc.UserID] = byUser
	}
	byUser[doc.DocID] = doc.Filename
	s.saveIndex()

	return len(chunks), nil
}

// Search implements rag.Store.
func (s *Store) Search(ctx context.Context, userID, query string, k int, docIDs []string) []rag.SearchResult {
	if k <= 0 {
		return []rag.SearchResult{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(userID), s.embedFunc())
	if col == nil {
		return []rag.SearchResult{}
	}
	count := col.Count()
	if count == 0 {
		return []rag.SearchResult{}
	}

	// chromem's where filter only matches a single value, so a multi-doc
	// scope is applied after the query on an oversized result set.
	var where map[string]string
	fetch := k
	switch len(docIDs) {
	case 0:
	case 1:
		where = map[string]string{"doc_id": docIDs[0]}
	default:
		fetch = k * len(docIDs)
	}
	if fetch > count {
		fetch = count
	}

	var results []chromem.Result
	var err error
	// chromem-go sometimes rejects nResults despite the Count check; step
	// down until it accepts.
	for attempt := fetch; attempt > 0; attempt-- {
		results, err = col.Query(ctx, query, attempt, where, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		s.log.Error("search failed, returning no grounding", "user_id", userID, "error", err)
		return []rag.SearchResult{}
	}

	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}

	out := make([]rag.SearchResult, 0, k)
	for _, r := range results {
		docID := r.Metadata["doc_id"]
		if len(docIDs) > 1 && !allowed[docID] {
			continue
		}
		var idx int
		fmt.Sscanf(r.Metadata["chunk_index"], "%d", &idx)
		out = append(out, rag.SearchResult{
			Content:    r.Content,
			DocID:      docID,
			Filename:   r.Metadata["filename"],
			ChunkIndex: idx,
			Score:      float64(1 - r.Similarity),
		})
		if len(out) == k {
			break
		}
	}
	return out
}

// DeleteDocument implements rag.Store.
func (s *Store) DeleteDocument(ctx context.Context, userID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col := s.db.GetCollection(collectionName(userID), s.embedFunc()); col != nil {
		if err := col.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
			return fmt.Errorf("rag chromem: delete document %s: %w", docID, err)
		}
	}
	if byUser, ok := s.index[userID]; ok {
		if _, had := byUser[docID]; had {
			delete(byUser, docID)
			s.saveIndex()
		}
	}
	return nil
}

// ListDocuments implements rag.Store. Listings come from the catalogue
// maintained at write time, ordered by document ID.
func (s *Store) ListDocuments(ctx context.Context, userID string, docIDs []string) []rag.DocumentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}

	infos := make([]rag.DocumentInfo, 0, len(s.index[userID]))
	for docID, filename := range s.index[userID] {
		if len(docIDs) > 0 && !allowed[docID] {
			continue
		}
		infos = append(infos, rag.DocumentInfo{DocID: docID, Filename: filename})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DocID < infos[j].DocID })
	return infos
}

// HasDocuments implements rag.Store.
func (s *Store) HasDocuments(ctx context.Context, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(userID), s.embedFunc())
	return col != nil && col.Count() > 0
}
