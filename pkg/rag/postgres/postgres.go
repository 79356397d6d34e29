// Package postgres provides a PostgreSQL-backed implementation of rag.Store.
//
// Chunks live in a single doc_chunks table with a pgvector HNSW index for
// approximate nearest-neighbour search under cosine distance. The pgvector
// extension must be available in the target database; [New] installs it via
// CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ckocel/voxtutor/pkg/provider/embeddings"
	"github.com/ckocel/voxtutor/pkg/rag"
)

// ddl returns the schema DDL with the embedding dimension substituted. The
// vector dimension is baked into the column type at schema creation time;
// changing the embedding model afterwards requires a manual migration.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS doc_chunks (
    id          TEXT  PRIMARY KEY,
    user_id     TEXT  NOT NULL,
    doc_id      TEXT  NOT NULL,
    chunk_index INT   NOT NULL,
    filename    TEXT  NOT NULL DEFAULT '',
    content     TEXT  NOT NULL,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_doc_chunks_user_doc
    ON doc_chunks (user_id, doc_id);

CREATE INDEX IF NOT EXISTS idx_doc_chunks_embedding
    ON doc_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Compile-time assertion that Store implements rag.Store.
var _ rag.Store = (*Store)(nil)

// Store is the PostgreSQL rag.Store implementation.
// All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	splitter *rag.Splitter
	log      *slog.Logger
}

// New creates a Store, establishes a connection pool to dsn, registers
// pgvector types on every connection and ensures the schema exists. The
// embedding dimension is taken from the provider.
func New(ctx context.Context, dsn string, embedder embeddings.Provider, logger *slog.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag postgres: embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("rag postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("rag postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rag postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl(embedder.Dimensions())); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rag postgres: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		embedder: embedder,
		splitter: rag.NewSplitter(rag.DefaultChunkSize, rag.DefaultChunkOverlap),
		log:      logger.With("component", "rag.postgres"),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AddDocument implements rag.Store. The delete of any previous version and
// the insert of all new chunks happen in one transaction.
func (s *Store) AddDocument(ctx context.Context, doc rag.Document) (int, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return 0, rag.ErrNoText
	}

	chunks, err := s.splitter.Split(doc.Text)
	if err != nil {
		return 0, fmt.Errorf("rag postgres: add document %s: %w", doc.DocID, err)
	}
	if len(chunks) == 0 {
		s.log.Warn("document produced no chunks", "doc_id", doc.DocID, "user_id", doc.UserID)
		return 0, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("rag postgres: embed document %s: %w", doc.DocID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("rag postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM doc_chunks WHERE user_id = $1 AND doc_id = $2`,
		doc.UserID, doc.DocID,
	); err != nil {
		return 0, fmt.Errorf("rag postgres: replace document %s: %w", doc.DocID, err)
	}

	const insert = `
		INSERT INTO doc_chunks (id, user_id, doc_id, chunk_index, filename, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, chunk := range chunks {
		id := fmt.Sprintf("%s:%s:%d", doc.UserID, doc.DocID, i)
		if _, err := tx.Exec(ctx, insert,
			id, doc.UserID, doc.DocID, i, doc.Filename, chunk, pgvector.NewVector(vectors[i]),
		); err != nil {
			return 0, fmt.Errorf("rag postgres: insert chunk %d of %s: %w", i, doc.DocID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("rag postgres: commit document %s: %w", doc.DocID, err)
	}
	return len(chunks), nil
}

// Search implements rag.Store.
func (s *Store) Search(ctx context.Context, userID, query string, k int, docIDs []string) []rag.SearchResult {
	if k <= 0 {
		return []rag.SearchResult{}
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Error("query embedding failed, returning no grounding", "user_id", userID, "error", err)
		return []rag.SearchResult{}
	}

	args := []any{pgvector.NewVector(vec), userID}
	where := "user_id = $2"
	if len(docIDs) > 0 {
		args = append(args, docIDs)
		where += fmt.Sprintf(" AND doc_id = ANY($%d)", len(args))
	}
	args = append(args, k)

	q := fmt.Sprintf(`
		SELECT content, doc_id, filename, chunk_index,
		       embedding <=> $1 AS distance
		FROM   doc_chunks
		WHERE  %s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		s.log.Error("search query failed, returning no grounding", "user_id", userID, "error", err)
		return []rag.SearchResult{}
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rag.SearchResult, error) {
		var r rag.SearchResult
		err := row.Scan(&r.Content, &r.DocID, &r.Filename, &r.ChunkIndex, &r.Score)
		return r, err
	})
	if err != nil {
		s.log.Error("search scan failed, returning no grounding", "user_id", userID, "error", err)
		return []rag.SearchResult{}
	}
	if results == nil {
		results = []rag.SearchResult{}
	}
	return results
}

// DeleteDocument implements rag.Store.
func (s *Store) DeleteDocument(ctx context.Context, userID, docID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM doc_chunks WHERE user_id = $1 AND doc_id = $2`,
		userID, docID,
	); err != nil {
		return fmt.Errorf("rag postgres: delete document %s: %w", docID, err)
	}
	return nil
}

// ListDocuments implements rag.Store.
func (s *Store) ListDocuments(ctx context.Context, userID string, docIDs []string) []rag.DocumentInfo {
	args := []any{userID}
	where := "user_id = $1"
	if len(docIDs) > 0 {
		args = append(args, docIDs)
		where += " AND doc_id = ANY($2)"
	}

	q := fmt.Sprintf(`
		SELECT DISTINCT ON (doc_id) doc_id, filename
		FROM   doc_chunks
		WHERE  %s
		ORDER  BY doc_id, chunk_index`, where)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		s.log.Error("list documents failed", "user_id", userID, "error", err)
		return []rag.DocumentInfo{}
	}

	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rag.DocumentInfo, error) {
		var d rag.DocumentInfo
		err := row.Scan(&d.DocID, &d.Filename)
		return d, err
	})
	if err != nil {
		s.log.Error("list documents scan failed", "user_id", userID, "error", err)
		return []rag.DocumentInfo{}
	}
	if infos == nil {
		infos = []rag.DocumentInfo{}
	}
	return infos
}

// HasDocuments implements rag.Store.
func (s *Store) HasDocuments(ctx context.Context, userID string) bool {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM doc_chunks WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		s.log.Error("document existence check failed", "user_id", userID, "error", err)
		return false
	}
	return exists
}
