package chromem

import (
	"context"
	"errors"
	"strings"
	"testing"

	embedmock "github.com/ckocel/voxtutor/pkg/provider/embeddings/mock"
	"github.com/ckocel/voxtutor/pkg/rag"
)

func newTestStore(t *testing.T) (*Store, *embedmock.Provider) {
	t.Helper()
	embedder := &embedmock.Provider{Dims: 8}
	s, err := New("", embedder, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, embedder
}

func addDoc(t *testing.T, s *Store, userID, docID, filename, text string) int {
	t.Helper()
	n, err := s.AddDocument(context.Background(), rag.Document{
		UserID: userID, DocID: docID, Filename: filename, Text: text,
	})
	if err != nil {
		t.Fatalf("AddDocument(%s): %v", docID, err)
	}
	return n
}

func TestAddDocumentEmptyText(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.AddDocument(context.Background(), rag.Document{
		UserID: "u1", DocID: "d1", Text: "   \n ",
	})
	if !errors.Is(err, rag.ErrNoText) {
		t.Fatalf("err = %v, want ErrNoText", err)
	}
}

func TestAddDocumentEmbedFailureWritesNothing(t *testing.T) {
	s, embedder := newTestStore(t)
	embedder.Err = errors.New("model down")
	_, err := s.AddDocument(context.Background(), rag.Document{
		UserID: "u1", DocID: "d1", Text: "some lesson content",
	})
	if err == nil {
		t.Fatal("expected embed error")
	}
	if s.HasDocuments(context.Background(), "u1") {
		t.Error("collection should be empty after failed add")
	}
}

func TestSearchReturnsUserScopedResults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	addDoc(t, s, "u2", "chem", "chemistry.pdf", "Covalent bonds share electron pairs between atoms.")

	results := s.Search(ctx, "u1", "photosynthesis", 5, nil)
	if len(results) == 0 {
		t.Fatal("expected results for u1")
	}
	for _, r := range results {
		if r.DocID != "bio" {
			t.Errorf("leaked chunk from doc %q into u1's results", r.DocID)
		}
	}

	if got := s.Search(ctx, "nobody", "photosynthesis", 5, nil); len(got) != 0 {
		t.Errorf("unknown user: got %d results, want 0", len(got))
	}
}

func TestSearchDocIDFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	addDoc(t, s, "u1", "hist", "history.pdf", "The industrial revolution began in Britain.")

	results := s.Search(ctx, "u1", "energy", 5, []string{"hist"})
	for _, r := range results {
		if r.DocID != "hist" {
			t.Errorf("result from doc %q, want only hist", r.DocID)
		}
	}
}

func TestSearchKClampedToCollectionSize(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n := addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	results := s.Search(ctx, "u1", "light", n+50, nil)
	if len(results) > n {
		t.Errorf("got %d results from a %d-chunk collection", len(results), n)
	}
}

func TestDeleteDocumentIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	if err := s.DeleteDocument(ctx, "u1", "bio"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if s.HasDocuments(ctx, "u1") {
		t.Error("document still present after delete")
	}
	if got := s.ListDocuments(ctx, "u1", nil); len(got) != 0 {
		t.Errorf("deleted document still listed: %+v", got)
	}
	if err := s.DeleteDocument(ctx, "u1", "bio"); err != nil {
		t.Errorf("second delete: %v, want nil", err)
	}
	if err := s.DeleteDocument(ctx, "ghost", "bio"); err != nil {
		t.Errorf("delete for unknown user: %v, want nil", err)
	}
}

func TestListDocumentsDeduplicates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("The mitochondria is the powerhouse of the cell. ", 30)
	n := addDoc(t, s, "u1", "bio", "biology.pdf", long)
	if n < 2 {
		t.Fatalf("want a multi-chunk document, got %d chunks", n)
	}
	addDoc(t, s, "u1", "hist", "history.pdf", "The industrial revolution began in Britain.")

	infos := s.ListDocuments(ctx, "u1", nil)
	if len(infos) != 2 {
		t.Fatalf("got %d documents, want 2: %+v", len(infos), infos)
	}
	byID := make(map[string]string)
	for _, d := range infos {
		byID[d.DocID] = d.Filename
	}
	if byID["bio"] != "biology.pdf" || byID["hist"] != "history.pdf" {
		t.Errorf("unexpected listing: %+v", infos)
	}

	if got := s.ListDocuments(ctx, "nobody", nil); len(got) != 0 {
		t.Errorf("unknown user: got %d documents, want 0", len(got))
	}
}

func TestListDocumentsDocIDFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	addDoc(t, s, "u1", "hist", "history.pdf", "The industrial revolution began in Britain.")

	infos := s.ListDocuments(ctx, "u1", []string{"hist"})
	if len(infos) != 1 || infos[0].DocID != "hist" {
		t.Fatalf("filtered listing = %+v, want only hist", infos)
	}
	if got := s.ListDocuments(ctx, "u1", []string{"ghost"}); len(got) != 0 {
		t.Errorf("unknown filter: got %d documents, want 0", len(got))
	}
}

func TestListDocumentsSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	embedder := &embedmock.Provider{Dims: 8}
	ctx := context.Background()

	s, err := New(dir, embedder, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")

	reopened, err := New(dir, embedder, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	infos := reopened.ListDocuments(ctx, "u1", nil)
	if len(infos) != 1 || infos[0].DocID != "bio" || infos[0].Filename != "biology.pdf" {
		t.Fatalf("listing after reopen = %+v", infos)
	}
}

func TestHasDocuments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if s.HasDocuments(ctx, "u1") {
		t.Error("empty store should report no documents")
	}
	addDoc(t, s, "u1", "bio", "biology.pdf", "Photosynthesis converts light into chemical energy.")
	if !s.HasDocuments(ctx, "u1") {
		t.Error("store should report documents after add")
	}
	if s.HasDocuments(ctx, "u2") {
		t.Error("u2 should have no documents")
	}
}

func TestAddDocumentReplacesPreviousVersion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addDoc(t, s, "u1", "bio", "biology.pdf", "Old content about plants.")
	addDoc(t, s, "u1", "bio", "biology-v2.pdf", "New content about animals.")

	infos := s.ListDocuments(ctx, "u1", nil)
	if len(infos) != 1 {
		t.Fatalf("got %d documents, want 1", len(infos))
	}
	if infos[0].Filename != "biology-v2.pdf" {
		t.Errorf("filename = %q, want biology-v2.pdf", infos[0].Filename)
	}
}
