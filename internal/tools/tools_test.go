package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ckocel/voxtutor/pkg/rag"
	ragmock "github.com/ckocel/voxtutor/pkg/rag/mock"
)

func TestWebSearchDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "go language" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{
			"AbstractText": "Go is a programming language.",
			"Answer": "",
			"RelatedTopics": [
				{"Text": "Go was designed at Google."},
				{"Text": "Gophers love Go."},
				{"Text": "Topic three."},
				{"Text": "Topic four, past the cap."}
			]
		}`))
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.Client())
	ws.endpoint = srv.URL

	got, err := ws.Execute(context.Background(), map[string]any{"query": "go language"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Go is a programming language.") {
		t.Errorf("missing abstract: %q", got)
	}
	if !strings.Contains(got, "Topic three.") {
		t.Errorf("missing third topic: %q", got)
	}
	if strings.Contains(got, "past the cap") {
		t.Errorf("fourth topic should be capped: %q", got)
	}
}

func TestWebSearchNoResultsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"AbstractText": "", "Answer": "", "RelatedTopics": []}`))
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.Client())
	ws.endpoint = srv.URL

	got, err := ws.Execute(context.Background(), map[string]any{"query": "obscurity"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "No results found for: obscurity" {
		t.Errorf("result = %q", got)
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	ws := NewWebSearch(nil)
	got, err := ws.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "No search query provided" {
		t.Errorf("result = %q", got)
	}
}

func TestNewsSearchDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [
			{"title": "Headline one", "excerpt": "Body one", "source": "Wire", "date": 1700000000, "url": "https://n.example/1"},
			{"title": "Headline two", "excerpt": "Body two", "source": "Desk", "date": 1700000001, "url": "https://n.example/2"},
			{"title": "3", "excerpt": "", "source": "", "date": 0, "url": ""},
			{"title": "4", "excerpt": "", "source": "", "date": 0, "url": ""},
			{"title": "5", "excerpt": "", "source": "", "date": 0, "url": ""},
			{"title": "six over the cap", "excerpt": "", "source": "", "date": 0, "url": ""}
		]}`))
	}))
	defer srv.Close()

	ns := NewNewsSearch(srv.Client())
	ns.endpoint = srv.URL

	got, err := ns.Execute(context.Background(), map[string]any{"query": "economy"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Headline one") || !strings.Contains(got, "Source: Wire") {
		t.Errorf("missing first article: %q", got)
	}
	if strings.Contains(got, "six over the cap") {
		t.Errorf("sixth article should be capped: %q", got)
	}
}

func TestWikipediaDisambiguationFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/w/api.php"):
			w.Write([]byte(`["mercury", ["Mercury", "Mercury (planet)"], [], []]`))
		case strings.HasSuffix(r.URL.Path, "/Mercury"):
			w.Write([]byte(`{"title": "Mercury", "type": "disambiguation", "extract": ""}`))
		default:
			w.Write([]byte(`{
				"title": "Mercury (planet)",
				"type": "standard",
				"extract": "Mercury is the smallest planet.",
				"content_urls": {"desktop": {"page": "https://en.wikipedia.org/wiki/Mercury_(planet)"}}
			}`))
		}
	}))
	defer srv.Close()

	wp := NewWikipedia(srv.Client(), "en")
	wp.baseURL = srv.URL

	got, err := wp.Execute(context.Background(), map[string]any{"query": "mercury"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Mercury is the smallest planet.") {
		t.Errorf("missing extract: %q", got)
	}
	if !strings.Contains(got, "URL: https://en.wikipedia.org/wiki/Mercury_(planet)") {
		t.Errorf("missing URL: %q", got)
	}
}

func TestWikipediaNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["zzz", [], [], []]`))
	}))
	defer srv.Close()

	wp := NewWikipedia(srv.Client(), "en")
	wp.baseURL = srv.URL

	got, err := wp.Execute(context.Background(), map[string]any{"query": "zzz"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "No Wikipedia results for: zzz" {
		t.Errorf("result = %q", got)
	}
}

func TestDocSearch(t *testing.T) {
	store := &ragmock.Store{Results: []rag.SearchResult{
		{Content: "Chlorophyll absorbs light.", DocID: "bio"},
		{Content: "Stomata exchange gases.", DocID: "bio"},
	}}
	ds := NewDocSearch(store)

	got, err := ds.Execute(context.Background(), map[string]any{
		"query":   "photosynthesis",
		"user_id": "u1",
		"doc_ids": []any{"bio"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "[1] Chlorophyll absorbs light.") || !strings.Contains(got, "[2] Stomata exchange gases.") {
		t.Errorf("digest = %q", got)
	}

	calls := store.Searches()
	if len(calls) != 1 {
		t.Fatalf("got %d search calls, want 1", len(calls))
	}
	if calls[0].UserID != "u1" || calls[0].K != 5 {
		t.Errorf("call = %+v", calls[0])
	}
	if len(calls[0].DocIDs) != 1 || calls[0].DocIDs[0] != "bio" {
		t.Errorf("doc scope not forwarded: %+v", calls[0].DocIDs)
	}
}

func TestDocSearchSentinels(t *testing.T) {
	ds := NewDocSearch(&ragmock.Store{})

	t.Run("no user context", func(t *testing.T) {
		got, _ := ds.Execute(context.Background(), map[string]any{"query": "x"})
		if got != "No user context available for document search" {
			t.Errorf("result = %q", got)
		}
	})
	t.Run("no hits", func(t *testing.T) {
		got, _ := ds.Execute(context.Background(), map[string]any{"query": "x", "user_id": "u1"})
		if got != "No relevant information found in the user's documents." {
			t.Errorf("result = %q", got)
		}
	})
}

func TestDocList(t *testing.T) {
	store := &ragmock.Store{Docs: map[string][]rag.DocumentInfo{
		"u1": {{DocID: "a", Filename: "notes.pdf"}, {DocID: "b", Filename: "slides.pdf"}},
	}}
	dl := NewDocList(store)

	got, err := dl.Execute(context.Background(), map[string]any{"user_id": "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Uploaded documents (2):") {
		t.Errorf("missing count: %q", got)
	}
	if !strings.Contains(got, "- notes.pdf") || !strings.Contains(got, "- slides.pdf") {
		t.Errorf("missing filenames: %q", got)
	}

	t.Run("empty", func(t *testing.T) {
		got, _ := dl.Execute(context.Background(), map[string]any{"user_id": "nobody"})
		if got != "No documents uploaded yet." {
			t.Errorf("result = %q", got)
		}
	})

	t.Run("doc scope", func(t *testing.T) {
		got, err := dl.Execute(context.Background(), map[string]any{
			"user_id": "u1",
			"doc_ids": []any{"b"},
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !strings.Contains(got, "Uploaded documents (1):") || !strings.Contains(got, "- slides.pdf") {
			t.Errorf("scoped listing = %q", got)
		}
		if strings.Contains(got, "notes.pdf") {
			t.Errorf("out-of-scope document listed: %q", got)
		}
	})
}

func TestGenerateVisualReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"images": [{"url": "https://img.example/diagram.png"}]}`))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delivered string
	done := make(chan struct{})
	gv := NewGenerateVisual(srv.Client(), srv.URL, "key", func(url string) {
		mu.Lock()
		delivered = url
		mu.Unlock()
		close(done)
	}, nil)

	start := time.Now()
	got, err := gv.Execute(context.Background(), map[string]any{"prompt": "a cell diagram"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Execute blocked for %v", elapsed)
	}
	if !strings.Contains(got, "Visual generation started") {
		t.Errorf("placeholder = %q", got)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != "https://img.example/diagram.png" {
		t.Errorf("delivered URL = %q", delivered)
	}
}

func TestGenerateVisualNilCallback(t *testing.T) {
	handled := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images": [{"url": "https://img.example/x.png"}]}`))
		close(handled)
	}))
	defer srv.Close()

	gv := NewGenerateVisual(srv.Client(), srv.URL, "", nil, nil)
	if _, err := gv.Execute(context.Background(), map[string]any{"prompt": "p"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the endpoint")
	}
}

func TestGenerateVisualUnconfigured(t *testing.T) {
	gv := NewGenerateVisual(nil, "", "", nil, nil)
	got, err := gv.Execute(context.Background(), map[string]any{"prompt": "p"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Visual generation is not configured" {
		t.Errorf("result = %q", got)
	}
}
