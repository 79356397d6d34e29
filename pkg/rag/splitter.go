package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default splitter tuning. ~500 characters keeps a chunk inside a single
// topic; the 50-character overlap preserves sentences that straddle a cut.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// chunkSeparators orders the boundaries the splitter prefers: paragraph,
// line, sentence, word, then hard character cuts.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter chunks document text for indexing.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

// NewSplitter builds a recursive boundary-preference splitter. Non-positive
// size or overlap fall back to the defaults.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(chunkSeparators),
		),
	}
}

// Split chunks text, dropping whitespace-only fragments. Empty input yields
// an empty slice.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts, err := s.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("rag: split text: %w", err)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
