// Package knowledge loads the local document collection used for retrieval.
package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/chunker"
	"ragchat/internal/domain"
)

// Entry is one record of the knowledge base file.
type Entry struct {
	Text *string `json:"text"`
}

// Options controls optional sentence chunking of long entries.
type Options struct {
	ChunkSentences int
	ChunkOverlap   int
}

// Load reads a knowledge base file, an ordered JSON array of {"text": ...}.
// A missing file is a config error; a malformed one is a format error.
// Document IDs are positions in the resulting, possibly chunked, sequence.
func Load(path string, opts Options) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.Ef(domain.ErrConfig, "load knowledge base", "knowledge base %q was not found", path)
		}
		return nil, domain.E(domain.ErrIO, "load knowledge base", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, domain.E(domain.ErrFormat, "load knowledge base", errors.Wrapf(err, "parse %s", path))
	}

	var ch *chunker.SentenceChunker
	if opts.ChunkSentences > 0 {
		ch = chunker.NewSentenceChunker(opts.ChunkSentences, opts.ChunkOverlap)
	}
	docs := make([]domain.Document, 0, len(entries))
	for i, e := range entries {
		if e.Text == nil {
			return nil, domain.Ef(domain.ErrFormat, "load knowledge base", "entry %d: missing required field \"text\"", i)
		}
		if strings.TrimSpace(*e.Text) == "" {
			return nil, domain.Ef(domain.ErrFormat, "load knowledge base", "entry %d: empty text", i)
		}
		if ch == nil {
			docs = append(docs, domain.Document{ID: len(docs), Text: *e.Text})
			continue
		}
		for _, piece := range ch.Chunk(*e.Text) {
			docs = append(docs, domain.Document{ID: len(docs), Text: piece})
		}
	}
	if len(docs) == 0 {
		return nil, domain.Ef(domain.ErrConfig, "load knowledge base", "knowledge base %q is empty", path)
	}
	log.Info().Str("path", path).Int("entries", len(entries)).Int("documents", len(docs)).Msg("knowledge base loaded")
	return docs, nil
}

// Texts returns the document texts in order.
func Texts(docs []domain.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

// DefaultCachePath derives the embedding cache path from the knowledge base
// path, e.g. kb.json -> kb_embeddings.json.
func DefaultCachePath(kbPath, ext string) string {
	return strings.TrimSuffix(kbPath, filepath.Ext(kbPath)) + "_embeddings" + ext
}
