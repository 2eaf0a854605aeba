// Package index turns a small document collection into a searchable
// embedding matrix and answers nearest-neighbor queries by cosine similarity.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
	"ragchat/internal/index/cache"
)

// Index holds the documents and their vectors in document order. It is
// immutable after Build or LoadOrBuild and not meant for concurrent queries.
type Index struct {
	embedder domain.Embedder
	docs     []domain.Document
	vectors  [][]float64
}

func New(embedder domain.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Documents returns the indexed documents in order.
func (ix *Index) Documents() []domain.Document {
	return append([]domain.Document(nil), ix.docs...)
}

// Build embeds every document with one batched service call.
func (ix *Index) Build(ctx context.Context, docs []domain.Document) error {
	texts, err := ix.prepare(docs)
	if err != nil {
		return err
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if err := checkMatrix(vectors, len(docs)); err != nil {
		return err
	}
	ix.docs = append([]domain.Document(nil), docs...)
	ix.vectors = vectors
	log.Info().Str("embedder", ix.embedder.Name()).Int("documents", len(docs)).Int("dimension", len(vectors[0])).Msg("index built")
	return nil
}

// LoadOrBuild serves the vectors from store when it holds a matrix built
// from the same embedder and the same ordered texts; otherwise it builds and
// saves. A failed save is logged and the built index stays usable; the next
// run rebuilds. It reports whether the cache was hit.
func (ix *Index) LoadOrBuild(ctx context.Context, store cache.Store, docs []domain.Document) (bool, error) {
	texts, err := ix.prepare(docs)
	if err != nil {
		return false, err
	}
	hash := ContentHash(ix.embedder.Name(), texts)
	vectors, ok, err := store.Load(hash)
	if err != nil {
		return false, err
	}
	if ok && checkMatrix(vectors, len(docs)) == nil {
		ix.docs = append([]domain.Document(nil), docs...)
		ix.vectors = vectors
		log.Info().Str("hash", hash[:12]).Int("documents", len(docs)).Msg("embedding cache hit")
		return true, nil
	}
	log.Info().Str("hash", hash[:12]).Msg("embedding cache miss")
	if err := ix.Build(ctx, docs); err != nil {
		return false, err
	}
	if err := store.Save(hash, ix.vectors); err != nil {
		log.Error().Err(err).Msg("could not save embedding cache")
	}
	return false, nil
}

// Query returns the k documents most similar to text, highest first, ties
// in document order. k larger than the collection returns everything.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, domain.Ef(domain.ErrValidation, "query", "k must be positive, got %d", k)
	}
	if len(ix.docs) == 0 {
		return nil, domain.Ef(domain.ErrValidation, "query", "index is empty")
	}
	qv, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(qv) != 1 {
		return nil, domain.Ef(domain.ErrService, "query", "got %d query embeddings, want 1", len(qv))
	}
	results := make([]domain.SearchResult, len(ix.docs))
	for i, dv := range ix.vectors {
		score, err := Cosine(qv[0], dv)
		if err != nil {
			return nil, errors.Wrapf(err, "query: document %d", i)
		}
		results[i] = domain.SearchResult{Document: ix.docs[i], Score: score}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	top := results[:k]
	log.Debug().Int("k", k).Float64("top_score", top[0].Score).Msg("retrieval query")
	return top, nil
}

// Cosine returns dot(a, b) / (|a| |b|). A zero-norm vector or a dimension
// mismatch is a numeric error.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.Ef(domain.ErrNumeric, "cosine", "dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, domain.Ef(domain.ErrNumeric, "cosine", "zero-norm vector")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// ContentHash identifies an embedding matrix by the embedder name and the
// ordered document texts. Each part is length-prefixed.
func ContentHash(embedder string, texts []string) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(embedder)
	for _, t := range texts {
		write(t)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (ix *Index) prepare(docs []domain.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, domain.Ef(domain.ErrValidation, "build index", "no documents")
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	if err := ix.embedder.Prepare(texts); err != nil {
		return nil, err
	}
	return texts, nil
}

func checkMatrix(vectors [][]float64, rows int) error {
	if len(vectors) != rows {
		return domain.Ef(domain.ErrService, "build index", "got %d embeddings for %d documents", len(vectors), rows)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return domain.Ef(domain.ErrService, "build index", "embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
