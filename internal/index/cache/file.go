package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

// FileStore keeps the matrix in a single JSON file. Writes go through a
// temporary file and a rename, so readers never see a truncated cache.
// It takes no lock: only one process may write a given path.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the cache file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(hash string) ([][]float64, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, domain.E(domain.ErrIO, "load cache", err)
	}
	var m matrix
	if err := json.Unmarshal(data, &m); err != nil || !m.consistent() {
		log.Warn().Str("path", s.path).Msg("embedding cache is corrupt; rebuilding")
		return nil, false, nil
	}
	if m.Hash != hash {
		log.Warn().Str("path", s.path).Str("cached", prefix(m.Hash)).Str("want", prefix(hash)).Msg("embedding cache is stale; rebuilding")
		return nil, false, nil
	}
	return m.Vectors, true, nil
}

func (s *FileStore) Save(hash string, vectors [][]float64) error {
	data, err := json.Marshal(newMatrix(hash, vectors))
	if err != nil {
		return domain.E(domain.ErrFormat, "save cache", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.E(domain.ErrIO, "save cache", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return domain.E(domain.ErrIO, "save cache", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.E(domain.ErrIO, "save cache", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.E(domain.ErrIO, "save cache", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return domain.E(domain.ErrIO, "save cache", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func prefix(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
