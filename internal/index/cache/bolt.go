package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"ragchat/internal/domain"
)

var embeddingsBucket = []byte("embeddings")

// BoltStore keeps the matrix in a BoltDB file. The file is locked while the
// store is open, so a second process fails to open it instead of racing.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the cache database, waiting up to timeout
// for another process to release it.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.E(domain.ErrIO, "open bolt cache", err)
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, domain.E(domain.ErrIO, "open bolt cache", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(hash string) ([][]float64, bool, error) {
	var m matrix
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(embeddingsBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(hash))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &m); err != nil || !m.consistent() || m.Hash != hash {
			log.Warn().Str("hash", prefix(hash)).Msg("bolt cache entry is corrupt; rebuilding")
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, domain.E(domain.ErrIO, "load bolt cache", err)
	}
	if !found {
		return nil, false, nil
	}
	return m.Vectors, true, nil
}

// Save replaces the bucket so only the current matrix is kept.
func (s *BoltStore) Save(hash string, vectors [][]float64) error {
	data, err := json.Marshal(newMatrix(hash, vectors))
	if err != nil {
		return domain.E(domain.ErrFormat, "save bolt cache", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(embeddingsBucket) != nil {
			if err := tx.DeleteBucket(embeddingsBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(embeddingsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(hash), data)
	})
	if err != nil {
		return domain.E(domain.ErrIO, "save bolt cache", err)
	}
	return nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Path() string { return s.db.Path() }
