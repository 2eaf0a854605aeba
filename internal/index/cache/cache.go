// Package cache persists embedding matrices keyed by a content hash.
package cache

// Store loads and saves one embedding matrix. Load reports a miss when
// nothing is stored or the stored matrix was built from other content.
type Store interface {
	Load(hash string) (vectors [][]float64, ok bool, err error)
	Save(hash string, vectors [][]float64) error
	Close() error
	// Path is where the store keeps its data.
	Path() string
}

// matrix is the serialized form shared by the stores: a 2-D array with
// rows in document order.
type matrix struct {
	Version int         `json:"version"`
	Hash    string      `json:"hash"`
	Rows    int         `json:"rows"`
	Dim     int         `json:"dim"`
	Vectors [][]float64 `json:"vectors"`
}

const formatVersion = 1

func newMatrix(hash string, vectors [][]float64) matrix {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	return matrix{Version: formatVersion, Hash: hash, Rows: len(vectors), Dim: dim, Vectors: vectors}
}

// consistent reports whether the header matches the payload.
func (m matrix) consistent() bool {
	if m.Version != formatVersion || m.Rows != len(m.Vectors) || m.Rows == 0 {
		return false
	}
	for _, v := range m.Vectors {
		if len(v) != m.Dim {
			return false
		}
	}
	return true
}
