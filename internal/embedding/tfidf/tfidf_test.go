package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestEmbedProducesUnitVectors(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"punting on the river cam", "formal hall dinner"}))

	vecs, err := e.Embed(context.Background(), []string{"river punting", "dinner"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, e.Dimension())
		norm := 0.0
		for _, x := range v {
			norm += x * x
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	}
}

func TestEmbedUnknownTermsGiveZeroVector(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"punting on the cam"}))
	vecs, err := e.Embed(context.Background(), []string{"the and of"})
	require.NoError(t, err)
	for _, x := range vecs[0] {
		assert.Zero(t, x)
	}
}

func TestEmbedRequiresPrepare(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrService))
}

func TestPrepareRejectsEmptyCorpus(t *testing.T) {
	err := NewEmbedder().Prepare(nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
