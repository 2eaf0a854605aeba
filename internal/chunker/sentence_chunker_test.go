package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkWindowsWithOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	got := c.Chunk("One. Two. Three.")
	assert.Equal(t, []string{"One. Two.", "Two. Three."}, got)
}

func TestChunkWithoutPunctuation(t *testing.T) {
	c := NewSentenceChunker(3, 0)
	assert.Equal(t, []string{"no punctuation here"}, c.Chunk("  no punctuation here "))
	assert.Nil(t, c.Chunk("   "))
}

func TestChunkOverlapClamped(t *testing.T) {
	c := NewSentenceChunker(1, 4)
	assert.Equal(t, []string{"A.", "B."}, c.Chunk("A. B."))
}
