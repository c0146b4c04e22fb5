package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerDefaults(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{})
	require.NoError(t, err)

	cfg := chunker.Config()
	assert.Equal(t, 500, cfg.Size)
	assert.Equal(t, 50, cfg.Overlap)
}

func TestNewChunkerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChunkerConfig
	}{
		{"negative size", ChunkerConfig{Size: -1, Overlap: 0}},
		{"negative overlap", ChunkerConfig{Size: 100, Overlap: -5}},
		{"overlap equals size", ChunkerConfig{Size: 50, Overlap: 50}},
		{"overlap exceeds size", ChunkerConfig{Size: 50, Overlap: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestChunkEmptyContent(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Size: 10, Overlap: 2})
	require.NoError(t, err)

	assert.Nil(t, chunker.Chunk(""))
	assert.Nil(t, chunker.Chunk("   \n\t  "))
}

func TestChunkSingleWindow(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Size: 10, Overlap: 2})
	require.NoError(t, err)

	chunks := chunker.Chunk("fleet compliance starts with accurate driver logs")
	require.Len(t, chunks, 1)
	assert.Equal(t, "fleet compliance starts with accurate driver logs", chunks[0])
}

func TestChunkOverlappingWindows(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Size: 4, Overlap: 2})
	require.NoError(t, err)

	words := make([]string, 10)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}

	chunks := chunker.Chunk(strings.Join(words, " "))
	require.Equal(t, []string{
		"w0 w1 w2 w3",
		"w2 w3 w4 w5",
		"w4 w5 w6 w7",
		"w6 w7 w8 w9",
	}, chunks)
}

func TestChunkTailWindow(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Size: 4, Overlap: 1})
	require.NoError(t, err)

	// 6 words, step 3: the second window reaches the end and absorbs the tail.
	chunks := chunker.Chunk("a b c d e f")
	require.Equal(t, []string{"a b c d", "d e f"}, chunks)
}

func TestChunkCoversEveryWord(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Size: 7, Overlap: 3})
	require.NoError(t, err)

	words := make([]string, 53)
	for i := range words {
		words[i] = fmt.Sprintf("token%d", i)
	}

	chunks := chunker.Chunk(strings.Join(words, " "))
	require.NotEmpty(t, chunks)

	seen := map[string]bool{}
	for _, chunk := range chunks {
		for _, word := range strings.Fields(chunk) {
			seen[word] = true
		}
	}
	for _, word := range words {
		assert.True(t, seen[word], "word %s missing from all chunks", word)
	}
}
