package embedders

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedderDeterministic(t *testing.T) {
	embedder := NewHashEmbedder(64)
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "fleet compliance software")
	require.NoError(t, err)
	second, err := embedder.Embed(ctx, "fleet compliance software")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHashEmbedderNormalized(t *testing.T) {
	embedder := NewHashEmbedder(64)

	vector, err := embedder.Embed(context.Background(), "some words to embed")
	require.NoError(t, err)
	require.Len(t, vector, 64)

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderSimilarity(t *testing.T) {
	embedder := NewHashEmbedder(128)
	ctx := context.Background()

	base, err := embedder.Embed(ctx, "electronic logging device compliance")
	require.NoError(t, err)
	related, err := embedder.Embed(ctx, "electronic logging device rules")
	require.NoError(t, err)
	unrelated, err := embedder.Embed(ctx, "quarterly marketing newsletter draft")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, related), cosine(base, unrelated))
}

func TestHashEmbedderCaseAndPunctuationInsensitive(t *testing.T) {
	embedder := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := embedder.Embed(ctx, "Fleet Compliance!")
	require.NoError(t, err)
	b, err := embedder.Embed(ctx, "fleet, compliance")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	embedder := NewHashEmbedder(32)

	vector, err := embedder.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vector, 32)
	for _, v := range vector {
		assert.Zero(t, v)
	}
}

func TestHashEmbedderBatch(t *testing.T) {
	embedder := NewHashEmbedder(64)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	single, err := embedder.Embed(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, single, vectors[1])
}

func TestHashEmbedderDefaultDimension(t *testing.T) {
	embedder := NewHashEmbedder(0)
	assert.Equal(t, defaultHashDimension, embedder.Dimension())
}
