package embedders

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimension = 256

// HashEmbedder is a deterministic feature-hashing embedder. It buckets
// lowercase word tokens with FNV-1a and L2-normalizes the result, so equal
// texts always produce equal vectors and overlapping vocabularies score
// higher cosine similarity. It needs no API key or network, which makes it
// the zero-config default and the embedder used in tests.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dimension)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, token := range tokens {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()

		// Sign bit from the hash keeps bucket collisions from only adding up.
		bucket := int(sum % uint32(e.dimension))
		if sum&0x80000000 != 0 {
			vector[bucket] -= 1
		} else {
			vector[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, embedding)
	}
	return results, nil
}

func (e *HashEmbedder) Dimension() int    { return e.dimension }
func (e *HashEmbedder) ModelName() string { return "feature-hash" }
func (e *HashEmbedder) Close() error      { return nil }
