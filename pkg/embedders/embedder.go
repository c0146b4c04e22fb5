// Package embedders provides the embedding providers used by the RAG engine.
package embedders

import (
	"context"
	"fmt"

	"github.com/fleetworthy/salesagent/pkg/config"
)

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// New builds an embedder from config. The hash provider needs no network and
// is the zero-config default.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %q", cfg.Provider)
	}
}
