package rag

import (
	"fmt"
	"strings"
)

// ChunkerConfig sizes the overlapping chunker. Size and Overlap are in words,
// not bytes, so chunks never split mid-word regardless of language.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

func (c *ChunkerConfig) SetDefaults() {
	if c.Size == 0 {
		c.Size = 500
	}
	if c.Overlap == 0 {
		c.Overlap = 50
	}
}

func (c *ChunkerConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("chunk overlap cannot be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// Chunker splits documents into overlapping word windows. Overlap preserves
// context at chunk boundaries, which improves retrieval when relevant
// information spans two chunks.
type Chunker struct {
	config ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Chunk splits content into overlapping word windows. Content that fits in a
// single window comes back as one chunk; empty or whitespace-only content
// yields no chunks.
func (c *Chunker) Chunk(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	if len(words) <= c.config.Size {
		return []string{strings.Join(words, " ")}
	}

	step := c.config.Size - c.config.Overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.config.Size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))

		// The final window already covers the tail; a further step would
		// only produce a strict suffix of it.
		if end == len(words) {
			break
		}
	}
	return chunks
}

func (c *Chunker) Config() ChunkerConfig {
	return c.config
}
