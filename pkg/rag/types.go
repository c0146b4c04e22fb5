// Package rag implements the retrieval engine backing the knowledge tools:
// word-based overlapping chunking, embedding, an in-memory cosine index with
// atomic snapshot swaps, and optional file persistence.
package rag

import "time"

// Document is the unit of ingestion. Re-ingesting the same ID atomically
// replaces all chunks derived from the previous version.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is one indexed slice of a document.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Index      int               `json:"index"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Seq is the ingestion sequence number, shared by all chunks of one
	// ingest call. Ties on similarity score break toward the higher Seq.
	Seq uint64 `json:"seq"`

	IngestedAt time.Time `json:"ingested_at"`
}

// SearchResult pairs a chunk with its cosine similarity to the query.
type SearchResult struct {
	Chunk
	Score float64 `json:"score"`
}

// QueryOptions control a retrieval query.
type QueryOptions struct {
	// TopK limits the number of results. Zero means the engine default.
	TopK int

	// Filter restricts results to chunks whose metadata contains every
	// listed key/value pair.
	Filter map[string]string
}

// Stats summarizes the current index snapshot.
type Stats struct {
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	LastIngest time.Time `json:"last_ingest,omitempty"`
	Embedder   string    `json:"embedder"`
}
