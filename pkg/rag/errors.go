package rag

import (
	"errors"
	"fmt"
)

// ErrEmptyIndex is returned by Query when nothing has been ingested yet.
// Callers are expected to degrade (answer without retrieved context) rather
// than fail the turn.
var ErrEmptyIndex = errors.New("rag: index is empty")

// IngestError reports a failure while chunking, embedding or persisting a
// document. The index snapshot is never left partially updated.
type IngestError struct {
	DocumentID string
	Stage      string // "chunk", "embed", "persist"
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest of %q failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// SearchError reports a retrieval failure, typically from the embedder.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	query := e.Query
	if len(query) > 50 {
		query = query[:50] + "..."
	}
	return fmt.Sprintf("search failed (query: %q): %v", query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
