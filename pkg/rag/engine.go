package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/floats"

	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/embedders"
	"github.com/fleetworthy/salesagent/pkg/observability"
)

// indexEntry is one chunk with its normalized vector. Vectors are normalized
// once at ingest so cosine similarity reduces to a dot product at query time.
type indexEntry struct {
	Chunk
	vec []float64
}

// index is an immutable snapshot. Queries read whatever snapshot is current
// when they start; ingestion builds a new snapshot and swaps the pointer.
type index struct {
	entries    []indexEntry
	docs       map[string]int // document ID -> chunk count
	lastIngest time.Time
}

// Engine is the retrieval engine. Reads are lock-free against the current
// snapshot; writes are serialized and swap in a fully-built replacement, so
// a query never observes a document half-replaced.
type Engine struct {
	embedder    embedders.Embedder
	chunker     *Chunker
	store       *persistentStore
	metrics     *observability.Metrics
	defaultTopK int

	current atomic.Pointer[index]
	seq     atomic.Uint64
	writeMu sync.Mutex
}

type EngineOption func(*Engine)

func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine builds the engine. A persist path in cfg enables the on-disk
// mirror; otherwise the index is memory-only.
func NewEngine(cfg *config.RAGConfig, embedder embedders.Embedder, opts ...EngineOption) (*Engine, error) {
	chunker, err := NewChunker(ChunkerConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, err
	}

	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 5
	}

	engine := &Engine{
		embedder:    embedder,
		chunker:     chunker,
		defaultTopK: topK,
	}
	for _, opt := range opts {
		opt(engine)
	}

	if cfg.PersistPath != "" {
		store, err := newPersistentStore(cfg.PersistPath, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent store: %w", err)
		}
		engine.store = store
	}

	engine.current.Store(&index{docs: map[string]int{}})
	return engine, nil
}

// Load rebuilds the in-memory snapshot from the persistent store. Call once
// at startup, before serving queries.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	entries, maxSeq, err := e.store.loadAll(ctx, e.embedder.Dimension())
	if err != nil {
		return fmt.Errorf("failed to reload index: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	next := &index{docs: map[string]int{}}
	next.entries = entries
	for _, entry := range entries {
		next.docs[entry.DocumentID]++
		if entry.IngestedAt.After(next.lastIngest) {
			next.lastIngest = entry.IngestedAt
		}
	}

	e.seq.Store(maxSeq)
	e.current.Store(next)
	e.metrics.RAGChunksSet(len(entries))

	slog.Info("Reloaded knowledge index",
		"documents", len(next.docs),
		"chunks", len(entries))
	return nil
}

// Ingest chunks, embeds and indexes a document, replacing any previous
// version with the same ID in a single snapshot swap. It returns the number
// of chunks indexed.
func (e *Engine) Ingest(ctx context.Context, doc Document) (int, error) {
	tracer := observability.GetTracer("salesagent.rag")
	ctx, span := tracer.Start(ctx, observability.SpanRAGIngest)
	defer span.End()
	span.SetAttributes(attribute.String("rag.document_id", doc.ID))

	if doc.ID == "" {
		return 0, &IngestError{Stage: "chunk", Err: fmt.Errorf("document ID cannot be empty")}
	}

	texts := e.chunker.Chunk(doc.Content)
	if len(texts) == 0 {
		return 0, &IngestError{DocumentID: doc.ID, Stage: "chunk", Err: fmt.Errorf("document has no content")}
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, &IngestError{DocumentID: doc.ID, Stage: "embed", Err: err}
	}
	if len(vectors) != len(texts) {
		return 0, &IngestError{DocumentID: doc.ID, Stage: "embed",
			Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Assigned under the write lock so sequence order matches commit order
	// and the recency tie-break prefers the last committed document.
	seq := e.seq.Add(1)
	now := time.Now()
	fresh := make([]indexEntry, len(texts))
	for i, text := range texts {
		fresh[i] = indexEntry{
			Chunk: Chunk{
				ID:         fmt.Sprintf("%s#%d@%d", doc.ID, i, seq),
				DocumentID: doc.ID,
				Index:      i,
				Content:    text,
				Metadata:   doc.Metadata,
				Seq:        seq,
				IngestedAt: now,
			},
			vec: normalize(vectors[i]),
		}
	}

	old := e.current.Load()
	next := &index{
		entries:    make([]indexEntry, 0, len(old.entries)+len(fresh)),
		docs:       make(map[string]int, len(old.docs)+1),
		lastIngest: now,
	}
	for docID, count := range old.docs {
		if docID != doc.ID {
			next.docs[docID] = count
		}
	}
	for _, entry := range old.entries {
		if entry.DocumentID != doc.ID {
			next.entries = append(next.entries, entry)
		}
	}
	next.entries = append(next.entries, fresh...)
	next.docs[doc.ID] = len(fresh)

	if e.store != nil {
		if err := e.store.replaceDocument(ctx, doc.ID, fresh); err != nil {
			return 0, &IngestError{DocumentID: doc.ID, Stage: "persist", Err: err}
		}
	}

	e.current.Store(next)
	e.metrics.RecordRAGIngest(len(next.entries))

	slog.Debug("Ingested document",
		"document_id", doc.ID,
		"chunks", len(fresh),
		"index_chunks", len(next.entries))
	return len(fresh), nil
}

// Remove drops all chunks of a document. Removing an unknown ID is a no-op.
func (e *Engine) Remove(ctx context.Context, docID string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old := e.current.Load()
	if _, exists := old.docs[docID]; !exists {
		return nil
	}

	next := &index{
		entries:    make([]indexEntry, 0, len(old.entries)),
		docs:       make(map[string]int, len(old.docs)),
		lastIngest: old.lastIngest,
	}
	for id, count := range old.docs {
		if id != docID {
			next.docs[id] = count
		}
	}
	for _, entry := range old.entries {
		if entry.DocumentID != docID {
			next.entries = append(next.entries, entry)
		}
	}

	if e.store != nil {
		if err := e.store.deleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("failed to remove %q from store: %w", docID, err)
		}
	}

	e.current.Store(next)
	e.metrics.RAGChunksSet(len(next.entries))

	slog.Debug("Removed document", "document_id", docID)
	return nil
}

// Query embeds the query and returns the topK most similar chunks, highest
// score first. Equal scores break toward the most recently ingested chunk.
// An empty index, or a filter that matches no chunks, returns ErrEmptyIndex.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) ([]SearchResult, error) {
	tracer := observability.GetTracer("salesagent.rag")
	_, span := tracer.Start(ctx, observability.SpanRAGQuery)
	defer span.End()

	snapshot := e.current.Load()
	if snapshot == nil || len(snapshot.entries) == 0 {
		return nil, ErrEmptyIndex
	}

	e.metrics.RecordRAGQuery()

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}
	queryVec := normalize(vector)

	topK := opts.TopK
	if topK <= 0 {
		topK = e.defaultTopK
	}

	results := make([]SearchResult, 0, len(snapshot.entries))
	for _, entry := range snapshot.entries {
		if !matchesFilter(entry.Metadata, opts.Filter) {
			continue
		}
		results = append(results, SearchResult{
			Chunk: entry.Chunk,
			Score: floats.Dot(queryVec, entry.vec),
		})
	}
	if len(results) == 0 {
		return nil, ErrEmptyIndex
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Seq != results[j].Seq {
			return results[i].Seq > results[j].Seq
		}
		return results[i].Index < results[j].Index
	})

	if len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("rag.results", len(results)))
	return results, nil
}

// Stats reports on the current snapshot.
func (e *Engine) Stats() Stats {
	snapshot := e.current.Load()
	return Stats{
		Documents:  len(snapshot.docs),
		Chunks:     len(snapshot.entries),
		LastIngest: snapshot.lastIngest,
		Embedder:   e.embedder.ModelName(),
	}
}

// DocumentIDs returns the IDs currently in the index, unordered.
func (e *Engine) DocumentIDs() []string {
	snapshot := e.current.Load()
	ids := make([]string, 0, len(snapshot.docs))
	for id := range snapshot.docs {
		ids = append(ids, id)
	}
	return ids
}

// Close flushes the persistent store.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.close()
	}
	return nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

func normalize(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	norm := floats.Norm(out, 2)
	if norm > 0 && !math.IsInf(norm, 1) {
		floats.Scale(1/norm, out)
	}
	return out
}
