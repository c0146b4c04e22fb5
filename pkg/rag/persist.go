package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
)

const metaPrefix = "meta_"

// persistentStore mirrors the in-memory index to disk with chromem-go so the
// knowledge base survives restarts. The in-memory snapshot stays the source
// of truth for queries; the store is only read back at startup.
type persistentStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	path       string
}

func newPersistentStore(path, collection string) (*persistentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	db := chromem.NewDB()
	if _, err := os.Stat(path); err == nil {
		if err := db.ImportFromFile(path, ""); err != nil {
			slog.Warn("Failed to load existing knowledge store, starting fresh",
				"path", path,
				"error", err)
			db = chromem.NewDB()
		} else {
			slog.Info("Loaded knowledge store", "path", path)
		}
	}

	// Embeddings are always pre-computed by the engine's embedder.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	col, err := db.GetOrCreateCollection(collection, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", collection, err)
	}

	return &persistentStore{
		db:         db,
		collection: col,
		path:       path,
	}, nil
}

// loadAll reads every stored chunk back into index entries. The dimension is
// needed to form the probe vector that retrieves the full collection.
func (s *persistentStore) loadAll(ctx context.Context, dimension int) ([]indexEntry, uint64, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, 0, nil
	}

	probe := make([]float32, dimension)
	probe[0] = 1

	results, err := s.collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read back collection: %w", err)
	}

	var maxSeq uint64
	entries := make([]indexEntry, 0, len(results))
	for _, res := range results {
		entry, err := entryFromStored(res)
		if err != nil {
			slog.Warn("Skipping malformed stored chunk", "id", res.ID, "error", err)
			continue
		}
		if entry.Seq > maxSeq {
			maxSeq = entry.Seq
		}
		entries = append(entries, entry)
	}
	return entries, maxSeq, nil
}

// replaceDocument drops all stored chunks of a document and writes the fresh
// set, then flushes to disk.
func (s *persistentStore) replaceDocument(ctx context.Context, docID string, fresh []indexEntry) error {
	if err := s.collection.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
		return fmt.Errorf("failed to drop previous chunks: %w", err)
	}

	docs := make([]chromem.Document, 0, len(fresh))
	for _, entry := range fresh {
		metadata := map[string]string{
			"doc_id":      entry.DocumentID,
			"chunk_index": strconv.Itoa(entry.Index),
			"seq":         strconv.FormatUint(entry.Seq, 10),
			"ingested_at": strconv.FormatInt(entry.IngestedAt.UnixNano(), 10),
		}
		for k, v := range entry.Metadata {
			metadata[metaPrefix+k] = v
		}

		docs = append(docs, chromem.Document{
			ID:        entry.ID,
			Content:   entry.Content,
			Metadata:  metadata,
			Embedding: toFloat32(entry.vec),
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return s.flush()
}

func (s *persistentStore) deleteDocument(ctx context.Context, docID string) error {
	if err := s.collection.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
		return fmt.Errorf("failed to delete stored chunks: %w", err)
	}
	return s.flush()
}

func (s *persistentStore) flush() error {
	if err := s.db.ExportToFile(s.path, false, ""); err != nil {
		return fmt.Errorf("failed to flush knowledge store: %w", err)
	}
	return nil
}

func (s *persistentStore) close() error {
	return s.flush()
}

func entryFromStored(res chromem.Result) (indexEntry, error) {
	docID := res.Metadata["doc_id"]
	if docID == "" {
		return indexEntry{}, fmt.Errorf("missing doc_id")
	}

	chunkIndex, err := strconv.Atoi(res.Metadata["chunk_index"])
	if err != nil {
		return indexEntry{}, fmt.Errorf("bad chunk_index: %w", err)
	}
	seq, err := strconv.ParseUint(res.Metadata["seq"], 10, 64)
	if err != nil {
		return indexEntry{}, fmt.Errorf("bad seq: %w", err)
	}
	ingestedNanos, err := strconv.ParseInt(res.Metadata["ingested_at"], 10, 64)
	if err != nil {
		return indexEntry{}, fmt.Errorf("bad ingested_at: %w", err)
	}

	var metadata map[string]string
	for k, v := range res.Metadata {
		if rest, ok := strings.CutPrefix(k, metaPrefix); ok {
			if metadata == nil {
				metadata = map[string]string{}
			}
			metadata[rest] = v
		}
	}

	return indexEntry{
		Chunk: Chunk{
			ID:         res.ID,
			DocumentID: docID,
			Index:      chunkIndex,
			Content:    res.Content,
			Metadata:   metadata,
			Seq:        seq,
			IngestedAt: time.Unix(0, ingestedNanos),
		},
		vec: normalize(res.Embedding),
	}, nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
