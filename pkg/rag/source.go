package rag

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fleetworthy/salesagent/pkg/extraction"
)

// DirectorySource feeds a knowledge directory into the engine: a full scan at
// startup and, optionally, incremental updates from a file watcher.
type DirectorySource struct {
	dir        string
	engine     *Engine
	extractors *extraction.Registry
}

func NewDirectorySource(dir string, engine *Engine, extractors *extraction.Registry) *DirectorySource {
	return &DirectorySource{
		dir:        dir,
		engine:     engine,
		extractors: extractors,
	}
}

// Scan walks the directory and ingests every supported file. Document IDs are
// paths relative to the directory, so a rescan replaces rather than
// duplicates. Files that fail extraction are logged and skipped.
func (s *DirectorySource) Scan(ctx context.Context) (int, error) {
	var ingested int

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.extractors.Supports(path) {
			return nil
		}

		if err := s.ingestFile(ctx, path); err != nil {
			slog.Warn("Skipping knowledge file", "path", path, "error", err)
			return nil
		}
		ingested++
		return nil
	})
	if err != nil {
		return ingested, fmt.Errorf("failed to scan %s: %w", s.dir, err)
	}

	slog.Info("Scanned knowledge directory", "dir", s.dir, "documents", ingested)
	return ingested, nil
}

func (s *DirectorySource) ingestFile(ctx context.Context, path string) error {
	result, err := s.extractors.Extract(ctx, path)
	if err != nil {
		return err
	}

	docID, err := s.documentID(path)
	if err != nil {
		return err
	}

	metadata := map[string]string{"source": docID}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	_, err = s.engine.Ingest(ctx, Document{
		ID:       docID,
		Content:  result.Content,
		Metadata: metadata,
	})
	return err
}

func (s *DirectorySource) removeFile(ctx context.Context, path string) error {
	docID, err := s.documentID(path)
	if err != nil {
		return err
	}
	return s.engine.Remove(ctx, docID)
}

func (s *DirectorySource) documentID(path string) (string, error) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return "", fmt.Errorf("path %s is outside the knowledge directory: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}
