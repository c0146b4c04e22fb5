// Package extraction turns uploaded files into plain text for ingestion.
package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Result is the extracted text plus whatever the format reveals about itself.
type Result struct {
	Content  string
	Metadata map[string]string
}

// Extractor handles one family of file formats.
type Extractor interface {
	Supports(path string) bool
	Extract(ctx context.Context, path string) (*Result, error)
	Extensions() []string
}

// Registry routes files to the extractor claiming their extension.
type Registry struct {
	extractors []Extractor
}

// NewRegistry creates a registry with the built-in extractors.
func NewRegistry() *Registry {
	return &Registry{
		extractors: []Extractor{
			&pdfExtractor{},
			&docxExtractor{},
			&textExtractor{},
		},
	}
}

// Extract routes the file to its extractor. Unsupported extensions fail.
func (r *Registry) Extract(ctx context.Context, path string) (*Result, error) {
	for _, extractor := range r.extractors {
		if extractor.Supports(path) {
			return extractor.Extract(ctx, path)
		}
	}
	return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
}

// Supports reports whether any extractor claims the file.
func (r *Registry) Supports(path string) bool {
	for _, extractor := range r.extractors {
		if extractor.Supports(path) {
			return true
		}
	}
	return false
}

// Extensions returns all supported extensions, sorted.
func (r *Registry) Extensions() []string {
	seen := make(map[string]bool)
	for _, extractor := range r.extractors {
		for _, ext := range extractor.Extensions() {
			seen[ext] = true
		}
	}

	out := make([]string, 0, len(seen))
	for ext := range seen {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func hasExtension(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range exts {
		if ext == candidate {
			return true
		}
	}
	return false
}
