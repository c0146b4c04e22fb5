package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type textExtractor struct{}

func (e *textExtractor) Supports(path string) bool {
	return hasExtension(path, ".txt", ".md", ".markdown", ".csv")
}

func (e *textExtractor) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".csv"}
}

func (e *textExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("file is not valid UTF-8 text")
	}

	return &Result{
		Content: content,
		Metadata: map[string]string{
			"type":  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			"lines": fmt.Sprintf("%d", strings.Count(content, "\n")+1),
		},
	}, nil
}
