package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
	docxTagRe       = regexp.MustCompile(`<[^>]+>`)
)

type docxExtractor struct{}

func (e *docxExtractor) Supports(path string) bool {
	return hasExtension(path, ".docx")
}

func (e *docxExtractor) Extensions() []string {
	return []string{".docx"}
}

func (e *docxExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Word document: %w", err)
	}
	defer doc.Close()

	// GetContent returns the raw document XML; keep paragraph breaks and
	// strip the rest of the markup.
	raw := doc.Editable().GetContent()
	raw = docxParagraphRe.ReplaceAllString(raw, "\n")
	text := docxTagRe.ReplaceAllString(raw, "")

	var paragraphs []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return &Result{
		Content: strings.Join(paragraphs, "\n\n"),
		Metadata: map[string]string{
			"type":       "docx",
			"paragraphs": fmt.Sprintf("%d", len(paragraphs)),
		},
	}, nil
}
