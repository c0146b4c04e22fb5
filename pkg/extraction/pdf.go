package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct{}

func (e *pdfExtractor) Supports(path string) bool {
	return hasExtension(path, ".pdf")
}

func (e *pdfExtractor) Extensions() []string {
	return []string{".pdf"}
}

func (e *pdfExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	totalPages := reader.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return &Result{
		Content: strings.Join(parts, "\n\n"),
		Metadata: map[string]string{
			"type":  "pdf",
			"pages": fmt.Sprintf("%d", totalPages),
		},
	}, nil
}
