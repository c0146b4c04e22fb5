package extraction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySupports(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		path string
		want bool
	}{
		{"report.pdf", true},
		{"contract.docx", true},
		{"notes.txt", true},
		{"readme.md", true},
		{"README.MD", true},
		{"data.csv", true},
		{"image.png", false},
		{"archive.zip", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, registry.Supports(tt.path))
		})
	}
}

func TestRegistryExtensionsSorted(t *testing.T) {
	extensions := NewRegistry().Extensions()
	require.NotEmpty(t, extensions)

	assert.Contains(t, extensions, ".pdf")
	assert.Contains(t, extensions, ".docx")
	assert.Contains(t, extensions, ".txt")
	assert.IsIncreasing(t, extensions)
}

func TestTextExtraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	content := "first line\nsecond line\nthird line"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := NewRegistry().Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, content, result.Content)
	assert.Equal(t, "txt", result.Metadata["type"])
	assert.Equal(t, "3", result.Metadata["lines"])
}

func TestTextExtractionRejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.txt")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0o644))

	_, err := NewRegistry().Extract(context.Background(), path)
	assert.Error(t, err)
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "diagram.svg")
	assert.Error(t, err)
}

func TestExtractMissingFile(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "/nonexistent/notes.txt")
	assert.Error(t, err)
}
