package toolserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/embedders"
	"github.com/fleetworthy/salesagent/pkg/extraction"
	"github.com/fleetworthy/salesagent/pkg/rag"
)

func newFileServer(t *testing.T) (*FileServer, *rag.Engine) {
	t.Helper()

	engine, err := rag.NewEngine(&config.RAGConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
		DefaultTopK:  5,
	}, embedders.NewHashEmbedder(64))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return NewFileServer(extraction.NewRegistry(), engine), engine
}

func TestFileProcessIndexesTextDocument(t *testing.T) {
	server, engine := newFileServer(t)

	path := filepath.Join(t.TempDir(), "onboarding.txt")
	require.NoError(t, os.WriteFile(path, []byte("New customers complete onboarding in two weeks."), 0o644))

	payload, err := server.Serve(context.Background(), OpFileProcess, map[string]any{
		"path":     path,
		"metadata": map[string]any{"company": "acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, "onboarding.txt", payload["document_id"])
	assert.Equal(t, float64(1), payload["chunks"])

	results, err := engine.Query(context.Background(), "customer onboarding", rag.QueryOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "onboarding.txt", results[0].DocumentID)
	assert.Equal(t, "acme", results[0].Metadata["company"])
	assert.Equal(t, "onboarding.txt", results[0].Metadata["source"])
}

func TestFileProcessExplicitDocumentID(t *testing.T) {
	server, engine := newFileServer(t)

	path := filepath.Join(t.TempDir(), "upload-123.md")
	require.NoError(t, os.WriteFile(path, []byte("# Pricing\n\nVolume discounts start at 50 units."), 0o644))

	payload, err := server.Serve(context.Background(), OpFileProcess, map[string]any{
		"path":        path,
		"document_id": "pricing.md",
	})
	require.NoError(t, err)
	assert.Equal(t, "pricing.md", payload["document_id"])
	assert.ElementsMatch(t, []string{"pricing.md"}, engine.DocumentIDs())
}

func TestFileProcessErrors(t *testing.T) {
	server, _ := newFileServer(t)
	ctx := context.Background()

	_, err := server.Serve(ctx, OpFileProcess, map[string]any{"path": ""})
	assert.Error(t, err)

	_, err = server.Serve(ctx, OpFileProcess, map[string]any{"path": "/nonexistent/file.txt"})
	assert.Error(t, err)

	unsupported := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(unsupported, []byte{0x89, 0x50}, 0o644))
	_, err = server.Serve(ctx, OpFileProcess, map[string]any{"path": unsupported})
	assert.Error(t, err)
}

func TestFileSupportedTypes(t *testing.T) {
	server, _ := newFileServer(t)

	payload, err := server.Serve(context.Background(), OpFileTypes, nil)
	require.NoError(t, err)

	raw, ok := payload["extensions"].([]any)
	require.True(t, ok)

	extensions := make([]string, 0, len(raw))
	for _, e := range raw {
		extensions = append(extensions, e.(string))
	}
	assert.Contains(t, extensions, ".txt")
	assert.Contains(t, extensions, ".md")
	assert.Contains(t, extensions, ".pdf")
	assert.Contains(t, extensions, ".docx")
}
