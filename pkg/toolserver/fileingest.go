package toolserver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fleetworthy/salesagent/pkg/extraction"
	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/rag"
)

// File-processing server operations.
const (
	OpFileProcess = "process"
	OpFileTypes   = "supported_types"
)

// FileServer extracts text from uploaded documents and hands it to the
// knowledge index.
type FileServer struct {
	extractors *extraction.Registry
	engine     *rag.Engine
}

func NewFileServer(extractors *extraction.Registry, engine *rag.Engine) *FileServer {
	return &FileServer{extractors: extractors, engine: engine}
}

type FileProcessRequest struct {
	// Path is the server-local location of the uploaded file.
	Path string `json:"path"`

	// DocumentID overrides the default (the file's base name). Re-using an
	// ID replaces the previous document.
	DocumentID string `json:"document_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

type FileProcessResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Type       string `json:"type,omitempty"`
}

type FileTypesResponse struct {
	Extensions []string `json:"extensions"`
}

func (s *FileServer) Descriptor(timeout time.Duration) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:        ServerFileProcessing,
		Description: "Document extraction and knowledge ingestion",
		Timeout:     timeout,
		Capabilities: []mcp.Capability{
			{
				Operation:      OpFileProcess,
				Description:    "Extract a document and index it",
				RequestSchema:  mcp.SchemaFor(&FileProcessRequest{}),
				ResponseSchema: mcp.SchemaFor(&FileProcessResponse{}),
			},
			{
				Operation:      OpFileTypes,
				Description:    "List supported file extensions",
				RequestSchema:  mcp.SchemaFor(&emptyRequest{}),
				ResponseSchema: mcp.SchemaFor(&FileTypesResponse{}),
			},
		},
	}
}

func (s *FileServer) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	switch operation {
	case OpFileProcess:
		var req FileProcessRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		resp, err := s.process(ctx, req)
		if err != nil {
			return nil, err
		}
		return encode(resp)

	case OpFileTypes:
		return encode(FileTypesResponse{Extensions: s.extractors.Extensions()})

	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (s *FileServer) Ping(_ context.Context) error {
	return nil
}

func (s *FileServer) process(ctx context.Context, req FileProcessRequest) (*FileProcessResponse, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	result, err := s.extractors.Extract(ctx, req.Path)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	docID := req.DocumentID
	if docID == "" {
		docID = filepath.Base(req.Path)
	}

	metadata := map[string]string{"source": docID}
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	chunks, err := s.engine.Ingest(ctx, rag.Document{
		ID:       docID,
		Content:  result.Content,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	return &FileProcessResponse{
		DocumentID: docID,
		Chunks:     chunks,
		Type:       result.Metadata["type"],
	}, nil
}

var _ mcp.Handler = (*FileServer)(nil)
