package toolserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/rag"
)

// Knowledge server operations.
const (
	OpKnowledgeSearch = "search"
	OpKnowledgeIngest = "ingest"
	OpKnowledgeStats  = "stats"
)

// KnowledgeServer exposes the RAG engine as a tool server.
type KnowledgeServer struct {
	engine *rag.Engine
}

func NewKnowledgeServer(engine *rag.Engine) *KnowledgeServer {
	return &KnowledgeServer{engine: engine}
}

type KnowledgeSearchRequest struct {
	Query  string            `json:"query"`
	TopK   int               `json:"top_k,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

type KnowledgeSearchResult struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type KnowledgeSearchResponse struct {
	Results []KnowledgeSearchResult `json:"results"`
	Count   int                     `json:"count"`

	// EmptyIndex marks a query against a corpus with no eligible chunks.
	// It is reported in-band so an empty knowledge base is not mistaken
	// for a failing server.
	EmptyIndex bool `json:"empty_index,omitempty"`
}

type KnowledgeIngestRequest struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type KnowledgeIngestResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

func (s *KnowledgeServer) Descriptor(timeout time.Duration) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{
		Name:        ServerSalesKnowledge,
		Description: "Retrieval over the indexed sales knowledge corpus",
		Timeout:     timeout,
		Capabilities: []mcp.Capability{
			{
				Operation:      OpKnowledgeSearch,
				Description:    "Search the knowledge corpus by semantic similarity",
				RequestSchema:  mcp.SchemaFor(&KnowledgeSearchRequest{}),
				ResponseSchema: mcp.SchemaFor(&KnowledgeSearchResponse{}),
			},
			{
				Operation:      OpKnowledgeIngest,
				Description:    "Ingest a document, replacing any prior version",
				RequestSchema:  mcp.SchemaFor(&KnowledgeIngestRequest{}),
				ResponseSchema: mcp.SchemaFor(&KnowledgeIngestResponse{}),
			},
			{
				Operation:      OpKnowledgeStats,
				Description:    "Report corpus size and last ingestion time",
				RequestSchema:  mcp.SchemaFor(&emptyRequest{}),
				ResponseSchema: mcp.SchemaFor(&rag.Stats{}),
			},
		},
	}
}

func (s *KnowledgeServer) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	switch operation {
	case OpKnowledgeSearch:
		return s.search(ctx, payload)
	case OpKnowledgeIngest:
		return s.ingest(ctx, payload)
	case OpKnowledgeStats:
		return encode(s.engine.Stats())
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (s *KnowledgeServer) Ping(_ context.Context) error {
	return nil
}

func (s *KnowledgeServer) search(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var req KnowledgeSearchRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	results, err := s.engine.Query(ctx, req.Query, rag.QueryOptions{
		TopK:   req.TopK,
		Filter: req.Filter,
	})
	if err != nil {
		if errors.Is(err, rag.ErrEmptyIndex) {
			return encode(KnowledgeSearchResponse{Results: []KnowledgeSearchResult{}, EmptyIndex: true})
		}
		return nil, err
	}

	resp := KnowledgeSearchResponse{
		Results: make([]KnowledgeSearchResult, 0, len(results)),
		Count:   len(results),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, KnowledgeSearchResult{
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Score:      r.Score,
		})
	}
	return encode(resp)
}

func (s *KnowledgeServer) ingest(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var req KnowledgeIngestRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	chunks, err := s.engine.Ingest(ctx, rag.Document{
		ID:       req.ID,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return encode(KnowledgeIngestResponse{DocumentID: req.ID, Chunks: chunks})
}

var _ mcp.Handler = (*KnowledgeServer)(nil)
