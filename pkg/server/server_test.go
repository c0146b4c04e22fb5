package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/embedders"
	"github.com/fleetworthy/salesagent/pkg/extraction"
	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/orchestrator"
	"github.com/fleetworthy/salesagent/pkg/rag"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

type echoAgent struct{}

func (echoAgent) Name() string { return agent.NameSales }

func (echoAgent) Respond(_ context.Context, _ *conversation.Conversation, message string) (*agent.Contribution, error) {
	return &agent.Contribution{
		Agent:       agent.NameSales,
		Content:     "You asked: " + message,
		Specificity: 0.5,
		RetrievedAt: time.Now(),
	}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	engine, err := rag.NewEngine(&config.RAGConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
		DefaultTopK:  5,
	}, embedders.NewHashEmbedder(64))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	store, err := toolserver.NewConversationStore(&config.MemoryConfig{Backend: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	service := mcp.NewService()
	memory := toolserver.NewMemoryServer(store)
	require.NoError(t, service.Register(memory.Descriptor(5*time.Second), memory))
	files := toolserver.NewFileServer(extraction.NewRegistry(), engine)
	require.NoError(t, service.Register(files.Descriptor(5*time.Second), files))

	orch := orchestrator.New(service, []agent.Agent{echoAgent{}})
	srv := New(Config{UploadDir: t.TempDir()}, orch, service, prometheus.NewRegistry())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPostMessage(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]any{
		"conversation_id": "conv-1",
		"message":         "what are the pricing tiers?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "conv-1", body["conversation_id"])
	assert.Equal(t, "You asked: what are the pricing tiers?", body["reply"])
}

func TestPostMessageGeneratesConversationID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["conversation_id"])
}

func TestPostMessageValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	raw, err := http.Post(ts.URL+"/api/messages", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	raw.Body.Close()
}

func TestConversationRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversations/conv-42/messages", map[string]any{
		"message": "first question",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	get, err := http.Get(ts.URL + "/api/conversations/conv-42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get.StatusCode)

	body := decodeBody(t, get)
	assert.Equal(t, "conv-42", body["id"])
	turns, ok := body["turns"].([]any)
	require.True(t, ok)
	assert.Len(t, turns, 2)
}

func TestGetUnknownConversation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/conversations/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveConversation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversations/conv-7/messages", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	archive, err := http.Post(ts.URL+"/api/conversations/conv-7/archive", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, archive.StatusCode)
	archive.Body.Close()

	// Archived conversations reject further messages.
	rejected := postJSON(t, ts.URL+"/api/conversations/conv-7/messages", map[string]any{"message": "more"})
	defer rejected.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
}

func TestDocumentUpload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "faq.txt")
	require.NoError(t, err)
	_, err = io.WriteString(part, "The trial period lasts thirty days.")
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("company", "acme"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(ts.URL+"/api/documents", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "faq.txt", body["document_id"])
	assert.Equal(t, float64(1), body["chunks"])
}

func TestDocumentUploadMissingFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("company", "acme"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(ts.URL+"/api/documents", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestListServers(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/servers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	servers, ok := body["servers"].([]any)
	require.True(t, ok)
	assert.Len(t, servers, 2)

	names := make([]string, 0, len(servers))
	for _, s := range servers {
		entry := s.(map[string]any)
		names = append(names, entry["name"].(string))
		assert.Equal(t, string(mcp.HealthUp), entry["health"])
	}
	assert.ElementsMatch(t, []string{toolserver.ServerMemory, toolserver.ServerFileProcessing}, names)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsAreIndependent(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/api/messages", map[string]any{
			"conversation_id": fmt.Sprintf("conv-%d", i),
			"message":         "hello",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}
