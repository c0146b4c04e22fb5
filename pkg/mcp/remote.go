package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetworthy/salesagent/pkg/httpclient"
)

const defaultSSEResponseTimeout = 5 * time.Minute

// HTTPHandlerConfig configures a remote HTTP tool server handler.
type HTTPHandlerConfig struct {
	Name       string
	URL        string
	MaxRetries int
	SSETimeout time.Duration
}

// HTTPHandler speaks JSON-RPC 2.0 over HTTP to a remote tool server. Servers
// that answer with text/event-stream get the first complete response read off
// the stream. Connection setup is lazy: the initialize handshake happens on
// the first Serve or Ping.
type HTTPHandler struct {
	cfg    HTTPHandlerConfig
	client *httpclient.Client

	mu          sync.Mutex
	initialized bool
	sessionID   string
	requestID   atomic.Int64
}

// NewHTTPHandler creates a handler for a remote HTTP tool server.
func NewHTTPHandler(cfg HTTPHandlerConfig) (*HTTPHandler, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required for HTTP tool server %q", cfg.Name)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = defaultSSEResponseTimeout
	}

	return &HTTPHandler{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}, nil
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve executes one operation on the remote server via tools/call.
func (h *HTTPHandler) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	if err := h.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	resp, err := h.call(ctx, "tools/call", map[string]any{
		"name":      operation,
		"arguments": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("remote call failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("remote server error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return parseCallResult(resp.Result)
}

// Ping probes the remote server. An uninitialized connection is established
// first; afterwards a tools/list round trip counts as liveness.
func (h *HTTPHandler) Ping(ctx context.Context) error {
	if err := h.ensureInitialized(ctx); err != nil {
		return err
	}

	resp, err := h.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("remote server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

func (h *HTTPHandler) ensureInitialized(ctx context.Context) error {
	h.mu.Lock()
	initialized := h.initialized
	h.mu.Unlock()
	if initialized {
		return nil
	}

	resp, err := h.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name":    "salesagent",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize remote server %q: %w", h.cfg.Name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("remote server %q rejected initialize: %s", h.cfg.Name, resp.Error.Message)
	}

	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()

	slog.Info("Connected to remote tool server", "server", h.cfg.Name, "url", h.cfg.URL)
	return nil
}

// call sends a JSON-RPC request, handling both plain JSON and SSE responses.
func (h *HTTPHandler) call(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      h.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	h.mu.Lock()
	sessionID := h.sessionID
	h.mu.Unlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		slog.Debug("Remote tool server request failed",
			"server", h.cfg.Name,
			"method", method,
			"error", err)
		return nil, err
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		h.mu.Lock()
		h.sessionID = newSessionID
		h.mu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(responseBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return h.readSSEResponse(httpResp)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC response off an SSE stream.
func (h *HTTPHandler) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}

			lineStr := strings.TrimSpace(string(line))

			// Empty line signals end of event
			if lineStr == "" {
				if currentData.Len() > 0 {
					var resp jsonRPCResponse
					if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
						resultChan <- result{response: &resp}
						return
					}
					currentData.Reset()
				}
				continue
			}

			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if currentData.Len() > 0 {
			var resp jsonRPCResponse
			if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
				resultChan <- result{response: &resp}
				return
			}
		}
		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(h.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", h.cfg.SSETimeout)
	}
}

// parseCallResult flattens an MCP tools/call result into a payload map.
// Structured content wins when present; otherwise text content is collected.
func parseCallResult(raw any) (map[string]any, error) {
	resultMap, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{"result": raw}, nil
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		return nil, fmt.Errorf("remote tool error: %s", firstTextContent(resultMap))
	}

	if structured, ok := resultMap["structuredContent"].(map[string]any); ok {
		return structured, nil
	}

	result := make(map[string]any)
	if content, ok := resultMap["content"].([]any); ok {
		var texts []string
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok && cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		switch len(texts) {
		case 0:
		case 1:
			result["result"] = texts[0]
		default:
			result["results"] = texts
		}
	}
	return result, nil
}

func firstTextContent(resultMap map[string]any) string {
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if text, ok := cm["text"].(string); ok {
					return text
				}
			}
		}
	}
	return "unknown error"
}

var _ Handler = (*HTTPHandler)(nil)
