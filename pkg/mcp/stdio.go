package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// StdioHandlerConfig configures a subprocess tool server handler.
type StdioHandlerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// StdioHandler runs a tool server as a subprocess and talks to it over
// stdin/stdout. The subprocess is started lazily on first use and restarted
// on the next call after a connection failure.
type StdioHandler struct {
	cfg StdioHandlerConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

// NewStdioHandler creates a handler for a subprocess tool server.
func NewStdioHandler(cfg StdioHandlerConfig) (*StdioHandler, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required for stdio tool server %q", cfg.Name)
	}
	return &StdioHandler{cfg: cfg}, nil
}

// Serve executes one operation via tools/call on the subprocess.
func (h *StdioHandler) Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	mcpClient, err := h.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = operation
	req.Params.Arguments = payload

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		h.disconnect()
		return nil, fmt.Errorf("subprocess call failed: %w", err)
	}

	return parseStdioResult(resp)
}

// Ping probes the subprocess with a tools/list round trip.
func (h *StdioHandler) Ping(ctx context.Context) error {
	mcpClient, err := h.ensureConnected(ctx)
	if err != nil {
		return err
	}

	if _, err := mcpClient.ListTools(ctx, mcpgo.ListToolsRequest{}); err != nil {
		h.disconnect()
		return fmt.Errorf("subprocess ping failed: %w", err)
	}
	return nil
}

// Close terminates the subprocess.
func (h *StdioHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		err := h.client.Close()
		h.client = nil
		h.connected = false
		return err
	}
	return nil
}

func (h *StdioHandler) ensureConnected(ctx context.Context) (*client.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connected {
		return h.client, nil
	}

	mcpClient, err := client.NewStdioMCPClient(h.cfg.Command, convertEnv(h.cfg.Env), h.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create subprocess client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start subprocess: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "salesagent",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize subprocess: %w", err)
	}

	h.client = mcpClient
	h.connected = true

	slog.Info("Connected to subprocess tool server",
		"server", h.cfg.Name,
		"command", h.cfg.Command)

	return mcpClient, nil
}

func (h *StdioHandler) disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		h.client.Close()
		h.client = nil
	}
	h.connected = false
}

func parseStdioResult(resp *mcpgo.CallToolResult) (map[string]any, error) {
	if resp.IsError {
		for _, content := range resp.Content {
			if textContent, ok := content.(mcpgo.TextContent); ok {
				return nil, fmt.Errorf("subprocess tool error: %s", textContent.Text)
			}
		}
		return nil, fmt.Errorf("subprocess tool error")
	}

	result := make(map[string]any)
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

var _ Handler = (*StdioHandler)(nil)
