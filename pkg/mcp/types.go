package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// HealthStatus is a tool server's registry health state.
type HealthStatus string

const (
	HealthUp       HealthStatus = "UP"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthDown     HealthStatus = "DOWN"
)

// Capability declares one operation a tool server accepts, with JSON Schemas
// for the request and response shapes.
type Capability struct {
	Operation      string          `json:"operation"`
	Description    string          `json:"description,omitempty"`
	RequestSchema  json.RawMessage `json:"request_schema"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
}

// ServerDescriptor identifies a tool server and its declared capabilities.
// Health fields are owned by the registry; callers receive copies.
type ServerDescriptor struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Capabilities  []Capability  `json:"capabilities"`
	Timeout       time.Duration `json:"timeout"`
	Health        HealthStatus  `json:"health"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`

	// Consecutive failures before health transitions.
	DegradedThreshold int `json:"degraded_threshold"`
	DownThreshold     int `json:"down_threshold"`
}

// Handler executes operations on behalf of a tool server. Local servers
// implement it directly; remote servers are wrapped by an HTTP or stdio
// transport handler.
type Handler interface {
	// Serve executes one operation. The context carries the per-server
	// deadline set by the dispatcher.
	Serve(ctx context.Context, operation string, payload map[string]any) (map[string]any, error)

	// Ping is the heartbeat probe used by the background health checker.
	Ping(ctx context.Context) error
}

// Request is the uniform protocol envelope agents submit.
type Request struct {
	Server    string         `json:"server"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Status of a Response.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Response is the uniform protocol envelope returned by Invoke.
type Response struct {
	Status    Status           `json:"status"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Error     *ErrorDescriptor `json:"error,omitempty"`
	LatencyMs int64            `json:"latency_ms"`
}

// Latency returns the response latency as a duration.
func (r *Response) Latency() time.Duration {
	return time.Duration(r.LatencyMs) * time.Millisecond
}
