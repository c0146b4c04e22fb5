// Package agent implements the sales, research and knowledge agents. Each
// consumes conversation state plus the latest user message, issues tool calls
// through the MCP service layer, and produces a candidate contribution. Tool
// failures are caught and converted into degraded contributions; they never
// escape an agent as fatal errors.
package agent

import (
	"context"
	"time"

	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/mcp"
)

// Agent names used in configuration and routing.
const (
	NameSales     = "sales"
	NameResearch  = "research"
	NameKnowledge = "knowledge"
)

// Contribution is one agent's candidate response for a turn.
type Contribution struct {
	Agent   string
	Content string

	// Degraded marks a contribution produced without the agent's backing
	// tools (tool failure, empty index, unconfigured search).
	Degraded bool

	// Specificity ranks conflicting contributions during merge; higher
	// values are preferred. Agents grounded in retrieved or live data set
	// higher specificity than generic replies.
	Specificity float64

	// RetrievedAt breaks specificity ties toward the freshest data.
	RetrievedAt time.Time

	// Facts are session facts the agent extracted from this turn. The
	// orchestrator applies them during merge; agents never mutate the
	// conversation directly.
	Facts map[string]string

	Invocations []conversation.ToolInvocation
}

// Agent produces a contribution for the latest user message. An error return
// is an AgentFailure: the agent could not produce even a degraded response.
type Agent interface {
	Name() string
	Respond(ctx context.Context, state *conversation.Conversation, message string) (*Contribution, error)
}

// Toolbox scopes an agent to its configured tool servers and records every
// invocation for the turn's audit trail.
type Toolbox struct {
	service *mcp.Service
	allowed map[string]bool
}

func NewToolbox(service *mcp.Service, servers []string) *Toolbox {
	allowed := make(map[string]bool, len(servers))
	for _, name := range servers {
		allowed[name] = true
	}
	return &Toolbox{service: service, allowed: allowed}
}

// Invoke dispatches one tool call. The returned invocation record is always
// populated, including on failure, so turns capture failed calls too.
func (t *Toolbox) Invoke(ctx context.Context, server, operation string, payload map[string]any) (map[string]any, conversation.ToolInvocation, error) {
	record := conversation.ToolInvocation{
		Server:    server,
		Operation: operation,
		Request:   payload,
	}

	if !t.allowed[server] {
		record.Error = &mcp.ErrorDescriptor{
			Code:    mcp.CodeValidation,
			Message: "tool server not enabled for this agent",
			Server:  server,
		}
		return nil, record, record.Error
	}

	resp, err := t.service.Invoke(ctx, mcp.Request{
		Server:    server,
		Operation: operation,
		Payload:   payload,
	})
	if resp != nil {
		record.Response = resp.Payload
		record.Error = resp.Error
		record.LatencyMs = resp.LatencyMs
	} else if err != nil {
		record.Error = mcp.Descriptor(server, err)
	}

	if err != nil {
		return nil, record, err
	}
	return resp.Payload, record, nil
}
