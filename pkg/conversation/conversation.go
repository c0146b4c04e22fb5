// Package conversation holds the persisted conversation model: ordered
// immutable turns, the tool invocations made while producing them, and
// session-scoped facts.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fleetworthy/salesagent/pkg/mcp"
)

// Status of a conversation.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// Role of a turn.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAgent Role = "AGENT"
)

// ToolInvocation records one tool-server call made while producing a turn.
// Write-once: built when the call returns and never mutated.
type ToolInvocation struct {
	Server    string               `json:"server"`
	Operation string               `json:"operation"`
	Request   map[string]any       `json:"request,omitempty"`
	Response  map[string]any       `json:"response,omitempty"`
	Error     *mcp.ErrorDescriptor `json:"error,omitempty"`
	LatencyMs int64                `json:"latency_ms"`
}

// Succeeded reports whether the invocation completed without error.
func (ti ToolInvocation) Succeeded() bool {
	return ti.Error == nil
}

// Turn is one exchange entry. Turns are immutable once appended to a
// conversation; the orchestrator builds them fully before appending.
type Turn struct {
	Role        Role             `json:"role"`
	Agent       string           `json:"agent,omitempty"`
	Content     string           `json:"content"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`

	// Error marks a turn persisted after total agent failure. The content
	// then carries the user-visible fallback reply.
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the orchestrator-owned state for one dialogue.
type Conversation struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`

	// Facts are session-scoped key/value pairs extracted during the
	// dialogue, e.g. the prospect's company name.
	Facts map[string]string `json:"facts,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an active conversation.
func New(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Status:    StatusActive,
		Facts:     map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn. Turns are strictly ordered; the caller must hold the
// conversation's commit lock.
func (c *Conversation) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.Turns = append(c.Turns, turn)
	c.UpdatedAt = turn.Timestamp
}

// SetFact records a session fact. Empty values are ignored.
func (c *Conversation) SetFact(key, value string) {
	if value == "" {
		return
	}
	if c.Facts == nil {
		c.Facts = map[string]string{}
	}
	c.Facts[key] = value
}

// Fact returns a session fact, or "".
func (c *Conversation) Fact(key string) string {
	return c.Facts[key]
}

// Archive marks the conversation archived. Archived conversations accept no
// further turns.
func (c *Conversation) Archive() {
	c.Status = StatusArchived
	c.UpdatedAt = time.Now()
}

// LastUserMessage returns the content of the most recent user turn, or "".
func (c *Conversation) LastUserMessage() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return c.Turns[i].Content
		}
	}
	return ""
}

// History renders the last n turns as a plain transcript for prompting.
func (c *Conversation) History(n int) string {
	turns := c.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	var b strings.Builder
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", turn.Content)
		case RoleAgent:
			fmt.Fprintf(&b, "Assistant: %s\n", turn.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// ToRecord serializes the conversation for the memory tool server, whose
// payloads are generic JSON objects.
func (c *Conversation) ToRecord() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation %q: %w", c.ID, err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// FromRecord deserializes a conversation loaded from the memory tool server.
func FromRecord(record map[string]any) (*Conversation, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation record: %w", err)
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("conversation record has no ID")
	}
	if conv.Facts == nil {
		conv.Facts = map[string]string{}
	}
	return &conv, nil
}
