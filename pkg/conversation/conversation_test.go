package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworthy/salesagent/pkg/mcp"
)

func TestNewConversation(t *testing.T) {
	conv := New("conv-1")

	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Empty(t, conv.Turns)
	assert.NotNil(t, conv.Facts)
}

func TestAppendPreservesOrder(t *testing.T) {
	conv := New("conv-1")
	conv.Append(Turn{Role: RoleUser, Content: "first"})
	conv.Append(Turn{Role: RoleAgent, Content: "second"})
	conv.Append(Turn{Role: RoleUser, Content: "third"})

	require.Len(t, conv.Turns, 3)
	assert.Equal(t, "first", conv.Turns[0].Content)
	assert.Equal(t, "third", conv.Turns[2].Content)

	// A zero timestamp gets stamped at append time.
	assert.False(t, conv.Turns[0].Timestamp.IsZero())
}

func TestFacts(t *testing.T) {
	conv := New("conv-1")

	conv.SetFact("company", "Acme Corp")
	assert.Equal(t, "Acme Corp", conv.Fact("company"))
	assert.Equal(t, "", conv.Fact("missing"))

	// Empty values never overwrite.
	conv.SetFact("company", "")
	assert.Equal(t, "Acme Corp", conv.Fact("company"))
}

func TestArchive(t *testing.T) {
	conv := New("conv-1")
	conv.Archive()
	assert.Equal(t, StatusArchived, conv.Status)
}

func TestLastUserMessage(t *testing.T) {
	conv := New("conv-1")
	assert.Equal(t, "", conv.LastUserMessage())

	conv.Append(Turn{Role: RoleUser, Content: "question one"})
	conv.Append(Turn{Role: RoleAgent, Content: "answer one"})
	conv.Append(Turn{Role: RoleUser, Content: "question two"})
	conv.Append(Turn{Role: RoleAgent, Content: "answer two"})

	assert.Equal(t, "question two", conv.LastUserMessage())
}

func TestHistory(t *testing.T) {
	conv := New("conv-1")
	conv.Append(Turn{Role: RoleUser, Content: "hi"})
	conv.Append(Turn{Role: RoleAgent, Content: "hello"})
	conv.Append(Turn{Role: RoleUser, Content: "pricing?"})

	assert.Equal(t, "User: hi\nAssistant: hello\nUser: pricing?", conv.History(0))

	// A window smaller than the turn count keeps only the most recent turns.
	assert.Equal(t, "Assistant: hello\nUser: pricing?", conv.History(2))
}

func TestRecordRoundTrip(t *testing.T) {
	conv := New("conv-1")
	conv.SetFact("company", "Acme Corp")
	conv.Append(Turn{
		Role:    RoleAgent,
		Agent:   "sales",
		Content: "Here is the answer.",
		Invocations: []ToolInvocation{
			{
				Server:    "sales-knowledge",
				Operation: "search",
				Request:   map[string]any{"query": "pricing"},
				LatencyMs: 12,
			},
			{
				Server:    "company-research",
				Operation: "profile",
				Error: &mcp.ErrorDescriptor{
					Code:    mcp.CodeTimeout,
					Message: "deadline exceeded",
					Server:  "company-research",
				},
			},
		},
		Timestamp: time.Now(),
	})

	record, err := conv.ToRecord()
	require.NoError(t, err)

	restored, err := FromRecord(record)
	require.NoError(t, err)

	assert.Equal(t, conv.ID, restored.ID)
	assert.Equal(t, StatusActive, restored.Status)
	assert.Equal(t, "Acme Corp", restored.Fact("company"))
	require.Len(t, restored.Turns, 1)

	turn := restored.Turns[0]
	assert.Equal(t, "sales", turn.Agent)
	require.Len(t, turn.Invocations, 2)
	assert.True(t, turn.Invocations[0].Succeeded())
	assert.False(t, turn.Invocations[1].Succeeded())
	assert.Equal(t, mcp.CodeTimeout, turn.Invocations[1].Error.Code)
}

func TestFromRecordRejectsMissingID(t *testing.T) {
	_, err := FromRecord(map[string]any{"status": "ACTIVE"})
	assert.Error(t, err)
}

func TestFromRecordErrorMarker(t *testing.T) {
	conv := New("conv-1")
	conv.Append(Turn{Role: RoleUser, Content: "hello"})
	conv.Append(Turn{Role: RoleAgent, Content: "fallback reply", Error: "all agents failed"})

	record, err := conv.ToRecord()
	require.NoError(t, err)
	restored, err := FromRecord(record)
	require.NoError(t, err)

	require.Len(t, restored.Turns, 2)
	assert.Equal(t, "all agents failed", restored.Turns[1].Error)
}
