package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/config"
	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

// stubAgent scripts one agent's behavior per turn.
type stubAgent struct {
	name        string
	content     string
	degraded    bool
	specificity float64
	facts       map[string]string
	err         error
	delay       time.Duration

	mu    sync.Mutex
	calls int
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Respond(ctx context.Context, _ *conversation.Conversation, _ string) (*agent.Contribution, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Contribution{
		Agent:       a.name,
		Content:     a.content,
		Degraded:    a.degraded,
		Specificity: a.specificity,
		RetrievedAt: time.Now(),
		Facts:       a.facts,
	}, nil
}

// fixedStrategy routes every message to the same agents.
type fixedStrategy struct {
	names []string
}

func (s fixedStrategy) Classify(*conversation.Conversation, string) []string {
	return s.names
}

func newTestOrchestrator(t *testing.T, agents []agent.Agent, opts ...Option) *Orchestrator {
	t.Helper()

	store, err := toolserver.NewConversationStore(&config.MemoryConfig{Backend: "memory"})
	require.NoError(t, err)

	service := mcp.NewService()
	memory := toolserver.NewMemoryServer(store)
	require.NoError(t, service.Register(memory.Descriptor(5*time.Second), memory))

	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name())
	}
	opts = append([]Option{WithClassifier(fixedStrategy{names: names})}, opts...)
	return New(service, agents, opts...)
}

func TestProcessMessageSingleAgent(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "We offer three pricing tiers.", specificity: 0.8}
	orch := newTestOrchestrator(t, []agent.Agent{sales})

	result, err := orch.ProcessMessage(context.Background(), "conv-1", "What does it cost?")
	require.NoError(t, err)

	assert.Equal(t, "conv-1", result.ConversationID)
	assert.Equal(t, "We offer three pricing tiers.", result.Reply)
	assert.Equal(t, []string{agent.NameSales}, result.Attributions)
	assert.Empty(t, result.ErrorMarker)
	assert.False(t, result.Degraded)

	state, found := orch.Conversation(context.Background(), "conv-1")
	require.True(t, found)
	require.Len(t, state.Turns, 2)
	assert.Equal(t, conversation.RoleUser, state.Turns[0].Role)
	assert.Equal(t, "What does it cost?", state.Turns[0].Content)
	assert.Equal(t, conversation.RoleAgent, state.Turns[1].Role)
	assert.Equal(t, "We offer three pricing tiers.", state.Turns[1].Content)
}

func TestProcessMessageGeneratesConversationID(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "Hello!"}
	orch := newTestOrchestrator(t, []agent.Agent{sales})

	result, err := orch.ProcessMessage(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ConversationID)

	_, found := orch.Conversation(context.Background(), result.ConversationID)
	assert.True(t, found)
}

func TestProcessMessageRejectsEmptyMessage(t *testing.T) {
	orch := newTestOrchestrator(t, []agent.Agent{&stubAgent{name: agent.NameSales}})

	_, err := orch.ProcessMessage(context.Background(), "conv-1", "")
	assert.Error(t, err)
}

func TestAllAgentsFailStillPersistsTurn(t *testing.T) {
	failing := &stubAgent{name: agent.NameSales, err: fmt.Errorf("llm unreachable")}
	orch := newTestOrchestrator(t, []agent.Agent{failing},
		WithFallbackReply("Something went wrong, please retry."))

	result, err := orch.ProcessMessage(context.Background(), "conv-err", "hello")
	require.NoError(t, err)

	assert.Equal(t, "Something went wrong, please retry.", result.Reply)
	assert.Equal(t, ErrorMarkerAllAgentsFailed, result.ErrorMarker)

	// The failed turn must still be in history, marked as an error.
	state, found := orch.Conversation(context.Background(), "conv-err")
	require.True(t, found)
	require.Len(t, state.Turns, 2)
	assert.Equal(t, "hello", state.Turns[0].Content)
	assert.Equal(t, ErrorMarkerAllAgentsFailed, state.Turns[1].Error)
}

func TestPartialFailureMergesSuccessesOnly(t *testing.T) {
	research := &stubAgent{name: agent.NameResearch, err: fmt.Errorf("search API timeout")}
	knowledge := &stubAgent{
		name:        agent.NameKnowledge,
		content:     "Acme Corp appears in two indexed case studies.",
		specificity: 1.5,
	}
	orch := newTestOrchestrator(t, []agent.Agent{research, knowledge})

	result, err := orch.ProcessMessage(context.Background(), "conv-acme", "Tell me about Acme Corp")
	require.NoError(t, err)

	// The reply carries only the surviving agent's content, plus a note
	// that coverage was reduced.
	assert.True(t, strings.HasPrefix(result.Reply, "Acme Corp appears in two indexed case studies."))
	assert.Contains(t, result.Reply, "incomplete")
	assert.True(t, result.Degraded)
	assert.Equal(t, []string{agent.NameKnowledge}, result.Attributions)
	assert.Empty(t, result.ErrorMarker)

	state, found := orch.Conversation(context.Background(), "conv-acme")
	require.True(t, found)
	require.Len(t, state.Turns, 2)
	assert.Empty(t, state.Turns[1].Error)
}

func TestDegradedContributionsProduceDegradedReply(t *testing.T) {
	research := &stubAgent{
		name:        agent.NameResearch,
		content:     "I wasn't able to retrieve company data right now.",
		degraded:    true,
		specificity: 0.2,
	}
	orch := newTestOrchestrator(t, []agent.Agent{research})

	result, err := orch.ProcessMessage(context.Background(), "conv-deg", "research Acme Corp")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.ErrorMarker)
}

func TestFactsFromContributionsArePersisted(t *testing.T) {
	research := &stubAgent{
		name:        agent.NameResearch,
		content:     "Acme Corp runs a 200-truck fleet.",
		specificity: 1.2,
		facts:       map[string]string{agent.FactCompany: "Acme Corp"},
	}
	orch := newTestOrchestrator(t, []agent.Agent{research})

	_, err := orch.ProcessMessage(context.Background(), "conv-facts", "research Acme Corp")
	require.NoError(t, err)

	state, found := orch.Conversation(context.Background(), "conv-facts")
	require.True(t, found)
	assert.Equal(t, "Acme Corp", state.Fact(agent.FactCompany))
}

func TestMultipleTurnsAccumulateHistory(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "Sure, happy to help."}
	orch := newTestOrchestrator(t, []agent.Agent{sales})

	ctx := context.Background()
	_, err := orch.ProcessMessage(ctx, "conv-multi", "first question")
	require.NoError(t, err)
	_, err = orch.ProcessMessage(ctx, "conv-multi", "second question")
	require.NoError(t, err)

	state, found := orch.Conversation(ctx, "conv-multi")
	require.True(t, found)
	require.Len(t, state.Turns, 4)
	assert.Equal(t, "first question", state.Turns[0].Content)
	assert.Equal(t, "second question", state.Turns[2].Content)
}

func TestArchivedConversationRejectsTurns(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "Reply."}
	orch := newTestOrchestrator(t, []agent.Agent{sales})

	ctx := context.Background()
	_, err := orch.ProcessMessage(ctx, "conv-arch", "hello")
	require.NoError(t, err)

	require.NoError(t, orch.Archive(ctx, "conv-arch"))

	_, err = orch.ProcessMessage(ctx, "conv-arch", "still there?")
	assert.Error(t, err)

	state, found := orch.Conversation(ctx, "conv-arch")
	require.True(t, found)
	assert.Equal(t, conversation.StatusArchived, state.Status)
	assert.Len(t, state.Turns, 2)
}

func TestArchiveUnknownConversation(t *testing.T) {
	orch := newTestOrchestrator(t, []agent.Agent{&stubAgent{name: agent.NameSales}})
	assert.Error(t, orch.Archive(context.Background(), "nope"))
}

func TestTurnTimeoutCancelsSlowAgent(t *testing.T) {
	slow := &stubAgent{name: agent.NameResearch, content: "too late", delay: time.Second}
	fast := &stubAgent{name: agent.NameSales, content: "Quick answer.", specificity: 0.5}
	orch := newTestOrchestrator(t, []agent.Agent{slow, fast},
		WithTurnTimeout(50*time.Millisecond))

	result, err := orch.ProcessMessage(context.Background(), "conv-slow", "hello")
	require.NoError(t, err)
	// The cancelled agent counts as a failure, so the quick answer carries
	// the reduced-coverage note.
	assert.True(t, strings.HasPrefix(result.Reply, "Quick answer."))
	assert.True(t, result.Degraded)
	assert.Equal(t, []string{agent.NameSales}, result.Attributions)
}

func TestConcurrentTurnsDoNotLoseAppends(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "Reply."}
	orch := newTestOrchestrator(t, []agent.Agent{sales})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := orch.ProcessMessage(ctx, "conv-race", fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, found := orch.Conversation(ctx, "conv-race")
	require.True(t, found)
	assert.Len(t, state.Turns, 20)
}

func TestEligibleAgentsFallsBackToSales(t *testing.T) {
	sales := &stubAgent{name: agent.NameSales, content: "Fallback handled."}
	orch := newTestOrchestrator(t, []agent.Agent{sales},
		WithClassifier(fixedStrategy{names: []string{"unregistered-agent"}}))

	result, err := orch.ProcessMessage(context.Background(), "conv-fb", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Fallback handled.", result.Reply)
	assert.Equal(t, 1, sales.calls)
}
