// Package orchestrator owns per-conversation state and the per-turn control
// loop: classify the message, dispatch the chosen agents, merge their
// contributions into one reply, and persist the turn through the memory tool
// server.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/mcp"
	"github.com/fleetworthy/salesagent/pkg/observability"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

// Turn processing states, in order.
type TurnState string

const (
	StateReceived   TurnState = "RECEIVED"
	StateClassified TurnState = "CLASSIFIED"
	StateDispatched TurnState = "DISPATCHED"
	StateMerged     TurnState = "MERGED"
	StatePersisted  TurnState = "PERSISTED"
)

// ErrorMarkerAllAgentsFailed marks a persisted turn whose every dispatched
// agent failed.
const ErrorMarkerAllAgentsFailed = "all agents failed"

// partialCoverageNote is appended to a reply merged from the surviving
// agents when one or more dispatched agents failed outright.
const partialCoverageNote = "Heads up: I couldn't reach all of my sources for this one, so the answer may be incomplete."

const defaultTurnTimeout = 60 * time.Second

// InvocationSummary is the per-call digest returned to API clients.
type InvocationSummary struct {
	Server    string `json:"server"`
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
}

// Result is the outcome of one processed turn.
type Result struct {
	ConversationID string              `json:"conversation_id"`
	Reply          string              `json:"reply"`
	Attributions   []string            `json:"attributions,omitempty"`
	Degraded       bool                `json:"degraded,omitempty"`
	ErrorMarker    string              `json:"error,omitempty"`
	Invocations    []InvocationSummary `json:"invocations,omitempty"`
}

// Orchestrator coordinates agents over shared conversation state.
type Orchestrator struct {
	agents     map[string]agent.Agent
	classifier Strategy
	merger     *Merger
	service    *mcp.Service
	metrics    *observability.Metrics

	turnTimeout   time.Duration
	fallbackReply string

	// commitLocks serialize the PERSISTED phase per conversation. Dispatch
	// runs outside the lock so a slow agent never blocks other turns of
	// the same conversation from classifying.
	commitLocks sync.Map
}

type Option func(*Orchestrator)

func WithClassifier(strategy Strategy) Option {
	return func(o *Orchestrator) { o.classifier = strategy }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

func WithTurnTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.turnTimeout = timeout
		}
	}
}

func WithFallbackReply(reply string) Option {
	return func(o *Orchestrator) {
		if reply != "" {
			o.fallbackReply = reply
		}
	}
}

func New(service *mcp.Service, agents []agent.Agent, opts ...Option) *Orchestrator {
	byName := make(map[string]agent.Agent, len(agents))
	for _, a := range agents {
		byName[a.Name()] = a
	}

	o := &Orchestrator{
		agents:        byName,
		classifier:    NewKeywordClassifier(),
		merger:        NewMerger(),
		service:       service,
		turnTimeout:   defaultTurnTimeout,
		fallbackReply: "I'm sorry, I wasn't able to process that just now. Could you try again in a moment?",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessMessage runs one turn through the state machine. It always returns
// a user-visible reply: total agent failure yields the fallback reply, and
// the turn is persisted with an error marker either way.
func (o *Orchestrator) ProcessMessage(ctx context.Context, conversationID, message string) (*Result, error) {
	start := time.Now()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if message == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}

	tracer := observability.GetTracer("salesagent.orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanTurnProcess,
		trace.WithAttributes(attribute.String(observability.AttrConversationID, conversationID)))
	defer span.End()

	// RECEIVED
	state := o.loadConversation(ctx, conversationID)
	if state.Status == conversation.StatusArchived {
		return nil, fmt.Errorf("conversation %q is archived", conversationID)
	}

	// CLASSIFIED
	names := o.eligibleAgents(o.classifier.Classify(state, message))
	span.SetAttributes(attribute.StringSlice("turn.agents", names))
	o.logTransition(conversationID, StateClassified, "agents", names)

	// DISPATCHED
	contributions, failures := o.dispatch(ctx, state, message, names)
	o.logTransition(conversationID, StateDispatched,
		"succeeded", len(contributions), "failed", len(failures))

	// MERGED
	merged := o.merger.Merge(contributions)
	o.logTransition(conversationID, StateMerged, "merged", merged != nil)

	result := &Result{ConversationID: conversationID}
	agentTurn := conversation.Turn{
		Role:      conversation.RoleAgent,
		Timestamp: time.Now(),
	}
	for _, c := range contributions {
		agentTurn.Invocations = append(agentTurn.Invocations, c.Invocations...)
	}

	var facts map[string]string
	if merged != nil {
		reply := merged.Content
		result.Degraded = merged.Degraded
		if len(failures) > 0 {
			// Some agents failed but others answered; say so rather than
			// presenting partial coverage as the full picture.
			reply += "\n\n" + partialCoverageNote
			result.Degraded = true
			for name, err := range failures {
				slog.Warn("Agent failed, replying with partial coverage",
					"conversation_id", conversationID, "agent", name, "error", err)
			}
		}
		result.Reply = reply
		result.Attributions = merged.Attributions
		if len(merged.Attributions) > 0 {
			agentTurn.Agent = merged.Attributions[0]
		}
		agentTurn.Content = reply
		facts = merged.Facts
	} else {
		result.Reply = o.fallbackReply
		result.ErrorMarker = ErrorMarkerAllAgentsFailed
		agentTurn.Content = o.fallbackReply
		agentTurn.Error = ErrorMarkerAllAgentsFailed
		for name, err := range failures {
			slog.Error("Agent failed", "conversation_id", conversationID, "agent", name, "error", err)
		}
	}
	for _, inv := range agentTurn.Invocations {
		result.Invocations = append(result.Invocations, InvocationSummary{
			Server:    inv.Server,
			Operation: inv.Operation,
			OK:        inv.Succeeded(),
			LatencyMs: inv.LatencyMs,
		})
	}

	// PERSISTED
	userTurn := conversation.Turn{Role: conversation.RoleUser, Content: message, Timestamp: start}
	if err := o.persistTurn(ctx, conversationID, userTurn, agentTurn, facts); err != nil {
		slog.Error("Failed to persist turn", "conversation_id", conversationID, "error", err)
	}
	o.logTransition(conversationID, StatePersisted)

	o.metrics.RecordTurn(turnOutcome(result), time.Since(start))
	return result, nil
}

// dispatch invokes the chosen agents concurrently under the turn deadline.
// Each agent's failure is isolated; the turn proceeds with whoever succeeded.
func (o *Orchestrator) dispatch(ctx context.Context, state *conversation.Conversation, message string, names []string) ([]*agent.Contribution, map[string]error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	var mu sync.Mutex
	contributions := make([]*agent.Contribution, 0, len(names))
	failures := make(map[string]error)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		a := o.agents[name]
		g.Go(func() error {
			contribution, err := a.Respond(ctx, state, message)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[a.Name()] = err
				return nil
			}
			contributions = append(contributions, contribution)
			return nil
		})
	}
	g.Wait()

	return contributions, failures
}

// persistTurn appends the turn pair under the conversation's commit lock and
// writes through the memory tool server. The lock covers reload-append-write
// so concurrent turns of one conversation commit in completion order without
// losing each other's appends.
func (o *Orchestrator) persistTurn(ctx context.Context, conversationID string, userTurn, agentTurn conversation.Turn, facts map[string]string) error {
	lock := o.commitLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state := o.loadConversation(ctx, conversationID)
	state.Append(userTurn)
	state.Append(agentTurn)
	for key, value := range facts {
		state.SetFact(key, value)
	}

	return o.saveConversation(ctx, state)
}

// Conversation returns the stored conversation, if any.
func (o *Orchestrator) Conversation(ctx context.Context, conversationID string) (*conversation.Conversation, bool) {
	payload, _, err := o.invokeMemory(ctx, toolserver.OpMemoryGet, map[string]any{
		"conversation_id": conversationID,
	})
	if err != nil {
		return nil, false
	}
	found, _ := payload["found"].(bool)
	record, _ := payload["record"].(map[string]any)
	if !found || record == nil {
		return nil, false
	}

	state, err := conversation.FromRecord(record)
	if err != nil {
		slog.Warn("Discarding corrupt conversation record", "conversation_id", conversationID, "error", err)
		return nil, false
	}
	return state, true
}

// Archive marks a conversation archived so it accepts no further turns.
func (o *Orchestrator) Archive(ctx context.Context, conversationID string) error {
	lock := o.commitLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	state, found := o.Conversation(ctx, conversationID)
	if !found {
		return fmt.Errorf("conversation %q not found", conversationID)
	}
	state.Archive()
	return o.saveConversation(ctx, state)
}

func (o *Orchestrator) loadConversation(ctx context.Context, conversationID string) *conversation.Conversation {
	if state, found := o.Conversation(ctx, conversationID); found {
		return state
	}
	return conversation.New(conversationID)
}

func (o *Orchestrator) saveConversation(ctx context.Context, state *conversation.Conversation) error {
	record, err := state.ToRecord()
	if err != nil {
		return err
	}
	_, _, err = o.invokeMemory(ctx, toolserver.OpMemoryPut, map[string]any{
		"conversation_id": state.ID,
		"record":          record,
	})
	return err
}

func (o *Orchestrator) invokeMemory(ctx context.Context, operation string, payload map[string]any) (map[string]any, *mcp.Response, error) {
	resp, err := o.service.Invoke(ctx, mcp.Request{
		Server:    toolserver.ServerMemory,
		Operation: operation,
		Payload:   payload,
	})
	if err != nil {
		return nil, resp, err
	}
	return resp.Payload, resp, nil
}

// eligibleAgents filters classified names down to registered agents, falling
// back to any registered agent rather than dispatching nothing.
func (o *Orchestrator) eligibleAgents(names []string) []string {
	eligible := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := o.agents[name]; ok {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		if _, ok := o.agents[agent.NameSales]; ok {
			return []string{agent.NameSales}
		}
		for name := range o.agents {
			return []string{name}
		}
	}
	return eligible
}

func (o *Orchestrator) commitLock(conversationID string) *sync.Mutex {
	lock, _ := o.commitLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (o *Orchestrator) logTransition(conversationID string, state TurnState, args ...any) {
	slog.Debug("Turn state",
		append([]any{"conversation_id", conversationID, "state", state}, args...)...)
}

func turnOutcome(result *Result) string {
	switch {
	case result.ErrorMarker != "":
		return "fallback"
	case result.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}
