package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/llms"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

const salesPersona = "You are a helpful sales assistant for Fleetworthy. " +
	"Answer from the provided knowledge context when it is relevant, keep replies " +
	"concise and conversational, and never invent product facts."

// SalesAgent is the primary conversational agent. It grounds replies in the
// knowledge corpus and carries the dialogue when other agents have nothing
// to add.
type SalesAgent struct {
	toolbox          *Toolbox
	llm              llms.Provider
	topK             int
	maxContextTokens int
}

func NewSalesAgent(toolbox *Toolbox, llm llms.Provider, topK, maxContextTokens int) *SalesAgent {
	if topK <= 0 {
		topK = 5
	}
	return &SalesAgent{
		toolbox:          toolbox,
		llm:              llm,
		topK:             topK,
		maxContextTokens: maxContextTokens,
	}
}

func (a *SalesAgent) Name() string { return NameSales }

func (a *SalesAgent) Respond(ctx context.Context, state *conversation.Conversation, message string) (*Contribution, error) {
	contribution := &Contribution{
		Agent:       NameSales,
		Specificity: 0.5,
		RetrievedAt: time.Now(),
	}

	contextText, topScore := a.retrieve(ctx, message, contribution)
	if contextText != "" {
		contribution.Specificity = 0.5 + topScore
	}

	prompt := a.buildPrompt(state, contextText)
	reply, err := a.llm.Generate(ctx, []llms.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: message},
	})
	if err != nil {
		return nil, fmt.Errorf("sales agent generation failed: %w", err)
	}

	contribution.Content = reply
	return contribution, nil
}

// retrieve searches the knowledge corpus. Any failure degrades the
// contribution instead of propagating.
func (a *SalesAgent) retrieve(ctx context.Context, message string, contribution *Contribution) (string, float64) {
	payload, record, err := a.toolbox.Invoke(ctx, toolserver.ServerSalesKnowledge, toolserver.OpKnowledgeSearch, map[string]any{
		"query": message,
		"top_k": a.topK,
	})
	contribution.Invocations = append(contribution.Invocations, record)
	if err != nil {
		contribution.Degraded = true
		return "", 0
	}

	results, topScore := searchResults(payload)
	if len(results) == 0 {
		contribution.Degraded = true
		return "", 0
	}

	contextText := strings.Join(results, "\n\n")
	return TruncateToTokens(contextText, a.maxContextTokens), topScore
}

func (a *SalesAgent) buildPrompt(state *conversation.Conversation, contextText string) string {
	var b strings.Builder
	b.WriteString(salesPersona)

	if len(state.Facts) > 0 {
		b.WriteString("\nKnown about this prospect:")
		for key, value := range state.Facts {
			fmt.Fprintf(&b, " %s=%s;", key, value)
		}
	}
	if history := state.History(6); history != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(history)
	}

	b.WriteString("\n\n")
	b.WriteString(contextText)
	return b.String()
}

// searchResults pulls chunk contents and the best score out of a knowledge
// search payload.
func searchResults(payload map[string]any) ([]string, float64) {
	raw, ok := payload["results"].([]any)
	if !ok {
		return nil, 0
	}

	var contents []string
	var topScore float64
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := entry["content"].(string)
		if content == "" {
			continue
		}
		contents = append(contents, content)
		if score, ok := entry["score"].(float64); ok && score > topScore {
			topScore = score
		}
	}
	return contents, topScore
}

var _ Agent = (*SalesAgent)(nil)
