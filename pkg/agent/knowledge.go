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

const knowledgePersona = "You answer questions strictly from the provided document excerpts. " +
	"Cite nothing that is not in the excerpts; say so plainly when they don't cover the question."

// KnowledgeAgent answers document-grounded questions. Unlike the sales agent
// it contributes nothing without retrieval hits: a degraded knowledge answer
// would just be noise next to the sales agent's reply.
type KnowledgeAgent struct {
	toolbox          *Toolbox
	llm              llms.Provider
	topK             int
	maxContextTokens int
}

func NewKnowledgeAgent(toolbox *Toolbox, llm llms.Provider, topK, maxContextTokens int) *KnowledgeAgent {
	if topK <= 0 {
		topK = 5
	}
	return &KnowledgeAgent{
		toolbox:          toolbox,
		llm:              llm,
		topK:             topK,
		maxContextTokens: maxContextTokens,
	}
}

func (a *KnowledgeAgent) Name() string { return NameKnowledge }

func (a *KnowledgeAgent) Respond(ctx context.Context, state *conversation.Conversation, message string) (*Contribution, error) {
	contribution := &Contribution{
		Agent:       NameKnowledge,
		RetrievedAt: time.Now(),
	}

	payload, record, err := a.toolbox.Invoke(ctx, toolserver.ServerSalesKnowledge, toolserver.OpKnowledgeSearch, map[string]any{
		"query": message,
		"top_k": a.topK,
	})
	contribution.Invocations = append(contribution.Invocations, record)
	if err != nil {
		contribution.Degraded = true
		contribution.Content = "I couldn't reach the document index just now."
		contribution.Specificity = 0.1
		return contribution, nil
	}

	results, topScore := searchResults(payload)
	if len(results) == 0 {
		contribution.Degraded = true
		contribution.Content = "I don't have any indexed documents covering that yet."
		contribution.Specificity = 0.1
		return contribution, nil
	}

	contextText := TruncateToTokens(strings.Join(results, "\n\n"), a.maxContextTokens)
	reply, err := a.llm.Generate(ctx, []llms.Message{
		{Role: "system", Content: knowledgePersona + "\n\n" + contextText},
		{Role: "user", Content: message},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge agent generation failed: %w", err)
	}

	contribution.Content = reply
	contribution.Specificity = 1 + topScore
	return contribution, nil
}

var _ Agent = (*KnowledgeAgent)(nil)
