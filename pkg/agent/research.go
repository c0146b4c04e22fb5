package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fleetworthy/salesagent/pkg/conversation"
	"github.com/fleetworthy/salesagent/pkg/llms"
	"github.com/fleetworthy/salesagent/pkg/toolserver"
)

const researchPersona = "You summarize live research findings about a company for a sales " +
	"conversation. Stick to the findings provided; flag anything uncertain."

// FactCompany is the session-fact key for the prospect's company name.
const FactCompany = "company"

var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:about|research|look up|looking at)\s+([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,3})`),
	regexp.MustCompile(`([A-Z][\w&.'-]*(?:\s+[A-Z][\w&.'-]*){0,3})\s+(?:Corp|Inc|LLC|Ltd|GmbH)\b`),
}

// ResearchAgent profiles the prospect's company with live web research. When
// the research server fails or is unconfigured it degrades to an explicit
// "unable to retrieve company data" contribution.
type ResearchAgent struct {
	toolbox          *Toolbox
	llm              llms.Provider
	maxContextTokens int
}

func NewResearchAgent(toolbox *Toolbox, llm llms.Provider, maxContextTokens int) *ResearchAgent {
	return &ResearchAgent{
		toolbox:          toolbox,
		llm:              llm,
		maxContextTokens: maxContextTokens,
	}
}

func (a *ResearchAgent) Name() string { return NameResearch }

func (a *ResearchAgent) Respond(ctx context.Context, state *conversation.Conversation, message string) (*Contribution, error) {
	contribution := &Contribution{
		Agent:       NameResearch,
		RetrievedAt: time.Now(),
	}

	company := ExtractCompany(message)
	if company == "" {
		company = state.Fact(FactCompany)
	}
	if company == "" {
		contribution.Degraded = true
		contribution.Content = "I couldn't tell which company to research from that."
		contribution.Specificity = 0.1
		return contribution, nil
	}
	contribution.Facts = map[string]string{FactCompany: company}

	payload, record, err := a.toolbox.Invoke(ctx, toolserver.ServerCompanyResearch, toolserver.OpResearchProfile, map[string]any{
		"company": company,
	})
	contribution.Invocations = append(contribution.Invocations, record)
	if err != nil {
		contribution.Degraded = true
		contribution.Content = fmt.Sprintf("I wasn't able to retrieve company data for %s right now.", company)
		contribution.Specificity = 0.2
		return contribution, nil
	}

	summary, _ := payload["summary"].(string)
	unavailable, _ := payload["unavailable"].(bool)
	if unavailable || strings.TrimSpace(summary) == "" {
		contribution.Degraded = true
		contribution.Content = fmt.Sprintf("Live research isn't available, so I don't have fresh data on %s.", company)
		contribution.Specificity = 0.2
		return contribution, nil
	}

	findings := TruncateToTokens(summary, a.maxContextTokens)
	reply, err := a.llm.Generate(ctx, []llms.Message{
		{Role: "system", Content: researchPersona + "\n\n" + findings},
		{Role: "user", Content: message},
	})
	if err != nil {
		return nil, fmt.Errorf("research agent generation failed: %w", err)
	}

	contribution.Content = reply
	contribution.Specificity = 1.2
	return contribution, nil
}

// ExtractCompany pulls a company name out of a user message. Best-effort;
// the session fact is the fallback.
func ExtractCompany(message string) string {
	for _, pattern := range companyPatterns {
		if match := pattern.FindStringSubmatch(message); len(match) > 1 {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

var _ Agent = (*ResearchAgent)(nil)
