package orchestrator

import (
	"strings"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/conversation"
)

// Strategy decides which agents participate in a turn. Implementations must
// be side-effect free so routing stays testable in isolation from dispatch.
type Strategy interface {
	Classify(state *conversation.Conversation, message string) []string
}

var (
	researchKeywords = []string{
		"research", "competitor", "who are they", "company background",
		"look them up", "look up", "find out about",
	}
	knowledgeKeywords = []string{
		"document", "spec", "datasheet", "pricing", "compliance", "policy",
		"manual", "guide", "what does", "how does", "explain",
	}
)

// KeywordClassifier routes on message content. A detected company name pulls
// in the research and knowledge agents together, so live findings and indexed
// material can be merged; plain questions go to knowledge plus sales; small
// talk stays with sales alone.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(state *conversation.Conversation, message string) []string {
	lower := strings.ToLower(message)

	var names []string
	add := func(name string) {
		for _, existing := range names {
			if existing == name {
				return
			}
		}
		names = append(names, name)
	}

	if agent.ExtractCompany(message) != "" || containsAny(lower, researchKeywords) {
		add(agent.NameResearch)
		add(agent.NameKnowledge)
	}
	if containsAny(lower, knowledgeKeywords) || strings.Contains(message, "?") {
		add(agent.NameKnowledge)
		add(agent.NameSales)
	}

	if len(names) == 0 {
		add(agent.NameSales)
	}
	return names
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

var _ Strategy = (*KeywordClassifier)(nil)
