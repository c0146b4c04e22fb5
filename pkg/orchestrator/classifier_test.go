package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetworthy/salesagent/pkg/agent"
	"github.com/fleetworthy/salesagent/pkg/conversation"
)

func TestKeywordClassifier(t *testing.T) {
	classifier := NewKeywordClassifier()
	state := conversation.New("conv-1")

	tests := []struct {
		name    string
		message string
		want    []string
	}{
		{
			"small talk stays with sales",
			"Hi, good morning!",
			[]string{agent.NameSales},
		},
		{
			"company name triggers research and knowledge",
			"Can you research Acme Corp for me",
			[]string{agent.NameResearch, agent.NameKnowledge},
		},
		{
			"research keyword without a company",
			"Can you look up their main competitor",
			[]string{agent.NameResearch, agent.NameKnowledge},
		},
		{
			"document keyword goes to knowledge and sales",
			"Is there a datasheet for the new tracker",
			[]string{agent.NameKnowledge, agent.NameSales},
		},
		{
			"plain question goes to knowledge and sales",
			"What happens after the trial ends?",
			[]string{agent.NameKnowledge, agent.NameSales},
		},
		{
			"company question pulls in all three",
			"What does the pricing look like for Globex Inc?",
			[]string{agent.NameResearch, agent.NameKnowledge, agent.NameSales},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Classify(state, tt.message))
		})
	}
}

func TestKeywordClassifierNeverReturnsDuplicates(t *testing.T) {
	classifier := NewKeywordClassifier()
	names := classifier.Classify(conversation.New("c"), "research the pricing document for Acme Corp?")

	seen := map[string]bool{}
	for _, name := range names {
		assert.False(t, seen[name], "duplicate agent %s", name)
		seen[name] = true
	}
}
