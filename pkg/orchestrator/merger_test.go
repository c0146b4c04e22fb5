package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworthy/salesagent/pkg/agent"
)

func contribution(name, content string, specificity float64, degraded bool) *agent.Contribution {
	return &agent.Contribution{
		Agent:       name,
		Content:     content,
		Specificity: specificity,
		Degraded:    degraded,
		RetrievedAt: time.Now(),
	}
}

func TestMergeEmpty(t *testing.T) {
	merger := NewMerger()

	assert.Nil(t, merger.Merge(nil))
	assert.Nil(t, merger.Merge([]*agent.Contribution{}))
	assert.Nil(t, merger.Merge([]*agent.Contribution{nil}))
	assert.Nil(t, merger.Merge([]*agent.Contribution{contribution("sales", "   ", 0.5, false)}))
}

func TestMergePrefersMostSpecific(t *testing.T) {
	merger := NewMerger()

	result := merger.Merge([]*agent.Contribution{
		contribution("sales", "Generic pitch about our platform.", 0.5, false),
		contribution("knowledge", "The ELD datasheet lists a 12-hour battery life.", 1.8, false),
	})
	require.NotNil(t, result)

	assert.Equal(t, []string{"knowledge", "sales"}, result.Attributions)
	assert.Contains(t, result.Content, "12-hour battery life")

	// The most specific contribution leads the merged reply.
	assert.True(t, strings.HasPrefix(result.Content, "The ELD datasheet"))
}

func TestMergeTieBreaksTowardFreshest(t *testing.T) {
	merger := NewMerger()

	older := contribution("knowledge", "Cached description of the company.", 1.0, false)
	older.RetrievedAt = time.Now().Add(-time.Hour)
	newer := contribution("research", "Fresh findings from this morning.", 1.0, false)

	result := merger.Merge([]*agent.Contribution{older, newer})
	require.NotNil(t, result)
	assert.Equal(t, []string{"research", "knowledge"}, result.Attributions)
}

func TestMergeSkipsDegradedWhenSolidContentExists(t *testing.T) {
	merger := NewMerger()

	degraded := contribution("research", "I couldn't reach live research.", 0.2, true)
	degraded.Facts = map[string]string{agent.FactCompany: "Acme Corp"}
	solid := contribution("knowledge", "Acme Corp appears in our case studies.", 1.5, false)

	result := merger.Merge([]*agent.Contribution{degraded, solid})
	require.NotNil(t, result)

	assert.Equal(t, "Acme Corp appears in our case studies.", result.Content)
	assert.Equal(t, []string{"knowledge"}, result.Attributions)
	assert.False(t, result.Degraded)

	// Facts survive even when the degraded content is dropped.
	assert.Equal(t, "Acme Corp", result.Facts[agent.FactCompany])
}

func TestMergeAllDegradedKeepsBestOnly(t *testing.T) {
	merger := NewMerger()

	result := merger.Merge([]*agent.Contribution{
		contribution("research", "No live data available.", 0.2, true),
		contribution("knowledge", "The index has nothing on that yet.", 0.1, true),
	})
	require.NotNil(t, result)

	assert.True(t, result.Degraded)
	assert.Equal(t, "No live data available.", result.Content)
	assert.Equal(t, []string{"research"}, result.Attributions)
}

func TestMergeDeduplicatesRestatedContent(t *testing.T) {
	merger := NewMerger()

	result := merger.Merge([]*agent.Contribution{
		contribution("knowledge", "Our ELD supports automatic duty-status changes for drivers.", 1.5, false),
		contribution("sales", "automatic duty-status changes", 0.5, false),
	})
	require.NotNil(t, result)

	assert.Equal(t, []string{"knowledge"}, result.Attributions)
	assert.Equal(t, "Our ELD supports automatic duty-status changes for drivers.", result.Content)
}

func TestMergeFactsFirstWriterWins(t *testing.T) {
	merger := NewMerger()

	first := contribution("research", "Findings about Acme.", 1.2, false)
	first.Facts = map[string]string{agent.FactCompany: "Acme Corp"}
	second := contribution("sales", "Generic reply.", 0.5, false)
	second.Facts = map[string]string{agent.FactCompany: "Wrong Name", "industry": "logistics"}

	result := merger.Merge([]*agent.Contribution{first, second})
	require.NotNil(t, result)

	assert.Equal(t, "Acme Corp", result.Facts[agent.FactCompany])
	assert.Equal(t, "logistics", result.Facts["industry"])
}
