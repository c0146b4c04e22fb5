package orchestrator

import (
	"sort"
	"strings"

	"github.com/fleetworthy/salesagent/pkg/agent"
)

// MergeResult is the single reply composed from agent contributions.
type MergeResult struct {
	Content      string
	Attributions []string

	// Degraded marks a reply built only from degraded contributions, so
	// the caller can note reduced coverage instead of failing the turn.
	Degraded bool

	// Facts aggregates session facts extracted by the contributing agents.
	Facts map[string]string
}

// Merger composes one reply from contributions. Conflicting claims resolve
// by preferring the most specific contribution, then the most recently
// retrieved one; degraded contributions are used only when nothing better
// exists.
type Merger struct{}

func NewMerger() *Merger {
	return &Merger{}
}

func (m *Merger) Merge(contributions []*agent.Contribution) *MergeResult {
	if len(contributions) == 0 {
		return nil
	}

	ranked := make([]*agent.Contribution, 0, len(contributions))
	for _, c := range contributions {
		if c != nil && strings.TrimSpace(c.Content) != "" {
			ranked = append(ranked, c)
		}
	}
	if len(ranked) == 0 {
		return nil
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Degraded != ranked[j].Degraded {
			return !ranked[i].Degraded
		}
		if ranked[i].Specificity != ranked[j].Specificity {
			return ranked[i].Specificity > ranked[j].Specificity
		}
		return ranked[i].RetrievedAt.After(ranked[j].RetrievedAt)
	})

	result := &MergeResult{Facts: map[string]string{}}

	// Degraded contributions only pad out a reply that already has solid
	// content; a purely degraded merge keeps just the best one.
	allDegraded := ranked[0].Degraded

	var parts []string
	for _, c := range ranked {
		if c.Degraded && !allDegraded {
			// Collect its facts but skip its filler content.
			mergeFacts(result.Facts, c.Facts)
			continue
		}
		if allDegraded && len(parts) > 0 {
			mergeFacts(result.Facts, c.Facts)
			continue
		}

		content := strings.TrimSpace(c.Content)
		if !duplicated(parts, content) {
			parts = append(parts, content)
			result.Attributions = append(result.Attributions, c.Agent)
		}
		mergeFacts(result.Facts, c.Facts)
	}

	result.Content = strings.Join(parts, "\n\n")
	result.Degraded = allDegraded
	return result
}

func mergeFacts(dst, src map[string]string) {
	for key, value := range src {
		if _, exists := dst[key]; !exists && value != "" {
			dst[key] = value
		}
	}
}

// duplicated filters contributions that restate an already-included part.
func duplicated(parts []string, content string) bool {
	for _, part := range parts {
		if part == content || strings.Contains(part, content) {
			return true
		}
	}
	return false
}
