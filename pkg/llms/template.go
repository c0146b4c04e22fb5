package llms

import (
	"context"
	"fmt"
	"strings"
)

const templateContextLimit = 600

// TemplateProvider is the deterministic no-API fallback. It composes a reply
// from the retrieved context and the user's message with fixed templates, so
// the backend stays usable (and testable) without any LLM credentials.
type TemplateProvider struct{}

func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{}
}

func (p *TemplateProvider) Generate(_ context.Context, messages []Message) (string, error) {
	var question, contextText string
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			question = msg.Content
		case "system":
			// System prompts carry the retrieved context after a blank line.
			if _, ctx, found := strings.Cut(msg.Content, "\n\n"); found {
				contextText = strings.TrimSpace(ctx)
			}
		}
	}

	if question == "" {
		return "Could you tell me a bit more about what you're looking for?", nil
	}

	if contextText == "" {
		return fmt.Sprintf(
			"Thanks for reaching out. I don't have specific material on %q yet, but I'd be happy to dig in - could you share a few more details?",
			summarize(question, 80)), nil
	}

	snippet := contextText
	if len(snippet) > templateContextLimit {
		snippet = snippet[:templateContextLimit] + "..."
	}

	return fmt.Sprintf("Here's what I have on that:\n\n%s\n\nDoes that answer your question about %q?",
		snippet, summarize(question, 80)), nil
}

func (p *TemplateProvider) ModelName() string { return "template" }
func (p *TemplateProvider) Close() error      { return nil }

func summarize(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
