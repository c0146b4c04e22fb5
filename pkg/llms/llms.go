// Package llms provides the text-generation providers agents reply with.
package llms

import (
	"context"
	"fmt"

	"github.com/fleetworthy/salesagent/pkg/config"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Provider generates a reply from a prompt.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	ModelName() string
	Close() error
}

// New builds a provider from config. Without an API key the deterministic
// template provider is used, so the backend works offline out of the box.
func New(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "template", "":
		return NewTemplateProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
