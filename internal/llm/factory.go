// Package llm selects the AI backend used for agent chat answers.
package llm

import (
	"os"
	"strings"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/llm/claude"
	"btc-agent-swarm/internal/llm/llmobs"
	"btc-agent-swarm/internal/llm/noop"
	"btc-agent-swarm/internal/llm/openai"
	"btc-agent-swarm/internal/store"
)

// New builds the configured backend. A provider without an API key in the
// environment falls back to the noop backend.
func New(cfg *store.Config) interfaces.AIBackend {
	provider := strings.ToLower(cfg.LLM.Provider)
	switch provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return llmobs.Wrap(provider, openai.New(openai.Config{
				APIKey:      key,
				BaseURL:     cfg.LLM.BaseURL,
				Model:       cfg.LLM.Model,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
			}))
		}
	case "claude":
		if key := os.Getenv("CLAUDE_API_KEY"); key != "" {
			return llmobs.Wrap(provider, claude.New(claude.Config{
				APIKey:      key,
				Endpoint:    cfg.LLM.BaseURL,
				Model:       cfg.LLM.Model,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
			}))
		}
	}
	return noop.New()
}
