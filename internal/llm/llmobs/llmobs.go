package llmobs

import (
	"context"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/trace"
)

// observableBackend wraps an AIBackend with logging and tracing
type observableBackend struct {
	backend interfaces.AIBackend
	name    string
}

// Compile-time interface check
var _ interfaces.AIBackend = (*observableBackend)(nil)

// Wrap wraps a backend with observability middleware
func Wrap(name string, backend interfaces.AIBackend) interfaces.AIBackend {
	return &observableBackend{backend: backend, name: name}
}

func (o *observableBackend) IsEnabled() bool {
	return o.backend.IsEnabled()
}

func (o *observableBackend) Chat(ctx context.Context, messages []interfaces.ChatMessage, systemPrompt string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Chat")
	defer span.End()

	// Skip(1) reports the caller, not this wrapper
	logger.DebugSkip(ctx, 1, "Requesting AI response",
		"provider", o.name,
		"messages", len(messages),
	)

	text, err := o.backend.Chat(ctx, messages, systemPrompt)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "AI request failed", err, "provider", o.name)
		return "", err
	}

	logger.DebugSkip(ctx, 1, "AI response received",
		"provider", o.name,
		"chars", len(text),
	)
	return text, nil
}
