package noop

import (
	"context"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
)

// Backend is used when no AI provider is configured. It is never enabled.
type Backend struct{}

var _ interfaces.AIBackend = Backend{}

func New() Backend {
	return Backend{}
}

func (Backend) IsEnabled() bool { return false }

func (Backend) Chat(ctx context.Context, _ []interfaces.ChatMessage, _ string) (string, error) {
	logger.Debug(ctx, "Noop AI backend called")
	return "", nil
}
