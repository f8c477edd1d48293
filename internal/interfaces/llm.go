package interfaces

import "context"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIBackend answers free-text prompts. An unconfigured backend reports
// IsEnabled()==false and returns "" with a nil error.
type AIBackend interface {
	IsEnabled() bool
	Chat(ctx context.Context, messages []ChatMessage, systemPrompt string) (string, error)
}
