package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/trace"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Backend talks to any OpenAI-compatible chat completions endpoint.
type Backend struct {
	http *resty.Client
	cfg  Config
}

var _ interfaces.AIBackend = (*Backend)(nil)

func New(cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(60 * time.Second)
	return &Backend{http: client, cfg: cfg}
}

func (b *Backend) IsEnabled() bool {
	return b.cfg.APIKey != ""
}

type chatRequest struct {
	Model       string                   `json:"model"`
	Messages    []interfaces.ChatMessage `json:"messages"`
	MaxTokens   int                      `json:"max_tokens"`
	Temperature float32                  `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (b *Backend) Chat(ctx context.Context, messages []interfaces.ChatMessage, systemPrompt string) (string, error) {
	if !b.IsEnabled() {
		return "", nil
	}
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	msgs := make([]interfaces.ChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, interfaces.ChatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	var out chatResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetAuthToken(b.cfg.APIKey).
		SetBody(chatRequest{
			Model:       b.cfg.Model,
			Messages:    msgs,
			MaxTokens:   b.cfg.MaxTokens,
			Temperature: b.cfg.Temperature,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("openai http %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
