package claude

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/trace"
)

const (
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	DefaultModel    = "claude-3-5-haiku-latest"
	apiVersion      = "2023-06-01"
)

type Config struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Backend calls the Anthropic Messages API.
type Backend struct {
	http *resty.Client
	cfg  Config
}

var _ interfaces.AIBackend = (*Backend)(nil)

func New(cfg Config) *Backend {
	if cfg.Endpoint == "" {
		// proxies and bedrock/vertex gateways set CLAUDE_API_ENDPOINT
		cfg.Endpoint = DefaultEndpoint
		if ep := os.Getenv("CLAUDE_API_ENDPOINT"); ep != "" {
			cfg.Endpoint = ep
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	client := resty.New()
	client.SetTimeout(60 * time.Second)
	return &Backend{http: client, cfg: cfg}
}

func (b *Backend) IsEnabled() bool {
	return b.cfg.APIKey != ""
}

type messagesRequest struct {
	Model       string                   `json:"model"`
	System      string                   `json:"system,omitempty"`
	Messages    []interfaces.ChatMessage `json:"messages"`
	MaxTokens   int                      `json:"max_tokens"`
	Temperature float32                  `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *Backend) Chat(ctx context.Context, messages []interfaces.ChatMessage, systemPrompt string) (string, error) {
	if !b.IsEnabled() {
		return "", nil
	}
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	// the Messages API takes the system prompt out of band
	msgs := make([]interfaces.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if systemPrompt == "" {
				systemPrompt = m.Content
			}
			continue
		}
		msgs = append(msgs, m)
	}

	var out messagesResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader("x-api-key", b.cfg.APIKey).
		SetHeader("anthropic-version", apiVersion).
		SetBody(messagesRequest{
			Model:       b.cfg.Model,
			System:      systemPrompt,
			Messages:    msgs,
			MaxTokens:   b.cfg.MaxTokens,
			Temperature: b.cfg.Temperature,
		}).
		SetResult(&out).
		Post(b.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("claude http %d: %s", resp.StatusCode(), resp.String())
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
