package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/interfaces"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"  BTC looks bullish.  "}}]}`)
	}))
	defer srv.Close()

	b := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	text, err := b.Chat(context.Background(), []interfaces.ChatMessage{{Role: "user", Content: "trend?"}}, "be brief")
	require.NoError(t, err)
	assert.Equal(t, "BTC looks bullish.", text)
}

func TestChatDisabledWithoutKey(t *testing.T) {
	b := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, b.IsEnabled())
	text, err := b.Chat(context.Background(), nil, "")
	assert.NoError(t, err)
	assert.Empty(t, text)
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Chat(context.Background(), nil, "")
	assert.ErrorContains(t, err, "429")
}
