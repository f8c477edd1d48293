package claude

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

func TestChatMovesSystemPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are a risk desk", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Exposure "},{"type":"text","text":"is fine."}]}`)
	}))
	defer srv.Close()

	b := New(Config{APIKey: "key", Endpoint: srv.URL})
	text, err := b.Chat(context.Background(), []interfaces.ChatMessage{
		{Role: "system", Content: "you are a risk desk"},
		{Role: "user", Content: "exposure?"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "Exposure is fine.", text)
}
