package extsignal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := map[string]Rating{
		"STRONG_BUY":  StrongBuy,
		"Strong Buy":  StrongBuy,
		"strong-sell": StrongSell,
		"buy":         Buy,
		" SELL ":      Sell,
		"NEUTRAL":     Neutral,
		"hold":        Neutral,
		"":            Neutral,
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
	assert.True(t, StrongSell.Strong())
	assert.False(t, Buy.Strong())
	assert.Equal(t, "STRONG_BUY", StrongBuy.String())
}

func TestFromScore(t *testing.T) {
	assert.Equal(t, "STRONG_BUY", fromScore(0.6))
	assert.Equal(t, "BUY", fromScore(0.3))
	assert.Equal(t, "NEUTRAL", fromScore(0))
	assert.Equal(t, "SELL", fromScore(-0.3))
	assert.Equal(t, "STRONG_SELL", fromScore(-0.9))
}

func TestRecommendation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crypto/scan", r.URL.Path)
		var req scanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"BITSTAMP:BTCUSD"}, req.Symbols.Tickers)
		assert.Equal(t, []string{"Recommend.All|240"}, req.Columns)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"s":"BITSTAMP:BTCUSD","d":[-0.62]}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Recommendation(context.Background(), "BITSTAMP:BTCUSD", "4h")
	require.NoError(t, err)
	assert.Equal(t, "STRONG_SELL", got)

	_, err = c.Recommendation(context.Background(), "BITSTAMP:BTCUSD", "3h")
	assert.Error(t, err)
}

func TestRecommendationMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"s":"X","d":[null]}]}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Recommendation(context.Background(), "X", "1d")
	assert.ErrorIs(t, err, ErrNoRating)
}
