package news

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/types"
)

func TestSentimentCache(t *testing.T) {
	cache := newSentimentCache(time.Hour)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.set("bitcoin", types.NewsSentiment{Query: "bitcoin", Score: 72})

	got, found := cache.get("bitcoin")
	require.True(t, found)
	assert.Equal(t, 72.0, got.Score)

	now = now.Add(2 * time.Hour)
	_, found = cache.get("bitcoin")
	assert.False(t, found, "entry should be expired")

	cache.set("eth", types.NewsSentiment{Query: "eth"})
	assert.Equal(t, 1, cache.len(), "expired entries are dropped on write")
}

func TestServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.Equal(t, 15, cfg.MaxArticles)
	assert.Equal(t, time.Hour, cfg.CacheDuration)
	assert.True(t, cfg.Enabled)
}

func TestLexiconScore(t *testing.T) {
	assert.Equal(t, 50.0, LexiconScore("Bitcoin trades sideways"))
	assert.Equal(t, 100.0, LexiconScore("Bitcoin ETF inflows surge to record high"))
	assert.Equal(t, 0.0, LexiconScore("Exchange hack triggers crash"))
	assert.Equal(t, 50.0, LexiconScore("Rally fades as miners dump coins"))
}

type fakeAI struct {
	reply string
	err   error
}

func (f fakeAI) IsEnabled() bool { return true }

func (f fakeAI) Chat(context.Context, []interfaces.ChatMessage, string) (string, error) {
	return f.reply, f.err
}

func TestAnalyzerPrefersAI(t *testing.T) {
	arts := []types.NewsArticle{{Title: "Bitcoin crash"}}

	s := NewSentimentAnalyzer(fakeAI{reply: "Score: 81"}).AnalyzeMultipleArticles(context.Background(), "bitcoin", arts)
	assert.Equal(t, 81.0, s.Score)

	s = NewSentimentAnalyzer(fakeAI{err: errors.New("down")}).AnalyzeMultipleArticles(context.Background(), "bitcoin", arts)
	assert.Equal(t, 0.0, s.Score)

	s = NewSentimentAnalyzer(nil).AnalyzeMultipleArticles(context.Background(), "bitcoin", nil)
	assert.Equal(t, 50.0, s.Score)
	assert.Zero(t, s.ArticleCount)
}

const listing = `<html><body>
<article class="card"><h3>Bitcoin ETF inflows surge</h3><a href="/news/etf">read</a><p>Funds buy.</p><time>1h</time></article>
<article class="card"><h3>Miners hold steady</h3><a href="https://example.org/x">read</a></article>
<article class="card"><a href="/no-title">read</a></article>
</body></html>`

func TestServiceScrapesAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/tag/bitcoin", r.URL.Path)
		_, _ = io.WriteString(w, listing)
	}))
	defer srv.Close()

	svc := NewService(nil, &ServiceConfig{
		MaxArticles:    10,
		CacheDuration:  time.Hour,
		ScraperTimeout: 5 * time.Second,
		Enabled:        true,
		Sources: []NewsSource{{
			Name:       "Local",
			BaseURL:    srv.URL,
			SearchPath: "/tag/{query}",
			Selectors: ArticleSelectors{
				ArticleContainer: "article.card",
				Title:            "h3",
				URL:              "a",
				Content:          "p",
				PublishedAt:      "time",
			},
		}},
	})

	s, err := svc.GetSentiment(context.Background(), "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 2, s.ArticleCount)
	assert.Equal(t, []string{"Bitcoin ETF inflows surge", "Miners hold steady"}, s.Headlines)
	assert.Greater(t, s.Score, 50.0)

	_, err = svc.GetSentiment(context.Background(), "Bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestServiceDisabled(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Enabled = false
	s, err := NewService(nil, cfg).GetSentiment(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 50.0, s.Score)
}

func TestSelectSources(t *testing.T) {
	assert.Len(t, SelectSources(nil), len(DefaultSources()))

	got := SelectSources([]string{"coindesk", " Decrypt ", "unknown"})
	require.Len(t, got, 2)
	assert.Equal(t, "CoinDesk", got[0].Name)
	assert.Equal(t, "Decrypt", got[1].Name)
}
