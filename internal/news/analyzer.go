package news

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/trace"
	"btc-agent-swarm/internal/types"
)

var (
	bullishTerms = []string{
		"surge", "soar", "rally", "record high", "all-time high", "bull", "gain", "jump",
		"adoption", "approval", "approve", "inflow", "breakout", "buy", "accumulat", "etf",
		"upgrade", "recover", "rebound", "institutional",
	}
	bearishTerms = []string{
		"crash", "plunge", "slump", "bear", "drop", "fall", "sell-off", "selloff", "dump",
		"ban", "hack", "outflow", "liquidat", "fraud", "lawsuit", "crackdown", "fear",
		"collapse", "decline", "warning",
	}
	scorePattern = regexp.MustCompile(`\d{1,3}(\.\d+)?`)
)

// SentimentAnalyzer scores headlines on 0..100 (50 neutral). With an
// enabled AI backend the model is asked for the score and the keyword
// lexicon is the fallback.
type SentimentAnalyzer struct {
	ai interfaces.AIBackend
}

func NewSentimentAnalyzer(ai interfaces.AIBackend) *SentimentAnalyzer {
	return &SentimentAnalyzer{ai: ai}
}

// AnalyzeMultipleArticles aggregates per-article scores into one reading.
func (a *SentimentAnalyzer) AnalyzeMultipleArticles(ctx context.Context, query string, articles []types.NewsArticle) types.NewsSentiment {
	ctx, span := trace.StartSpan(ctx, "analyze-news-sentiment")
	defer span.End()

	out := types.NewsSentiment{Query: query, Score: 50, ArticleCount: len(articles)}
	if len(articles) == 0 {
		out.Summary = "No articles found"
		return out
	}
	for _, art := range articles {
		out.Headlines = append(out.Headlines, art.Title)
	}

	if score, ok := a.scoreWithAI(ctx, query, out.Headlines); ok {
		out.Score = score
		out.Summary = fmt.Sprintf("AI-scored %d headlines", len(articles))
		return out
	}

	total := 0.0
	for _, art := range articles {
		total += LexiconScore(art.Title + " " + art.Content)
	}
	out.Score = total / float64(len(articles))
	out.Summary = fmt.Sprintf("Keyword-scored %d headlines", len(articles))

	logger.Debug(ctx, "News sentiment aggregated", "query", query, "articles", len(articles), "score", out.Score)
	return out
}

// LexiconScore maps bullish/bearish keyword hits in text onto 0..100.
func LexiconScore(text string) float64 {
	t := strings.ToLower(text)
	bull, bear := 0, 0
	for _, w := range bullishTerms {
		if strings.Contains(t, w) {
			bull++
		}
	}
	for _, w := range bearishTerms {
		if strings.Contains(t, w) {
			bear++
		}
	}
	if bull+bear == 0 {
		return 50
	}
	return 50 + 50*float64(bull-bear)/float64(bull+bear)
}

func (a *SentimentAnalyzer) scoreWithAI(ctx context.Context, query string, headlines []string) (float64, bool) {
	if a.ai == nil || !a.ai.IsEnabled() {
		return 0, false
	}
	prompt := fmt.Sprintf(
		"Rate the overall market sentiment of these %s headlines from 0 (extremely bearish) to 100 (extremely bullish). Reply with the number only.\n\n- %s",
		query, strings.Join(headlines, "\n- "))
	text, err := a.ai.Chat(ctx, []interfaces.ChatMessage{{Role: "user", Content: prompt}}, "You are a crypto market sentiment analyst.")
	if err != nil {
		logger.ErrorWithErr(ctx, "AI sentiment scoring failed", err, "query", query)
		return 0, false
	}
	m := scorePattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
