package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

type SentimentBucket string

const (
	ExtremeFear  SentimentBucket = "extreme_fear"
	Fear         SentimentBucket = "fear"
	NeutralMood  SentimentBucket = "neutral"
	Greed        SentimentBucket = "greed"
	ExtremeGreed SentimentBucket = "extreme_greed"
)

type Outlook string

const (
	Bullish Outlook = "bullish"
	Bearish Outlook = "bearish"
	Neutral Outlook = "neutral"
)

// Flags set by the contrarian overrides.
const (
	FlagOpportunity  = "opportunity"
	FlagReversalRisk = "reversal_risk"
)

// Composite weights when both inputs are available.
const (
	newsWeight      = 0.4
	fearGreedWeight = 0.6
)

// ResearchReport is published on TopicSentiment.
type ResearchReport struct {
	Timestamp      time.Time       `json:"timestamp"`
	NewsScore      *float64        `json:"news_score,omitempty"`
	FearGreed      *int            `json:"fear_greed,omitempty"`
	Score          float64         `json:"score"`
	Bucket         SentimentBucket `json:"bucket"`
	Recommendation Outlook         `json:"recommendation"`
	Confidence     float64         `json:"confidence"`
	Flags          []string        `json:"flags,omitempty"`
	Headlines      []string        `json:"headlines,omitempty"`
}

func (r ResearchReport) HasFlag(f string) bool {
	for _, x := range r.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Researcher blends news sentiment with the fear/greed index.
type Researcher struct {
	news  interfaces.NewsSentimentSource
	fg    interfaces.FearGreedSource
	ai    interfaces.AIBackend
	bus   *bus.Bus
	query string

	mu   sync.Mutex
	last *ResearchReport
	now  func() time.Time
}

// NewResearcher builds the agent; either source may be nil.
func NewResearcher(news interfaces.NewsSentimentSource, fg interfaces.FearGreedSource, ai interfaces.AIBackend, b *bus.Bus, query string) *Researcher {
	if query == "" {
		query = "bitcoin"
	}
	return &Researcher{news: news, fg: fg, ai: ai, bus: b, query: query, now: time.Now}
}

func (r *Researcher) ID() string            { return ResearcherID }
func (r *Researcher) Name() string          { return "Researcher" }
func (r *Researcher) Type() types.AgentType { return types.AgentResearcher }

func (r *Researcher) Keywords() []string {
	return []string{"news", "sentiment", "fear", "greed", "research", "headline"}
}

func (r *Researcher) Last() (ResearchReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return ResearchReport{}, false
	}
	return *r.last, true
}

func (r *Researcher) Execute(ctx context.Context) error {
	var (
		newsScore *float64
		fgValue   *int
		headlines []string
		errs      []error
	)
	if r.news != nil {
		if s, err := r.news.GetSentiment(ctx, r.query); err != nil {
			errs = append(errs, fmt.Errorf("news: %w", err))
		} else if s.ArticleCount > 0 {
			v := s.Score
			newsScore = &v
			headlines = s.Headlines
		}
	}
	if r.fg != nil {
		if f, err := r.fg.Current(ctx); err != nil {
			errs = append(errs, fmt.Errorf("fear/greed: %w", err))
		} else {
			v := f.Value
			fgValue = &v
		}
	}

	var score float64
	switch {
	case newsScore != nil && fgValue != nil:
		news, fg := *newsScore, float64(*fgValue)
		score = newsWeight*news + fearGreedWeight*fg
	case newsScore != nil:
		score = *newsScore
	case fgValue != nil:
		score = float64(*fgValue)
	default:
		if len(errs) == 0 {
			errs = append(errs, errors.New("no sentiment sources returned data"))
		}
		return fmt.Errorf("research failed: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Warn(ctx, "Sentiment source degraded", "error", err)
	}

	rep := Assess(score)
	rep.Timestamp = r.now()
	rep.NewsScore = newsScore
	rep.FearGreed = fgValue
	rep.Headlines = headlines

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()

	logger.Decision(ctx, r.ID(), string(rep.Recommendation), rep.Confidence, string(rep.Bucket),
		"score", rep.Score,
		"flags", strings.Join(rep.Flags, ","),
	)
	publish(ctx, r.bus, r.ID(), bus.TypeAnalysis, bus.TopicSentiment, rep)
	return nil
}

// Bucket maps a 0-100 sentiment score onto five moods.
func Bucket(score float64) SentimentBucket {
	switch {
	case score <= 20:
		return ExtremeFear
	case score <= 40:
		return Fear
	case score < 60:
		return NeutralMood
	case score < 80:
		return Greed
	}
	return ExtremeGreed
}

// Assess turns a composite score into an outlook. Extremes are read
// contrarian: extreme fear is a buying opportunity, extreme greed a
// reversal risk that neutralises the call.
func Assess(score float64) ResearchReport {
	score = math.Max(0, math.Min(100, score))
	rep := ResearchReport{Score: score, Bucket: Bucket(score)}
	distance := math.Abs(score-50) * 2

	switch {
	case rep.Bucket == ExtremeFear:
		rep.Recommendation = Bullish
		rep.Flags = append(rep.Flags, FlagOpportunity)
	case rep.Bucket == ExtremeGreed:
		rep.Recommendation = Neutral
		rep.Flags = append(rep.Flags, FlagReversalRisk)
	case score >= 60:
		rep.Recommendation = Bullish
	case score <= 40:
		rep.Recommendation = Bearish
	default:
		rep.Recommendation = Neutral
	}
	rep.Confidence = distance
	return rep
}

func (r *Researcher) EvaluateTradeProposal(_ context.Context, p bus.Proposal) bus.Vote {
	rep, ok := r.Last()
	if !ok {
		return bus.Vote{Decision: types.Abstain, Reason: "no sentiment data yet"}
	}
	reason := fmt.Sprintf("sentiment %s (%.0f)", rep.Bucket, rep.Score)
	switch {
	case rep.HasFlag(FlagReversalRisk) && p.Direction == types.Long:
		return bus.Vote{Decision: types.Reject, Confidence: rep.Confidence, Reason: reason + ", reversal risk"}
	case rep.Recommendation == Bullish:
		if p.Direction == types.Long {
			return bus.Vote{Decision: types.Approve, Confidence: rep.Confidence, Reason: reason}
		}
		return bus.Vote{Decision: types.Reject, Confidence: rep.Confidence, Reason: reason}
	case rep.Recommendation == Bearish:
		if p.Direction == types.Short {
			return bus.Vote{Decision: types.Approve, Confidence: rep.Confidence, Reason: reason}
		}
		return bus.Vote{Decision: types.Reject, Confidence: rep.Confidence, Reason: reason}
	}
	return bus.Vote{Decision: types.Abstain, Confidence: rep.Confidence, Reason: reason}
}

func (r *Researcher) TradeOpinion(ctx context.Context, dir types.Direction, _ string) types.Opinion {
	v := r.EvaluateTradeProposal(ctx, bus.Proposal{Direction: dir})
	return types.Opinion{Decision: v.Decision, Confidence: v.Confidence, Reason: v.Reason}
}

func (r *Researcher) ChatResponse(ctx context.Context, query string) string {
	return agentAnswer(ctx, r.ai, "You are the research agent of a BTC futures trading swarm. Summarise market sentiment and news.", query, r.summary)
}

func (r *Researcher) summary() string {
	rep, ok := r.Last()
	if !ok {
		return "No sentiment research has completed yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sentiment %s (score %.0f), outlook %s with %.0f%% confidence.", rep.Bucket, rep.Score, rep.Recommendation, rep.Confidence)
	if rep.FearGreed != nil {
		fmt.Fprintf(&b, " Fear & Greed index %d.", *rep.FearGreed)
	}
	if len(rep.Flags) > 0 {
		fmt.Fprintf(&b, " Flags: %s.", strings.Join(rep.Flags, ", "))
	}
	for i, h := range rep.Headlines {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "\n- %s", h)
	}
	return b.String()
}
