package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/types"
)

// Action is the analyst's call: long, short or hold.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
)

// Direction maps an actionable call onto a trade direction.
func (a Action) Direction() (types.Direction, bool) {
	switch a {
	case ActionLong:
		return types.Long, true
	case ActionShort:
		return types.Short, true
	}
	return "", false
}

// candleHistory is how many bars are requested per timeframe; Analyze needs
// ta.MinCandles.
const candleHistory = 250

type TimeframeAnalysis struct {
	Timeframe  string     `json:"timeframe"`
	Summary    ta.Summary `json:"summary"`
	Patterns   []string   `json:"patterns,omitempty"`
	Levels     ta.Levels  `json:"levels"`
	Action     Action     `json:"action"`
	Confidence float64    `json:"confidence"`
	Reasons    []string   `json:"reasons"`
}

// Recommendation is the combined call published on TopicRecommendation.
type Recommendation struct {
	Timestamp  time.Time           `json:"timestamp"`
	Action     Action              `json:"action"`
	Confidence float64             `json:"confidence"`
	Price      float64             `json:"price"`
	LongScore  float64             `json:"long_score"`
	ShortScore float64             `json:"short_score"`
	Rationale  string              `json:"rationale"`
	Timeframes []TimeframeAnalysis `json:"timeframes"`
}

type MarketAnalystConfig struct {
	Timeframes    []string
	MinConfidence float64
}

// MarketAnalyst turns technical indicators on several timeframes into one
// weighted long/short call.
type MarketAnalyst struct {
	ex  interfaces.Exchange
	ta  interfaces.TechnicalAnalyzer
	ai  interfaces.AIBackend
	bus *bus.Bus
	cfg MarketAnalystConfig

	mu   sync.Mutex
	last *Recommendation
	now  func() time.Time
}

func NewMarketAnalyst(ex interfaces.Exchange, analyzer interfaces.TechnicalAnalyzer, ai interfaces.AIBackend, b *bus.Bus, cfg MarketAnalystConfig) *MarketAnalyst {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"1h", "4h", "1d"}
	}
	return &MarketAnalyst{ex: ex, ta: analyzer, ai: ai, bus: b, cfg: cfg, now: time.Now}
}

func (m *MarketAnalyst) ID() string            { return MarketAnalystID }
func (m *MarketAnalyst) Name() string          { return "Market Analyst" }
func (m *MarketAnalyst) Type() types.AgentType { return types.AgentMarketAnalyst }

func (m *MarketAnalyst) Keywords() []string {
	return []string{"price", "chart", "technical", "trend", "rsi", "macd", "support", "resistance", "analysis"}
}

// Last returns the most recent combined recommendation, if any.
func (m *MarketAnalyst) Last() (Recommendation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Recommendation{}, false
	}
	return *m.last, true
}

func (m *MarketAnalyst) Execute(ctx context.Context) error {
	tfs := m.cfg.Timeframes
	results := make([]*TimeframeAnalysis, len(tfs))
	errs := make([]error, len(tfs))

	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range tfs {
		i, tf := i, tf
		g.Go(func() error {
			a, err := m.analyzeTimeframe(gctx, tf)
			if err != nil {
				// One bad timeframe must not cancel the others.
				errs[i] = fmt.Errorf("%s: %w", tf, err)
				return nil
			}
			results[i] = &a
			return nil
		})
	}
	_ = g.Wait()

	var analyses []TimeframeAnalysis
	for i, r := range results {
		if r == nil {
			logger.Warn(ctx, "Timeframe analysis failed", "timeframe", tfs[i], "error", errs[i])
			continue
		}
		analyses = append(analyses, *r)
	}
	if len(analyses) == 0 {
		return fmt.Errorf("market analysis failed on every timeframe: %w", errors.Join(errs...))
	}

	rec := Combine(analyses, m.cfg.MinConfidence)
	rec.Timestamp = m.now()

	m.mu.Lock()
	m.last = &rec
	m.mu.Unlock()

	logger.Decision(ctx, m.ID(), string(rec.Action), rec.Confidence, rec.Rationale,
		"long_score", rec.LongScore,
		"short_score", rec.ShortScore,
		"price", rec.Price,
	)
	publish(ctx, m.bus, m.ID(), bus.TypeAnalysis, bus.TopicRecommendation, rec)
	return nil
}

func (m *MarketAnalyst) analyzeTimeframe(ctx context.Context, tf string) (TimeframeAnalysis, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return TimeframeAnalysis{}, fmt.Errorf("unknown timeframe %q", tf)
	}
	to := m.now()
	from := to.Add(-time.Duration(candleHistory) * d)
	candles, err := m.ex.GetCandles(ctx, from, to, tf)
	if err != nil {
		return TimeframeAnalysis{}, err
	}
	sum, err := m.ta.Analyze(candles)
	if err != nil {
		return TimeframeAnalysis{}, err
	}
	a := Recommend(sum, m.ta.DetectPatterns(candles))
	a.Timeframe = tf
	a.Levels = m.ta.SupportResistance(candles)
	return a, nil
}

// Recommend scores one timeframe. Direction follows the composite signal
// from ta.Analyze and the base confidence is the composite score's
// magnitude; trend, momentum and pattern bonuses are added on top. A
// neutral composite is a hold.
func Recommend(sum ta.Summary, patterns []string) TimeframeAnalysis {
	a := TimeframeAnalysis{Summary: sum, Patterns: patterns, Action: ActionHold}

	var long bool
	switch sum.Signal {
	case ta.StrongBuy, ta.Buy:
		long = true
		a.Action = ActionLong
	case ta.StrongSell, ta.Sell:
		a.Action = ActionShort
	default:
		return a
	}
	a.Reasons = append(a.Reasons, fmt.Sprintf("composite %s (score %.0f: trend %.0f, momentum %.0f, %s volatility)",
		sum.Signal, sum.Score, sum.TrendScore, sum.MomentumScore, sum.Volatility))
	conf := math.Abs(sum.Score)

	trendAgrees := (long && sum.Price > sum.SMA200) || (!long && sum.Price < sum.SMA200)
	if sum.ADX > 25 && trendAgrees {
		conf += 10
		a.Reasons = append(a.Reasons, fmt.Sprintf("strong trend (ADX %.1f)", sum.ADX))
	}
	switch {
	case long && sum.RSI < 30:
		conf += 15
		a.Reasons = append(a.Reasons, fmt.Sprintf("RSI oversold (%.1f)", sum.RSI))
	case !long && sum.RSI > 70:
		conf += 15
		a.Reasons = append(a.Reasons, fmt.Sprintf("RSI overbought (%.1f)", sum.RSI))
	}
	for _, p := range patterns {
		switch {
		case long && p == ta.PatternBullishEngulfing, !long && p == ta.PatternBearishEngulfing:
			conf += 10
			a.Reasons = append(a.Reasons, p)
		case long && p == ta.PatternHammer, !long && p == ta.PatternShootingStar:
			conf += 5
			a.Reasons = append(a.Reasons, p)
		}
	}
	a.Confidence = math.Min(conf, 100)
	return a
}

// Combine weights per-timeframe calls (daily 3, 4h 2, others 1). The
// result is actionable only when the normalized winning score exceeds
// minConfidence and beats the other side.
func Combine(analyses []TimeframeAnalysis, minConfidence float64) Recommendation {
	rec := Recommendation{Action: ActionHold, Timeframes: analyses}
	var totalWeight float64
	for _, a := range analyses {
		w := timeframeWeight(a.Timeframe)
		totalWeight += w
		switch a.Action {
		case ActionLong:
			rec.LongScore += w * a.Confidence
		case ActionShort:
			rec.ShortScore += w * a.Confidence
		}
	}
	if totalWeight == 0 {
		return rec
	}
	rec.LongScore /= totalWeight
	rec.ShortScore /= totalWeight

	// Price from the shortest timeframe is the freshest.
	sorted := append([]TimeframeAnalysis(nil), analyses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return timeframeDurations[sorted[i].Timeframe] < timeframeDurations[sorted[j].Timeframe]
	})
	rec.Price = sorted[0].Summary.Price

	switch {
	case rec.LongScore > minConfidence && rec.LongScore > rec.ShortScore:
		rec.Action, rec.Confidence = ActionLong, rec.LongScore
	case rec.ShortScore > minConfidence && rec.ShortScore > rec.LongScore:
		rec.Action, rec.Confidence = ActionShort, rec.ShortScore
	default:
		rec.Confidence = math.Max(rec.LongScore, rec.ShortScore)
	}

	var parts []string
	for _, a := range analyses {
		parts = append(parts, fmt.Sprintf("%s %s %.0f%%", a.Timeframe, a.Action, a.Confidence))
	}
	rec.Rationale = strings.Join(parts, ", ")
	return rec
}

func (m *MarketAnalyst) EvaluateTradeProposal(_ context.Context, p bus.Proposal) bus.Vote {
	rec, ok := m.Last()
	if !ok {
		return bus.Vote{Decision: types.Abstain, Reason: "no market analysis yet"}
	}
	dir, actionable := rec.Action.Direction()
	switch {
	case !actionable:
		return bus.Vote{Decision: types.Abstain, Confidence: rec.Confidence, Reason: "technicals are mixed"}
	case dir == p.Direction:
		return bus.Vote{Decision: types.Approve, Confidence: rec.Confidence, Reason: "technicals agree: " + rec.Rationale}
	default:
		return bus.Vote{Decision: types.Reject, Confidence: rec.Confidence, Reason: "technicals favour " + string(rec.Action)}
	}
}

func (m *MarketAnalyst) TradeOpinion(ctx context.Context, dir types.Direction, _ string) types.Opinion {
	v := m.EvaluateTradeProposal(ctx, bus.Proposal{Direction: dir})
	return types.Opinion{Decision: v.Decision, Confidence: v.Confidence, Reason: v.Reason}
}

func (m *MarketAnalyst) ChatResponse(ctx context.Context, query string) string {
	return agentAnswer(ctx, m.ai, "You are the market analyst of a BTC futures trading swarm. Answer briefly using technical analysis.", query, m.summary)
}

func (m *MarketAnalyst) summary() string {
	rec, ok := m.Last()
	if !ok {
		return "No market analysis has completed yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Overall call: %s (%.0f%% confidence) at %.1f.", rec.Action, rec.Confidence, rec.Price)
	for _, a := range rec.Timeframes {
		fmt.Fprintf(&b, "\n%s: %s %.0f%%, RSI %.1f, MACD hist %.2f, ADX %.1f", a.Timeframe, a.Action, a.Confidence, a.Summary.RSI, a.Summary.MACDHistogram, a.Summary.ADX)
		if len(a.Levels.Supports) > 0 {
			fmt.Fprintf(&b, ", support %.1f", a.Levels.Supports[0])
		}
		if len(a.Levels.Resistances) > 0 {
			fmt.Fprintf(&b, ", resistance %.1f", a.Levels.Resistances[0])
		}
	}
	return b.String()
}
