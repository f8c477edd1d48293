package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/extsignal"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

type ExternalSignalConfig struct {
	Symbol     string
	Timeframes []string
	Threshold  float64
	StrongOnly bool
}

// CombinedSignal is published on TopicCombinedSignal when the weighted
// score crosses the threshold.
type CombinedSignal struct {
	Timestamp time.Time                   `json:"timestamp"`
	Symbol    string                      `json:"symbol"`
	Direction types.Direction             `json:"direction"`
	Strong    bool                        `json:"strong"`
	BuyScore  float64                     `json:"buy_score"`
	SellScore float64                     `json:"sell_score"`
	Ratings   map[string]extsignal.Rating `json:"ratings"`
}

// ExternalSignal polls a third-party TA feed across timeframes.
type ExternalSignal struct {
	src interfaces.SignalSource
	ai  interfaces.AIBackend
	bus *bus.Bus
	cfg ExternalSignalConfig

	mu      sync.Mutex
	ratings map[string]extsignal.Rating
	last    *CombinedSignal
	now     func() time.Time
}

func NewExternalSignal(src interfaces.SignalSource, ai interfaces.AIBackend, b *bus.Bus, cfg ExternalSignalConfig) *ExternalSignal {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"1h", "4h", "1d"}
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	return &ExternalSignal{src: src, ai: ai, bus: b, cfg: cfg, now: time.Now}
}

func (x *ExternalSignal) ID() string            { return ExternalSignalID }
func (x *ExternalSignal) Name() string          { return "External Signal Agent" }
func (x *ExternalSignal) Type() types.AgentType { return types.AgentExternalSignal }

func (x *ExternalSignal) Keywords() []string {
	return []string{"external", "tradingview", "feed", "rating"}
}

// Last returns the most recent combined signal, if one was emitted.
func (x *ExternalSignal) Last() (CombinedSignal, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.last == nil {
		return CombinedSignal{}, false
	}
	return *x.last, true
}

func (x *ExternalSignal) Execute(ctx context.Context) error {
	ratings := make(map[string]extsignal.Rating, len(x.cfg.Timeframes))
	var errs []error
	for _, tf := range x.cfg.Timeframes {
		raw, err := x.src.Recommendation(ctx, x.cfg.Symbol, tf)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tf, err))
			continue
		}
		ratings[tf] = extsignal.Normalize(raw)
	}
	if len(ratings) == 0 {
		return fmt.Errorf("external signal fetch failed: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Warn(ctx, "External timeframe unavailable", "error", err)
	}

	x.mu.Lock()
	x.ratings = ratings
	x.mu.Unlock()

	sig, ok := CombineRatings(ratings, x.cfg.Threshold, x.cfg.StrongOnly)
	if !ok {
		logger.Debug(ctx, "External ratings below threshold",
			"buy_score", sig.BuyScore,
			"sell_score", sig.SellScore,
		)
		return nil
	}
	sig.Timestamp = x.now()
	sig.Symbol = x.cfg.Symbol

	x.mu.Lock()
	x.last = &sig
	x.mu.Unlock()

	logger.Info(ctx, "External combined signal",
		"direction", string(sig.Direction),
		"strong", sig.Strong,
		"buy_score", sig.BuyScore,
		"sell_score", sig.SellScore,
	)
	publish(ctx, x.bus, x.ID(), bus.TypeAnalysis, bus.TopicCombinedSignal, sig)
	return nil
}

// CombineRatings weights each timeframe's rating (daily 3, 4h 2, others 1)
// into buy and sell scores. A signal is emitted when one side reaches the
// threshold and leads; the threshold doubles when only strong ratings
// count. Strong means the winning score is at least twice the threshold.
func CombineRatings(ratings map[string]extsignal.Rating, threshold float64, strongOnly bool) (CombinedSignal, bool) {
	sig := CombinedSignal{Ratings: ratings}
	for tf, r := range ratings {
		if strongOnly && !r.Strong() {
			continue
		}
		w := timeframeWeight(tf)
		switch {
		case r > 0:
			sig.BuyScore += w * float64(r)
		case r < 0:
			sig.SellScore += w * float64(-r)
		}
	}
	if strongOnly {
		threshold *= 2
	}
	var score float64
	switch {
	case sig.BuyScore >= threshold && sig.BuyScore > sig.SellScore:
		sig.Direction, score = types.Long, sig.BuyScore
	case sig.SellScore >= threshold && sig.SellScore > sig.BuyScore:
		sig.Direction, score = types.Short, sig.SellScore
	default:
		return sig, false
	}
	sig.Strong = score >= 2*threshold
	return sig, true
}

func (x *ExternalSignal) EvaluateTradeProposal(_ context.Context, p bus.Proposal) bus.Vote {
	sig, ok := x.Last()
	if !ok || x.now().Sub(sig.Timestamp) > time.Hour {
		return bus.Vote{Decision: types.Abstain, Reason: "no recent external signal"}
	}
	conf := 65.0
	if sig.Strong {
		conf = 85
	}
	if sig.Direction == p.Direction {
		return bus.Vote{Decision: types.Approve, Confidence: conf, Reason: "external feed agrees"}
	}
	return bus.Vote{Decision: types.Reject, Confidence: conf, Reason: "external feed is " + string(sig.Direction)}
}

func (x *ExternalSignal) ChatResponse(ctx context.Context, query string) string {
	return agentAnswer(ctx, x.ai, "You relay a third-party technical-analysis feed for BTC.", query, x.summary)
}

func (x *ExternalSignal) summary() string {
	x.mu.Lock()
	ratings := x.ratings
	x.mu.Unlock()
	if len(ratings) == 0 {
		return "No external ratings fetched yet."
	}
	tfs := make([]string, 0, len(ratings))
	for tf := range ratings {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return timeframeDurations[tfs[i]] < timeframeDurations[tfs[j]] })

	parts := make([]string, 0, len(tfs))
	for _, tf := range tfs {
		parts = append(parts, fmt.Sprintf("%s %s", tf, ratings[tf]))
	}
	s := fmt.Sprintf("%s ratings: %s.", x.cfg.Symbol, strings.Join(parts, ", "))
	if sig, ok := x.Last(); ok {
		s += fmt.Sprintf(" Last combined signal %s (strong=%t) at %s.", sig.Direction, sig.Strong, sig.Timestamp.UTC().Format(time.RFC3339))
	}
	return s
}
