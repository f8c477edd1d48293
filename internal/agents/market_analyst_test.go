package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/types"
)

func oversoldUptrend() ta.Summary {
	return ta.Summary{
		Price: 100, SMA200: 90, RSI: 25, MACDHistogram: 1.5, ADX: 30,
		TrendScore: 55, MomentumScore: 45, Score: 50, Signal: ta.StrongBuy,
	}
}

func TestRecommendOversoldUptrend(t *testing.T) {
	a := Recommend(oversoldUptrend(), nil)
	assert.Equal(t, ActionLong, a.Action)
	assert.GreaterOrEqual(t, a.Confidence, 70.0)
	// base 50 + trend 10 + oversold 15
	assert.InDelta(t, 75, a.Confidence, 1e-9)
}

func TestRecommendPatternsAndCap(t *testing.T) {
	a := Recommend(oversoldUptrend(), []string{ta.PatternBullishEngulfing, ta.PatternHammer, ta.PatternShootingStar})
	assert.Equal(t, ActionLong, a.Action)
	assert.InDelta(t, 90, a.Confidence, 1e-9)

	bear := ta.Summary{Price: 80, SMA200: 90, RSI: 75, MACDHistogram: -1, ADX: 40, Score: -60, Signal: ta.StrongSell}
	b := Recommend(bear, []string{ta.PatternBearishEngulfing, ta.PatternBearishEngulfing, ta.PatternBearishEngulfing, ta.PatternShootingStar, ta.PatternBullishEngulfing})
	assert.Equal(t, ActionShort, b.Action)
	assert.Equal(t, 100.0, b.Confidence)
}

func TestRecommendNeutralCompositeIsHold(t *testing.T) {
	mixed := ta.Summary{Price: 100, SMA200: 90, RSI: 50, MACDHistogram: -1, Score: 5, Signal: ta.Neutral}
	a := Recommend(mixed, nil)
	assert.Equal(t, ActionHold, a.Action)
	assert.Zero(t, a.Confidence)
}

func TestRecommendBaseFollowsCompositeScore(t *testing.T) {
	tests := []struct {
		name   string
		score  float64
		signal ta.Signal
		action Action
		want   float64
	}{
		{name: "strong buy", score: 95, signal: ta.StrongBuy, action: ActionLong, want: 100},
		{name: "strong buy at threshold", score: 50, signal: ta.StrongBuy, action: ActionLong, want: 75},
		{name: "buy", score: 25, signal: ta.Buy, action: ActionLong, want: 50},
		{name: "sell against trend", score: -30, signal: ta.Sell, action: ActionShort, want: 30},
		{name: "neutral", score: 5, signal: ta.Neutral, action: ActionHold, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := oversoldUptrend()
			sum.Score, sum.Signal = tt.score, tt.signal
			a := Recommend(sum, nil)
			assert.Equal(t, tt.action, a.Action)
			assert.InDelta(t, tt.want, a.Confidence, 1e-9)
		})
	}

	strong, weak := oversoldUptrend(), oversoldUptrend()
	strong.Score, weak.Score = 80, 30
	weak.Signal = ta.Buy
	assert.Greater(t, Recommend(strong, nil).Confidence, Recommend(weak, nil).Confidence)
}

func TestCombineWeightsDailyHigher(t *testing.T) {
	analyses := []TimeframeAnalysis{
		{Timeframe: "1h", Action: ActionLong, Confidence: 80, Summary: ta.Summary{Price: 101}},
		{Timeframe: "1d", Action: ActionShort, Confidence: 70, Summary: ta.Summary{Price: 99}},
	}
	rec := Combine(analyses, 50)
	assert.Equal(t, ActionShort, rec.Action)
	assert.InDelta(t, 52.5, rec.ShortScore, 1e-9)
	assert.InDelta(t, 20, rec.LongScore, 1e-9)
	assert.Equal(t, 101.0, rec.Price)

	assert.Equal(t, ActionHold, Combine(analyses, 60).Action)
}

func TestCombineRequiresScoreAboveMinimum(t *testing.T) {
	analyses := []TimeframeAnalysis{{Timeframe: "1h", Action: ActionLong, Confidence: 60, Summary: ta.Summary{Price: 100}}}

	rec := Combine(analyses, 60)
	assert.Equal(t, ActionHold, rec.Action)
	assert.InDelta(t, 60, rec.Confidence, 1e-9)

	assert.Equal(t, ActionLong, Combine(analyses, 59.9).Action)
}

func TestMarketAnalystExecutePublishes(t *testing.T) {
	ctx := context.Background()
	b := bus.New(bus.Config{})
	var got []Recommendation
	b.SubscribeType(bus.TypeAnalysis, func(_ context.Context, m bus.Message) {
		if rec, ok := m.Payload.(Recommendation); ok {
			got = append(got, rec)
		}
	})

	ex := &fakeExchange{candles: map[string][]types.Candle{"1h": make([]types.Candle, 250)}}
	m := NewMarketAnalyst(ex, fakeAnalyzer{summary: oversoldUptrend()}, nil, b, MarketAnalystConfig{Timeframes: []string{"1h"}, MinConfidence: 60})

	require.NoError(t, m.Execute(ctx))
	require.Len(t, got, 1)
	assert.Equal(t, ActionLong, got[0].Action)
	assert.InDelta(t, 75, got[0].Confidence, 1e-9)
	assert.Equal(t, []float64{95}, got[0].Timeframes[0].Levels.Supports)

	v := m.EvaluateTradeProposal(ctx, bus.Proposal{Direction: types.Long})
	assert.Equal(t, types.Approve, v.Decision)
	v = m.EvaluateTradeProposal(ctx, bus.Proposal{Direction: types.Short})
	assert.Equal(t, types.Reject, v.Decision)
	assert.Contains(t, m.ChatResponse(ctx, "what is the trend?"), "Overall call: long")
}

func TestMarketAnalystFailsWhenEveryTimeframeFails(t *testing.T) {
	ex := &fakeExchange{candlesErr: errFake}
	m := NewMarketAnalyst(ex, fakeAnalyzer{}, nil, nil, MarketAnalystConfig{Timeframes: []string{"1h", "4h"}})
	err := m.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errFake)

	_, ok := m.Last()
	assert.False(t, ok)
}

func TestMarketAnalystSkipsBadTimeframe(t *testing.T) {
	ex := &fakeExchange{candles: map[string][]types.Candle{"1h": make([]types.Candle, 250)}}
	m := NewMarketAnalyst(ex, fakeAnalyzer{summary: oversoldUptrend()}, nil, nil, MarketAnalystConfig{Timeframes: []string{"1h", "2w"}, MinConfidence: 60})
	require.NoError(t, m.Execute(context.Background()))
	rec, ok := m.Last()
	require.True(t, ok)
	assert.Len(t, rec.Timeframes, 1)
}
