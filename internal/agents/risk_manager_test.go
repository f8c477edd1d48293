package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/types"
)

func newTestRisk(clock *fixedClock) *RiskManager {
	r := NewRiskManager(nil, nil, nil, RiskConfig{
		MaxExposurePercent:  50,
		MaxDailyLossPercent: 10,
		MaxMarginPerTrade:   100_000,
		MaxLeverage:         10,
	})
	r.now = clock.now
	return r
}

func TestAssessDailyLossBlocksTrading(t *testing.T) {
	clock := &fixedClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := newTestRisk(clock)

	first := r.Assess(1_000_000, nil)
	assert.True(t, first.CanOpenNewPosition)
	assert.Zero(t, first.DailyPLPercent)

	clock.advance(time.Hour)
	second := r.Assess(880_000, nil)
	assert.InDelta(t, -12, second.DailyPLPercent, 1e-9)
	assert.Zero(t, second.ExposurePercent)
	assert.Positive(t, second.AvailableMargin)
	assert.False(t, second.CanOpenNewPosition)
	require.Len(t, second.Alerts, 1)
	assert.Equal(t, types.AlertDailyLossLimit, second.Alerts[0].Kind)
	assert.Equal(t, types.SeverityCritical, second.Alerts[0].Severity)
	assert.False(t, r.CanOpenNewPosition())
}

func TestAssessBaselineResetsOnNewDay(t *testing.T) {
	clock := &fixedClock{t: time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)}
	r := newTestRisk(clock)
	r.Assess(1_000_000, nil)

	clock.advance(2 * time.Hour)
	a := r.Assess(880_000, nil)
	assert.Zero(t, a.DailyPLPercent)
	assert.True(t, a.CanOpenNewPosition)
}

func TestRiskBaselineSurvivesSameDayRestore(t *testing.T) {
	clock := &fixedClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := newTestRisk(clock)
	r.Assess(1_000_000, nil)
	clock.advance(time.Hour)
	require.False(t, r.Assess(880_000, nil).CanOpenNewPosition)

	raw, err := r.AgentState()
	require.NoError(t, err)

	restarted := newTestRisk(clock)
	require.NoError(t, restarted.RestoreAgentState(raw))
	assert.False(t, restarted.CanOpenNewPosition())

	clock.advance(time.Hour)
	a := restarted.Assess(880_000, nil)
	assert.InDelta(t, -12, a.DailyPLPercent, 1e-9)
	assert.False(t, a.CanOpenNewPosition)
	assert.False(t, restarted.CanOpenNewPosition())
}

func TestRiskRestoredBaselineExpiresNextDay(t *testing.T) {
	clock := &fixedClock{t: time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)}
	r := newTestRisk(clock)
	r.Assess(1_000_000, nil)
	raw, err := r.AgentState()
	require.NoError(t, err)

	clock.advance(3 * time.Hour)
	restarted := newTestRisk(clock)
	require.NoError(t, restarted.RestoreAgentState(raw))
	a := restarted.Assess(880_000, nil)
	assert.Zero(t, a.DailyPLPercent)
	assert.True(t, a.CanOpenNewPosition)
}

func TestAssessExposureAndPositionTiers(t *testing.T) {
	r := newTestRisk(&fixedClock{t: time.Now()})
	positions := []types.Position{
		{ID: "a", Margin: 20_000, PL: -12_000},
		{ID: "b", Margin: 20_000, PL: -7_000},
		{ID: "c", Margin: 10_000, PL: -2_000},
		{ID: "d", Margin: 10_000, PL: 3_000},
	}
	a := r.Assess(100_000, positions)

	assert.Equal(t, int64(60_000), a.TotalMargin)
	assert.InDelta(t, 60, a.ExposurePercent, 1e-9)
	assert.Zero(t, a.AvailableMargin)
	assert.False(t, a.CanOpenNewPosition)

	levels := map[string]types.RiskLevel{}
	for _, p := range a.Positions {
		levels[p.PositionID] = p.Level
	}
	assert.Equal(t, types.RiskCritical, levels["a"])
	assert.Equal(t, types.RiskHigh, levels["b"])
	assert.Equal(t, types.RiskMedium, levels["c"])
	assert.Equal(t, types.RiskLow, levels["d"])

	kinds := map[string]int{}
	for _, al := range a.Alerts {
		kinds[al.Kind]++
	}
	assert.Equal(t, 1, kinds[types.AlertExposureLimit])
	assert.Equal(t, 2, kinds[types.AlertPositionRisk])
}

func TestCalculatePositionSize(t *testing.T) {
	r := newTestRisk(&fixedClock{t: time.Now()})

	size, err := r.CalculatePositionSize(types.Long, 80, 50_000, types.VolatilityLow)
	require.NoError(t, err)
	assert.Equal(t, types.PositionSize{Margin: 80_000, Leverage: 10, StopLoss: 49_500, TakeProfit: 51_000}, size)

	size, err = r.CalculatePositionSize(types.Short, 80, 50_000, types.VolatilityHigh)
	require.NoError(t, err)
	assert.Equal(t, types.PositionSize{Margin: 40_000, Leverage: 2, StopLoss: 51_500, TakeProfit: 47_000}, size)

	size, err = r.CalculatePositionSize(types.Long, 100, 50_001, types.VolatilityMedium)
	require.NoError(t, err)
	assert.Equal(t, int64(75_000), size.Margin)
	assert.Equal(t, 5.0, size.Leverage)
	// 1:2 risk/reward, rounded to the half-dollar tick.
	assert.Equal(t, 49_001.0, size.StopLoss)
	assert.Equal(t, 52_001.0, size.TakeProfit)
}

func TestCalculatePositionSizeRespectsGate(t *testing.T) {
	r := newTestRisk(&fixedClock{t: time.Now()})
	r.Assess(100_000, []types.Position{{ID: "a", Margin: 60_000}})

	_, err := r.CalculatePositionSize(types.Long, 90, 50_000, types.VolatilityLow)
	assert.ErrorIs(t, err, ErrTradingBlocked)
}

func TestCalculatePositionSizeCapsToAvailableMargin(t *testing.T) {
	r := newTestRisk(&fixedClock{t: time.Now()})
	r.Assess(100_000, []types.Position{{ID: "a", Margin: 30_000}})

	size, err := r.CalculatePositionSize(types.Long, 100, 50_000, types.VolatilityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), size.Margin)
}

func TestRiskExecuteHaltsOnce(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := bus.New(bus.Config{})
	ex := &fakeExchange{authed: true, balance: 1_000_000}
	r := NewRiskManager(ex, nil, b, RiskConfig{MaxExposurePercent: 50, MaxDailyLossPercent: 10, MaxMarginPerTrade: 100_000, MaxLeverage: 10})
	r.now = clock.now

	halts := 0
	b.SubscribeType(bus.TypeAlert, func(_ context.Context, m bus.Message) {
		if m.Topic == bus.TopicStopTrading {
			halts++
		}
	})

	require.NoError(t, r.Execute(ctx))
	ex.balance = 850_000
	require.NoError(t, r.Execute(ctx))
	require.NoError(t, r.Execute(ctx))
	assert.Equal(t, 1, halts)

	v := r.EvaluateTradeProposal(ctx, bus.Proposal{Direction: types.Long})
	assert.Equal(t, types.Reject, v.Decision)
	assert.Contains(t, r.ChatResponse(ctx, "what is my exposure?"), "blocked")
}

func TestRiskExecutePublicModeSkips(t *testing.T) {
	r := NewRiskManager(&fakeExchange{}, nil, nil, RiskConfig{})
	require.NoError(t, r.Execute(context.Background()))
	_, ok := r.LastAssessment()
	assert.False(t, ok)

	v := r.EvaluateTradeProposal(context.Background(), bus.Proposal{Direction: types.Long})
	assert.Equal(t, types.Abstain, v.Decision)
}
