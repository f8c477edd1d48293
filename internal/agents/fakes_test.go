package agents

import (
	"context"
	"errors"
	"sync"
	"time"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/types"
)

var errFake = errors.New("fake failure")

type fakeExchange struct {
	mu         sync.Mutex
	authed     bool
	ticker     types.Ticker
	candles    map[string][]types.Candle
	candlesErr error
	balance    int64
	positions  []types.Position
	openErr    error
	opened     []types.OpenRequest
}

var _ interfaces.Exchange = (*fakeExchange)(nil)

func (f *fakeExchange) Ping(context.Context) bool { return true }
func (f *fakeExchange) Authenticated() bool       { return f.authed }

func (f *fakeExchange) GetTicker(context.Context) (types.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeExchange) GetCandles(_ context.Context, _, _ time.Time, interval string) ([]types.Candle, error) {
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	return f.candles[interval], nil
}

func (f *fakeExchange) GetBalance(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) GetRunningPositions(context.Context) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Position(nil), f.positions...), nil
}

func (f *fakeExchange) OpenPosition(_ context.Context, req types.OpenRequest) (types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return types.Position{}, f.openErr
	}
	f.opened = append(f.opened, req)
	p := types.Position{ID: "pos-" + string(rune('0'+len(f.opened))), Side: req.Side, Margin: req.Margin, Leverage: req.Leverage, EntryPrice: f.ticker.Last}
	f.positions = append(f.positions, p)
	return p, nil
}

func (f *fakeExchange) ClosePosition(context.Context, string) error             { return nil }
func (f *fakeExchange) UpdateStopLoss(context.Context, string, float64) error   { return nil }
func (f *fakeExchange) UpdateTakeProfit(context.Context, string, float64) error { return nil }

func (f *fakeExchange) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeAnalyzer struct {
	summary  ta.Summary
	patterns []string
	err      error
}

var _ interfaces.TechnicalAnalyzer = fakeAnalyzer{}

func (f fakeAnalyzer) Analyze([]types.Candle) (ta.Summary, error) { return f.summary, f.err }
func (f fakeAnalyzer) DetectPatterns([]types.Candle) []string     { return f.patterns }
func (f fakeAnalyzer) SupportResistance([]types.Candle) ta.Levels {
	return ta.Levels{Supports: []float64{95}, Resistances: []float64{110}, Pivot: 100}
}

type fakeSizer struct {
	blocked bool
	size    types.PositionSize
	err     error
}

func (f fakeSizer) CanOpenNewPosition() bool { return !f.blocked }

func (f fakeSizer) CalculatePositionSize(types.Direction, float64, float64, types.VolatilityLevel) (types.PositionSize, error) {
	return f.size, f.err
}

type fakeNews struct {
	sentiment types.NewsSentiment
	err       error
}

func (f fakeNews) GetSentiment(context.Context, string) (types.NewsSentiment, error) {
	return f.sentiment, f.err
}

type fakeFearGreed struct {
	value int
	err   error
}

func (f fakeFearGreed) Current(context.Context) (types.FearGreed, error) {
	return types.FearGreed{Value: f.value}, f.err
}

type fakeSignalSource map[string]string

func (f fakeSignalSource) Recommendation(_ context.Context, _, tf string) (string, error) {
	r, ok := f[tf]
	if !ok {
		return "", errFake
	}
	return r, nil
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
