package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/types"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 3)))
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 0)))
}

func TestEMASeriesSeedsWithSMA(t *testing.T) {
	s := EMASeries([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, s, 5)
	assert.True(t, math.IsNaN(s[0]))
	assert.True(t, math.IsNaN(s[1]))
	assert.InDelta(t, 2.0, s[2], 1e-9)
	assert.InDelta(t, 3.0, s[3], 1e-9)
	assert.InDelta(t, 4.0, s[4], 1e-9)
	assert.InDelta(t, 4.0, EMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	assert.Equal(t, 100.0, RSI(rising, 14))

	zigzag := make([]float64, 15)
	for i := range zigzag {
		zigzag[i] = float64(1 + i%2)
	}
	assert.InDelta(t, 50.0, RSI(zigzag, 14), 1e-9)

	assert.True(t, math.IsNaN(RSI(rising[:5], 14)))
}

func TestMACDFlatSeries(t *testing.T) {
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 42
	}
	line, sig, hist := MACD(flat, 12, 26, 9)
	assert.InDelta(t, 0, line, 1e-9)
	assert.InDelta(t, 0, sig, 1e-9)
	assert.InDelta(t, 0, hist, 1e-9)

	line, _, _ = MACD(flat[:20], 12, 26, 9)
	assert.True(t, math.IsNaN(line))
}

func TestATRAndBollinger(t *testing.T) {
	n := 30
	highs, lows, closes := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	assert.InDelta(t, 2.0, ATR(highs, lows, closes, 14), 1e-9)
	assert.True(t, math.IsNaN(ATR(highs[:3], lows, closes, 14)))

	mid, up, low := Bollinger(closes, 20, 2)
	assert.InDelta(t, 100.0, mid, 1e-9)
	assert.InDelta(t, 100.0, up, 1e-9)
	assert.InDelta(t, 100.0, low, 1e-9)
}

func TestADXNeedsTwoPeriods(t *testing.T) {
	adx, _, _ := ADX(make([]float64, 20), make([]float64, 20), make([]float64, 20), 14)
	assert.True(t, math.IsNaN(adx))
}

func uptrend(n int) []types.Candle {
	cs := make([]types.Candle, n)
	for i := range cs {
		c := float64(100 + i)
		cs[i] = types.Candle{Ts: int64(i) * 3600, Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Vol: 10}
	}
	return cs
}

func TestAnalyzeRequiresHistory(t *testing.T) {
	_, err := NewService().Analyze(uptrend(MinCandles - 1))
	assert.ErrorIs(t, err, ErrInsufficientCandles)
}

func TestAnalyzeUptrend(t *testing.T) {
	sum, err := NewService().Analyze(uptrend(250))
	require.NoError(t, err)

	assert.Equal(t, 349.0, sum.Price)
	assert.InDelta(t, 249.5, sum.SMA200, 1e-9)
	assert.Equal(t, 100.0, sum.RSI)
	assert.Greater(t, sum.MACD, 0.0)
	assert.Greater(t, sum.PlusDI, sum.MinusDI)
	assert.Equal(t, 100.0, sum.TrendScore)
	assert.Equal(t, types.VolatilityLow, sum.Volatility)
	assert.InDelta(t, 2.0/349*100, sum.ATRPercent, 1e-9)
}

func TestClassifyVolatility(t *testing.T) {
	tests := []struct {
		pct  float64
		want types.VolatilityLevel
	}{
		{0.4, types.VolatilityLow},
		{1.5, types.VolatilityMedium},
		{2.9, types.VolatilityMedium},
		{3, types.VolatilityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyVolatility(tt.pct), "pct %.1f", tt.pct)
	}
}

func TestSignalFor(t *testing.T) {
	assert.Equal(t, StrongBuy, signalFor(50))
	assert.Equal(t, Buy, signalFor(20))
	assert.Equal(t, Neutral, signalFor(0))
	assert.Equal(t, Sell, signalFor(-20))
	assert.Equal(t, StrongSell, signalFor(-80))
}

func TestDetectPatterns(t *testing.T) {
	flat := types.Candle{Open: 100, High: 100.5, Low: 99.5, Close: 100}
	tests := []struct {
		name string
		prev types.Candle
		curr types.Candle
		want []string
	}{
		{
			name: "bullish engulfing",
			prev: types.Candle{Open: 105, High: 106, Low: 99, Close: 100},
			curr: types.Candle{Open: 99, High: 107, Low: 98, Close: 106},
			want: []string{PatternBullishEngulfing},
		},
		{
			name: "bearish engulfing",
			prev: types.Candle{Open: 100, High: 106, Low: 99, Close: 105},
			curr: types.Candle{Open: 106, High: 107, Low: 98, Close: 99},
			want: []string{PatternBearishEngulfing},
		},
		{
			name: "hammer",
			prev: flat,
			curr: types.Candle{Open: 100, High: 101.2, Low: 96, Close: 101},
			want: []string{PatternHammer},
		},
		{
			name: "shooting star",
			prev: flat,
			curr: types.Candle{Open: 100, High: 104, Low: 98.8, Close: 99},
			want: []string{PatternShootingStar},
		},
		{
			name: "doji",
			prev: flat,
			curr: types.Candle{Open: 100, High: 102, Low: 98, Close: 100.05},
			want: []string{PatternDoji},
		},
	}
	s := NewService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.DetectPatterns([]types.Candle{tt.prev, tt.curr}))
		})
	}
	assert.Nil(t, s.DetectPatterns([]types.Candle{flat}))
}

func TestSupportResistancePivots(t *testing.T) {
	s := NewService()
	assert.Equal(t, Levels{}, s.SupportResistance(nil))

	lv := s.SupportResistance([]types.Candle{{Open: 95, High: 110, Low: 90, Close: 100}})
	assert.InDelta(t, 100.0, lv.Pivot, 1e-9)
	assert.Equal(t, []float64{90, 80}, lv.Supports)
	assert.Equal(t, []float64{110, 120}, lv.Resistances)
}

func TestSupportResistanceSwings(t *testing.T) {
	cs := make([]types.Candle, 10)
	for i := range cs {
		cs[i] = types.Candle{Open: 100, High: 102, Low: 98, Close: 100}
	}
	cs[4].Low = 94
	cs[5].High = 107
	lv := NewService().SupportResistance(cs)
	assert.Contains(t, lv.Supports, 94.0)
	assert.Contains(t, lv.Resistances, 107.0)
	assert.IsNonIncreasing(t, lv.Supports)
	assert.IsIncreasing(t, lv.Resistances)
}
