package ta

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"btc-agent-swarm/internal/types"
)

// MinCandles is the history Analyze needs for a meaningful SMA200.
const MinCandles = 200

var ErrInsufficientCandles = errors.New("insufficient candle history")

type Signal string

const (
	StrongBuy  Signal = "strong_buy"
	Buy        Signal = "buy"
	Neutral    Signal = "neutral"
	Sell       Signal = "sell"
	StrongSell Signal = "strong_sell"
)

// Summary is the technical snapshot of the most recent candle. Scores are in [-100,100].
type Summary struct {
	Price         float64               `json:"price"`
	RSI           float64               `json:"rsi"`
	MACD          float64               `json:"macd"`
	MACDSignal    float64               `json:"macd_signal"`
	MACDHistogram float64               `json:"macd_histogram"`
	SMA20         float64               `json:"sma20"`
	SMA50         float64               `json:"sma50"`
	SMA200        float64               `json:"sma200"`
	EMA12         float64               `json:"ema12"`
	EMA26         float64               `json:"ema26"`
	ADX           float64               `json:"adx"`
	PlusDI        float64               `json:"plus_di"`
	MinusDI       float64               `json:"minus_di"`
	ATR           float64               `json:"atr"`
	ATRPercent    float64               `json:"atr_pct"`
	BBUpper       float64               `json:"bb_upper"`
	BBMiddle      float64               `json:"bb_middle"`
	BBLower       float64               `json:"bb_lower"`
	TrendScore    float64               `json:"trend_score"`
	MomentumScore float64               `json:"momentum_score"`
	Score         float64               `json:"score"`
	Signal        Signal                `json:"signal"`
	Volatility    types.VolatilityLevel `json:"volatility"`
}

// Levels holds classic floor pivots merged with recent swing points.
type Levels struct {
	Supports    []float64 `json:"supports"`
	Resistances []float64 `json:"resistances"`
	Pivot       float64   `json:"pivot"`
}

// Service exposes the indicator math behind the TechnicalAnalyzer contract.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func split(cs []types.Candle) (closes, highs, lows []float64) {
	closes = make([]float64, len(cs))
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	for i, c := range cs {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	return
}

// Analyze computes the technical summary. It fails with ErrInsufficientCandles below MinCandles.
func (s *Service) Analyze(candles []types.Candle) (Summary, error) {
	if len(candles) < MinCandles {
		return Summary{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCandles, len(candles), MinCandles)
	}
	closes, highs, lows := split(candles)

	sum := Summary{
		Price:  closes[len(closes)-1],
		RSI:    RSI(closes, 14),
		SMA20:  SMA(closes, 20),
		SMA50:  SMA(closes, 50),
		SMA200: SMA(closes, 200),
		EMA12:  EMA(closes, 12),
		EMA26:  EMA(closes, 26),
		ATR:    ATR(highs, lows, closes, 14),
	}
	sum.MACD, sum.MACDSignal, sum.MACDHistogram = MACD(closes, 12, 26, 9)
	sum.ADX, sum.PlusDI, sum.MinusDI = ADX(highs, lows, closes, 14)
	sum.BBMiddle, sum.BBUpper, sum.BBLower = Bollinger(closes, 20, 2)
	if sum.Price > 0 {
		sum.ATRPercent = sum.ATR / sum.Price * 100
	}

	sum.TrendScore = trendScore(sum)
	sum.MomentumScore = momentumScore(sum)
	sum.Volatility = ClassifyVolatility(sum.ATRPercent)

	score := 0.5*sum.TrendScore + 0.5*sum.MomentumScore
	if sum.Volatility == types.VolatilityHigh {
		score *= 0.8
	}
	sum.Score = clamp(score, -100, 100)
	sum.Signal = signalFor(sum.Score)
	return sum, nil
}

func trendScore(s Summary) float64 {
	score := 0.0
	if s.Price > s.SMA200 {
		score += 40
	} else if s.Price < s.SMA200 {
		score -= 40
	}
	if s.SMA50 > s.SMA200 {
		score += 30
	} else if s.SMA50 < s.SMA200 {
		score -= 30
	}
	if s.Price > s.SMA20 {
		score += 15
	} else if s.Price < s.SMA20 {
		score -= 15
	}
	if s.PlusDI > s.MinusDI {
		score += 15
	} else if s.PlusDI < s.MinusDI {
		score -= 15
	}
	return clamp(score, -100, 100)
}

func momentumScore(s Summary) float64 {
	score := 0.0
	switch {
	case s.RSI < 30:
		score += 40
	case s.RSI > 70:
		score -= 40
	default:
		score += s.RSI - 50
	}
	if s.MACDHistogram > 0 {
		score += 40
	} else if s.MACDHistogram < 0 {
		score -= 40
	}
	if s.MACD > 0 {
		score += 20
	} else if s.MACD < 0 {
		score -= 20
	}
	return clamp(score, -100, 100)
}

// ClassifyVolatility buckets an ATR (or range) percentage of price.
func ClassifyVolatility(pct float64) types.VolatilityLevel {
	switch {
	case pct >= 3:
		return types.VolatilityHigh
	case pct >= 1.5:
		return types.VolatilityMedium
	default:
		return types.VolatilityLow
	}
}

func signalFor(score float64) Signal {
	switch {
	case score >= 50:
		return StrongBuy
	case score >= 20:
		return Buy
	case score <= -50:
		return StrongSell
	case score <= -20:
		return Sell
	}
	return Neutral
}

// SupportResistance returns floor pivots from the last candle plus swing lows/highs
// from the last 50 candles, nearest levels first.
func (s *Service) SupportResistance(candles []types.Candle) Levels {
	if len(candles) == 0 {
		return Levels{}
	}
	last := candles[len(candles)-1]
	p := (last.High + last.Low + last.Close) / 3
	rng := last.High - last.Low
	lv := Levels{
		Pivot:       p,
		Supports:    []float64{2*p - last.High, p - rng},
		Resistances: []float64{2*p - last.Low, p + rng},
	}

	start := len(candles) - 50
	if start < 2 {
		start = 2
	}
	for i := start; i < len(candles)-2; i++ {
		c := candles[i]
		if c.Low < candles[i-1].Low && c.Low < candles[i-2].Low && c.Low < candles[i+1].Low && c.Low < candles[i+2].Low && c.Low < last.Close {
			lv.Supports = append(lv.Supports, c.Low)
		}
		if c.High > candles[i-1].High && c.High > candles[i-2].High && c.High > candles[i+1].High && c.High > candles[i+2].High && c.High > last.Close {
			lv.Resistances = append(lv.Resistances, c.High)
		}
	}

	sort.Slice(lv.Supports, func(i, j int) bool { return lv.Supports[i] > lv.Supports[j] })
	sort.Float64s(lv.Resistances)
	return lv
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
