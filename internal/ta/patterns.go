package ta

import (
	"math"

	"btc-agent-swarm/internal/types"
)

const (
	PatternBullishEngulfing = "bullish_engulfing"
	PatternBearishEngulfing = "bearish_engulfing"
	PatternHammer           = "hammer"
	PatternShootingStar     = "shooting_star"
	PatternDoji             = "doji"
)

// DetectPatterns inspects the last two candles for single and two-bar patterns.
func (s *Service) DetectPatterns(candles []types.Candle) []string {
	if len(candles) < 2 {
		return nil
	}
	prev := candles[len(candles)-2]
	curr := candles[len(candles)-1]

	var out []string
	if prev.Close < prev.Open && curr.Close > curr.Open &&
		curr.Open <= prev.Close && curr.Close >= prev.Open {
		out = append(out, PatternBullishEngulfing)
	}
	if prev.Close > prev.Open && curr.Close < curr.Open &&
		curr.Open >= prev.Close && curr.Close <= prev.Open {
		out = append(out, PatternBearishEngulfing)
	}

	rng := curr.High - curr.Low
	if rng <= 0 {
		return out
	}
	body := math.Abs(curr.Close - curr.Open)
	upper := curr.High - math.Max(curr.Open, curr.Close)
	lower := math.Min(curr.Open, curr.Close) - curr.Low

	if body <= 0.1*rng {
		out = append(out, PatternDoji)
		return out
	}
	if lower >= 2*body && upper <= 0.5*body {
		out = append(out, PatternHammer)
	}
	if upper >= 2*body && lower <= 0.5*body {
		out = append(out, PatternShootingStar)
	}
	return out
}
