package interfaces

import (
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/types"
)

type TechnicalAnalyzer interface {
	// Analyze requires at least ta.MinCandles candles.
	Analyze(candles []types.Candle) (ta.Summary, error)
	DetectPatterns(candles []types.Candle) []string
	SupportResistance(candles []types.Candle) ta.Levels
}
