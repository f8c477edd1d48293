package interfaces

import (
	"context"

	"btc-agent-swarm/internal/types"
)

// SignalSource is a third-party technical-analysis feed returning a raw
// vendor recommendation string ("STRONG_BUY", "Sell", ...) per timeframe.
type SignalSource interface {
	Recommendation(ctx context.Context, symbol, timeframe string) (string, error)
}

type NewsSentimentSource interface {
	GetSentiment(ctx context.Context, query string) (types.NewsSentiment, error)
}

type FearGreedSource interface {
	Current(ctx context.Context) (types.FearGreed, error)
}
