package interfaces

import (
	"context"
	"time"

	"btc-agent-swarm/internal/types"
)

// Exchange is the BTC futures venue. Authenticated calls fail when no
// credentials were supplied.
type Exchange interface {
	Ping(ctx context.Context) bool
	Authenticated() bool

	GetTicker(ctx context.Context) (types.Ticker, error)
	GetCandles(ctx context.Context, from, to time.Time, interval string) ([]types.Candle, error)

	GetBalance(ctx context.Context) (int64, error)
	GetRunningPositions(ctx context.Context) ([]types.Position, error)
	OpenPosition(ctx context.Context, req types.OpenRequest) (types.Position, error)
	ClosePosition(ctx context.Context, id string) error
	UpdateStopLoss(ctx context.Context, id string, value float64) error
	UpdateTakeProfit(ctx context.Context, id string, value float64) error
}
