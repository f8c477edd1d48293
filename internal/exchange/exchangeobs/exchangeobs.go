package exchangeobs

import (
	"context"
	"time"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/trace"
	"btc-agent-swarm/internal/types"
)

// observableExchange wraps an Exchange with logging and tracing
type observableExchange struct {
	ex interfaces.Exchange
}

var _ interfaces.Exchange = (*observableExchange)(nil)

// Wrap wraps an exchange with observability middleware
func Wrap(ex interfaces.Exchange) interfaces.Exchange {
	return &observableExchange{ex: ex}
}

func (o *observableExchange) Authenticated() bool {
	return o.ex.Authenticated()
}

func (o *observableExchange) Ping(ctx context.Context) bool {
	ctx, span := trace.StartSpan(ctx, "exchange.Ping")
	defer span.End()

	ok := o.ex.Ping(ctx)
	logger.InfoSkip(ctx, 1, "Exchange ping", "ok", ok, "authenticated", o.ex.Authenticated())
	return ok
}

func (o *observableExchange) GetTicker(ctx context.Context) (types.Ticker, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.GetTicker")
	defer span.End()

	t, err := o.ex.GetTicker(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch ticker", err)
		return types.Ticker{}, err
	}
	logger.DebugSkip(ctx, 1, "Ticker fetched", "last", t.Last, "high_24h", t.High24h, "low_24h", t.Low24h)
	return t, nil
}

func (o *observableExchange) GetCandles(ctx context.Context, from, to time.Time, interval string) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.GetCandles")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching candles", "interval", interval, "from", from, "to", to)

	candles, err := o.ex.GetCandles(ctx, from, to, interval)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "interval", interval)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Candles fetched", "interval", interval, "count", len(candles))
	return candles, nil
}

func (o *observableExchange) GetBalance(ctx context.Context) (int64, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.GetBalance")
	defer span.End()

	bal, err := o.ex.GetBalance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err)
		return 0, err
	}
	logger.DebugSkip(ctx, 1, "Balance fetched", "balance", bal)
	return bal, nil
}

func (o *observableExchange) GetRunningPositions(ctx context.Context) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.GetRunningPositions")
	defer span.End()

	pos, err := o.ex.GetRunningPositions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Positions fetched", "count", len(pos))
	return pos, nil
}

// OpenPosition places an order with observability
func (o *observableExchange) OpenPosition(ctx context.Context, req types.OpenRequest) (types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OpenPosition")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Opening position",
		"side", req.Side,
		"margin", req.Margin,
		"leverage", req.Leverage,
		"stoploss", req.StopLoss,
		"takeprofit", req.TakeProfit,
	)

	pos, err := o.ex.OpenPosition(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to open position", err,
			"side", req.Side,
			"margin", req.Margin,
		)
		return types.Position{}, err
	}

	logger.InfoSkip(ctx, 1, "Position opened",
		"position_id", pos.ID,
		"entry_price", pos.EntryPrice,
	)
	return pos, nil
}

func (o *observableExchange) ClosePosition(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "exchange.ClosePosition")
	defer span.End()

	if err := o.ex.ClosePosition(ctx, id); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close position", err, "position_id", id)
		return err
	}
	logger.InfoSkip(ctx, 1, "Position closed", "position_id", id)
	return nil
}

func (o *observableExchange) UpdateStopLoss(ctx context.Context, id string, value float64) error {
	ctx, span := trace.StartSpan(ctx, "exchange.UpdateStopLoss")
	defer span.End()

	if err := o.ex.UpdateStopLoss(ctx, id, value); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to update stoploss", err, "position_id", id, "value", value)
		return err
	}
	logger.InfoSkip(ctx, 1, "Stoploss updated", "position_id", id, "value", value)
	return nil
}

func (o *observableExchange) UpdateTakeProfit(ctx context.Context, id string, value float64) error {
	ctx, span := trace.StartSpan(ctx, "exchange.UpdateTakeProfit")
	defer span.End()

	if err := o.ex.UpdateTakeProfit(ctx, id, value); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to update takeprofit", err, "position_id", id, "value", value)
		return err
	}
	logger.InfoSkip(ctx, 1, "Takeprofit updated", "position_id", id, "value", value)
	return nil
}
