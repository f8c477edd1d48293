package lnmarkets

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

// Ping checks reachability and, when credentials are set, that they are
// accepted.
func (c *Client) Ping(ctx context.Context) bool {
	if c.Authenticated() {
		_, err := c.GetBalance(ctx)
		return err == nil
	}
	var t tickerResp
	return c.do(ctx, resty.MethodGet, "/futures/ticker", nil, nil, false, &t) == nil
}

type tickerResp struct {
	Index     float64 `json:"index"`
	LastPrice float64 `json:"lastPrice"`
	AskPrice  float64 `json:"askPrice"`
	BidPrice  float64 `json:"bidPrice"`
}

type ohlcResp struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// GetTicker returns the last price and, from hourly candles, 24h stats.
// Missing 24h stats are left zero.
func (c *Client) GetTicker(ctx context.Context) (types.Ticker, error) {
	var tr tickerResp
	if err := c.do(ctx, resty.MethodGet, "/futures/ticker", nil, nil, false, &tr); err != nil {
		return types.Ticker{}, err
	}
	t := types.Ticker{Last: tr.LastPrice, Bid: tr.BidPrice, Ask: tr.AskPrice}

	now := c.now()
	candles, err := c.GetCandles(ctx, now.Add(-24*time.Hour), now, "1h")
	if err != nil || len(candles) == 0 {
		logger.Debug(ctx, "24h stats unavailable", "error", err)
		return t, nil
	}
	t.High24h, t.Low24h = candles[0].High, candles[0].Low
	for _, k := range candles {
		if k.High > t.High24h {
			t.High24h = k.High
		}
		if k.Low < t.Low24h {
			t.Low24h = k.Low
		}
		t.Volume24h += k.Vol
	}
	if open := candles[0].Open; open > 0 {
		t.Change24h = (t.Last - open) / open * 100
	}
	return t, nil
}

var intervalRange = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "1D",
}

// GetCandles returns bars oldest first.
func (c *Client) GetCandles(ctx context.Context, from, to time.Time, interval string) ([]types.Candle, error) {
	rng, ok := intervalRange[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterval, interval)
	}
	q := url.Values{}
	q.Set("range", rng)
	q.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	q.Set("limit", "1000")

	var raw []ohlcResp
	if err := c.do(ctx, resty.MethodGet, "/futures/ohlcs", q, nil, false, &raw); err != nil {
		return nil, err
	}
	out := make([]types.Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, types.Candle{
			Ts:    r.Time / 1000,
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
			Vol:   r.Volume,
		})
	}
	// the API returns newest first
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out, nil
}

type userResp struct {
	Balance int64 `json:"balance"`
}

// GetBalance returns the account balance in sats.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	var u userResp
	if err := c.do(ctx, resty.MethodGet, "/user", nil, nil, true, &u); err != nil {
		return 0, err
	}
	return u.Balance, nil
}

type positionResp struct {
	ID          string  `json:"id"`
	Side        string  `json:"side"`
	Margin      int64   `json:"margin"`
	Leverage    float64 `json:"leverage"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	StopLoss    float64 `json:"stoploss"`
	TakeProfit  float64 `json:"takeprofit"`
	PL          int64   `json:"pl"`
	Liquidation float64 `json:"liquidation"`
	CreationTs  int64   `json:"creation_ts"`
}

func (p positionResp) toPosition() types.Position {
	side := types.Long
	if p.Side == "s" {
		side = types.Short
	}
	return types.Position{
		ID:          p.ID,
		Side:        side,
		Margin:      p.Margin,
		Leverage:    p.Leverage,
		EntryPrice:  p.Price,
		Quantity:    p.Quantity,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		PL:          p.PL,
		Liquidation: p.Liquidation,
		OpenedAt:    time.UnixMilli(p.CreationTs).UTC(),
	}
}

func (c *Client) GetRunningPositions(ctx context.Context) ([]types.Position, error) {
	q := url.Values{}
	q.Set("type", "running")
	var raw []positionResp
	if err := c.do(ctx, resty.MethodGet, "/futures", q, nil, true, &raw); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toPosition())
	}
	return out, nil
}

type openBody struct {
	Type       string  `json:"type"`
	Side       string  `json:"side"`
	Margin     int64   `json:"margin"`
	Leverage   float64 `json:"leverage"`
	StopLoss   float64 `json:"stoploss,omitempty"`
	TakeProfit float64 `json:"takeprofit,omitempty"`
}

func (c *Client) OpenPosition(ctx context.Context, req types.OpenRequest) (types.Position, error) {
	if !req.Side.Valid() {
		return types.Position{}, fmt.Errorf("lnmarkets: invalid side %q", req.Side)
	}
	if req.Type == "" {
		req.Type = types.OrderMarket
	}
	body := openBody{
		Type:       string(req.Type),
		Side:       req.Side.Side(),
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
	var p positionResp
	if err := c.do(ctx, resty.MethodPost, "/futures", nil, body, true, &p); err != nil {
		return types.Position{}, err
	}
	return p.toPosition(), nil
}

func (c *Client) ClosePosition(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", id)
	return c.do(ctx, resty.MethodDelete, "/futures", q, nil, true, nil)
}

type updateBody struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

func (c *Client) UpdateStopLoss(ctx context.Context, id string, value float64) error {
	return c.do(ctx, resty.MethodPut, "/futures", nil, updateBody{ID: id, Type: "stoploss", Value: value}, true, nil)
}

func (c *Client) UpdateTakeProfit(ctx context.Context, id string, value float64) error {
	return c.do(ctx, resty.MethodPut, "/futures", nil, updateBody{ID: id, Type: "takeprofit", Value: value}, true, nil)
}
