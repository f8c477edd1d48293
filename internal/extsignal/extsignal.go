// Package extsignal reads third-party technical-analysis ratings and
// normalizes vendor recommendation strings.
package extsignal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"btc-agent-swarm/internal/interfaces"
)

const DefaultBaseURL = "https://scanner.tradingview.com"

var ErrNoRating = errors.New("extsignal: no rating returned")

// Rating is a recommendation on a five-level scale.
type Rating int

const (
	StrongSell Rating = -2
	Sell       Rating = -1
	Neutral    Rating = 0
	Buy        Rating = 1
	StrongBuy  Rating = 2
)

func (r Rating) String() string {
	switch r {
	case StrongSell:
		return "STRONG_SELL"
	case Sell:
		return "SELL"
	case Buy:
		return "BUY"
	case StrongBuy:
		return "STRONG_BUY"
	default:
		return "NEUTRAL"
	}
}

func (r Rating) Strong() bool {
	return r == StrongBuy || r == StrongSell
}

// Normalize maps vendor strings such as "Strong Buy", "STRONG_SELL" or
// "sell" onto a Rating. Unknown strings are neutral.
func Normalize(s string) Rating {
	k := strings.ToUpper(strings.TrimSpace(s))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	switch k {
	case "STRONG_BUY", "STRONGBUY":
		return StrongBuy
	case "BUY", "OUTPERFORM", "BULLISH":
		return Buy
	case "SELL", "UNDERPERFORM", "BEARISH":
		return Sell
	case "STRONG_SELL", "STRONGSELL":
		return StrongSell
	default:
		return Neutral
	}
}

// fromScore converts a TradingView -1..1 "Recommend.All" value.
func fromScore(v float64) string {
	switch {
	case v > 0.5:
		return "STRONG_BUY"
	case v > 0.1:
		return "BUY"
	case v >= -0.1:
		return "NEUTRAL"
	case v >= -0.5:
		return "SELL"
	default:
		return "STRONG_SELL"
	}
}

var timeframeSuffix = map[string]string{
	"15m": "|15",
	"1h":  "|60",
	"4h":  "|240",
	"1d":  "",
	"1w":  "|1W",
}

// Client queries the TradingView scanner.
type Client struct {
	http *resty.Client
}

var _ interfaces.SignalSource = (*Client)(nil)

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(15 * time.Second)
	return &Client{http: client}
}

type scanRequest struct {
	Symbols struct {
		Tickers []string `json:"tickers"`
	} `json:"symbols"`
	Columns []string `json:"columns"`
}

type scanResponse struct {
	Data []struct {
		S string     `json:"s"`
		D []*float64 `json:"d"`
	} `json:"data"`
}

// Recommendation returns the vendor recommendation string for symbol
// (e.g. "BITSTAMP:BTCUSD") on timeframe.
func (c *Client) Recommendation(ctx context.Context, symbol, timeframe string) (string, error) {
	suffix, ok := timeframeSuffix[timeframe]
	if !ok {
		return "", fmt.Errorf("extsignal: unsupported timeframe %q", timeframe)
	}
	var req scanRequest
	req.Symbols.Tickers = []string{symbol}
	req.Columns = []string{"Recommend.All" + suffix}

	var out scanResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/crypto/scan")
	if err != nil {
		return "", fmt.Errorf("failed to fetch rating for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Data) == 0 || len(out.Data[0].D) == 0 || out.Data[0].D[0] == nil {
		return "", ErrNoRating
	}
	return fromScore(*out.Data[0].D[0]), nil
}
