// Package feargreed reads the public crypto Fear & Greed index.
package feargreed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/types"
)

const DefaultBaseURL = "https://api.alternative.me"

var ErrNoData = errors.New("feargreed: empty response")

type Client struct {
	http *resty.Client
}

var _ interfaces.FearGreedSource = (*Client)(nil)

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(15 * time.Second)
	return &Client{http: client}
}

type fngResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

// Current returns today's index value (0 extreme fear, 100 extreme greed).
func (c *Client) Current(ctx context.Context) (types.FearGreed, error) {
	var out fngResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		SetResult(&out).
		Get("/fng/")
	if err != nil {
		return types.FearGreed{}, fmt.Errorf("failed to fetch fear & greed index: %w", err)
	}
	if resp.IsError() {
		return types.FearGreed{}, fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Data) == 0 {
		return types.FearGreed{}, ErrNoData
	}

	d := out.Data[0]
	v, err := strconv.Atoi(d.Value)
	if err != nil {
		return types.FearGreed{}, fmt.Errorf("invalid index value %q: %w", d.Value, err)
	}
	fg := types.FearGreed{Value: v, Classification: d.Classification}
	if ts, err := strconv.ParseInt(d.Timestamp, 10, 64); err == nil {
		fg.Timestamp = time.Unix(ts, 0).UTC()
	}
	return fg, nil
}
