package types

import "time"

// Candle is one OHLCV bar. Ts is unix seconds.
type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

type Ticker struct {
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Volume24h float64 `json:"volume_24h"`
	Change24h float64 `json:"change_24h_pct"`
}

// Direction of a trade. Long buys, short sells.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Side is the exchange wire form ("b" / "s").
func (d Direction) Side() string {
	if d == Short {
		return "s"
	}
	return "b"
}

// Position is a running futures position on the exchange. Margin and PL are in sats.
type Position struct {
	ID          string    `json:"id"`
	Side        Direction `json:"side"`
	Margin      int64     `json:"margin"`
	Leverage    float64   `json:"leverage"`
	EntryPrice  float64   `json:"entry_price"`
	Quantity    float64   `json:"quantity"`
	StopLoss    float64   `json:"stoploss,omitempty"`
	TakeProfit  float64   `json:"takeprofit,omitempty"`
	PL          int64     `json:"pl"`
	Liquidation float64   `json:"liquidation,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

type OrderType string

const (
	OrderMarket OrderType = "m"
	OrderLimit  OrderType = "l"
)

// OpenRequest describes a new futures position. Zero SL/TP means none.
type OpenRequest struct {
	Type       OrderType
	Side       Direction
	Margin     int64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
}

// ClampConfidence pins c into [0,100].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

// TradeSignal is a directional recommendation queued for execution.
type TradeSignal struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	Rationale      string    `json:"rationale"`
	Source         string    `json:"source"`
	ReferencePrice float64   `json:"reference_price"`
	ProposalID     string    `json:"proposal_id,omitempty"`
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// ExecutedTrade is the execution agent's record of an order it placed.
type ExecutedTrade struct {
	ID          string      `json:"id"`
	SignalID    string      `json:"signal_id"`
	ProposalID  string      `json:"proposal_id,omitempty"`
	PositionID  string      `json:"position_id"`
	Direction   Direction   `json:"direction"`
	Margin      int64       `json:"margin"`
	Leverage    float64     `json:"leverage"`
	EntryPrice  float64     `json:"entry_price"`
	StopLoss    float64     `json:"stoploss"`
	TakeProfit  float64     `json:"takeprofit"`
	Confidence  float64     `json:"confidence"`
	Source      string      `json:"source"`
	Status      TradeStatus `json:"status"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type PositionRisk struct {
	PositionID  string    `json:"position_id"`
	Side        Direction `json:"side"`
	Margin      int64     `json:"margin"`
	PL          int64     `json:"pl"`
	LossPercent float64   `json:"loss_pct"`
	Level       RiskLevel `json:"level"`
}

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert kinds the coordinator reacts to.
const (
	AlertExposureLimit  = "exposure_limit"
	AlertDailyLossLimit = "daily_loss_limit"
	AlertPositionRisk   = "position_risk"
	AlertStopTrading    = "stop_trading"
	AlertAgentError     = "agent_error"
	AlertAgentUnhealthy = "agent_unhealthy"
)

type Alert struct {
	Kind     string        `json:"kind"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
	AgentID  string        `json:"agent_id,omitempty"`
}

// RiskAssessment is a point-in-time snapshot; each risk tick replaces the previous one.
type RiskAssessment struct {
	Timestamp          time.Time      `json:"timestamp"`
	Balance            int64          `json:"balance"`
	TotalMargin        int64          `json:"total_margin"`
	ExposurePercent    float64        `json:"exposure_pct"`
	Positions          []PositionRisk `json:"positions"`
	DailyPLPercent     float64        `json:"daily_pl_pct"`
	Alerts             []Alert        `json:"alerts"`
	CanOpenNewPosition bool           `json:"can_open_new_position"`
	AvailableMargin    int64          `json:"available_margin"`
}

type VolatilityLevel string

const (
	VolatilityLow    VolatilityLevel = "low"
	VolatilityMedium VolatilityLevel = "medium"
	VolatilityHigh   VolatilityLevel = "high"
)

type PositionSize struct {
	Margin     int64   `json:"margin"`
	Leverage   float64 `json:"leverage"`
	StopLoss   float64 `json:"stoploss"`
	TakeProfit float64 `json:"takeprofit"`
}

type VoteDecision string

const (
	Approve VoteDecision = "approve"
	Reject  VoteDecision = "reject"
	Abstain VoteDecision = "abstain"
)

// Opinion is an agent's structured view on a hypothetical trade.
type Opinion struct {
	AgentID    string       `json:"agent_id"`
	AgentType  AgentType    `json:"agent_type"`
	Decision   VoteDecision `json:"decision"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}
