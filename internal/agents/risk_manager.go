package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

var (
	ErrTradingBlocked = errors.New("risk gate: new positions blocked")
	ErrSizeTooSmall   = errors.New("risk gate: position size below minimum")
)

// Price tick of the venue; SL/TP levels are rounded to it.
var priceTick = decimal.NewFromFloat(0.5)

// Minimum reward/risk ratio for every sized position.
const rewardRiskRatio = 2

type RiskConfig struct {
	MaxExposurePercent  float64
	MaxDailyLossPercent float64
	MaxMarginPerTrade   int64
	MaxLeverage         float64
}

// RiskManager assesses account exposure each tick and sizes new positions.
type RiskManager struct {
	ex  interfaces.Exchange
	ai  interfaces.AIBackend
	bus *bus.Bus
	cfg RiskConfig

	mu            sync.Mutex
	last          *types.RiskAssessment
	day           string
	baseline      int64
	haltPublished bool
	now           func() time.Time
}

func NewRiskManager(ex interfaces.Exchange, ai interfaces.AIBackend, b *bus.Bus, cfg RiskConfig) *RiskManager {
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 1
	}
	return &RiskManager{ex: ex, ai: ai, bus: b, cfg: cfg, now: time.Now}
}

func (r *RiskManager) ID() string            { return RiskManagerID }
func (r *RiskManager) Name() string          { return "Risk Manager" }
func (r *RiskManager) Type() types.AgentType { return types.AgentRiskManager }

func (r *RiskManager) Keywords() []string {
	return []string{"risk", "exposure", "balance", "loss", "position", "margin", "leverage", "p&l", "pnl"}
}

// SetExchange swaps in an authenticated client.
func (r *RiskManager) SetExchange(ex interfaces.Exchange) {
	r.mu.Lock()
	r.ex = ex
	r.mu.Unlock()
}

func (r *RiskManager) exchange() interfaces.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ex
}

// LastAssessment returns the most recent assessment, if any.
func (r *RiskManager) LastAssessment() (types.RiskAssessment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return types.RiskAssessment{}, false
	}
	return *r.last, true
}

// CanOpenNewPosition reports the last assessment's gate. Before the first
// assessment it is false.
func (r *RiskManager) CanOpenNewPosition() bool {
	a, ok := r.LastAssessment()
	return ok && a.CanOpenNewPosition
}

func (r *RiskManager) Execute(ctx context.Context) error {
	ex := r.exchange()
	if ex == nil || !ex.Authenticated() {
		logger.Debug(ctx, "Risk assessment skipped in public mode")
		return nil
	}
	balance, err := ex.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	positions, err := ex.GetRunningPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}

	a := r.Assess(balance, positions)
	logger.Risk(ctx, "assessment",
		"balance", a.Balance,
		"exposure_pct", a.ExposurePercent,
		"daily_pl_pct", a.DailyPLPercent,
		"can_open", a.CanOpenNewPosition,
		"alerts", len(a.Alerts),
	)
	publish(ctx, r.bus, r.ID(), bus.TypeAnalysis, bus.TopicRiskAssessment, a)

	halt := false
	for _, al := range a.Alerts {
		publish(ctx, r.bus, r.ID(), bus.TypeAlert, al.Kind, bus.AlertPayload{Alert: al})
		if al.Kind == types.AlertDailyLossLimit {
			halt = true
		}
	}

	r.mu.Lock()
	first := halt && !r.haltPublished
	r.haltPublished = halt
	r.mu.Unlock()
	if first {
		logger.Risk(ctx, "auto_halt", "daily_pl_pct", a.DailyPLPercent, "limit_pct", r.cfg.MaxDailyLossPercent)
		publish(ctx, r.bus, r.ID(), bus.TypeAlert, bus.TopicStopTrading, bus.AlertPayload{Alert: types.Alert{
			Kind:     types.AlertStopTrading,
			Severity: types.SeverityCritical,
			Message:  "daily loss limit breached, halting trading",
			AgentID:  r.ID(),
		}})
	}
	return nil
}

// Assess builds and stores an assessment. Equity is balance plus committed
// margin and unrealized P&L; the daily baseline resets on the first
// assessment of each UTC day.
func (r *RiskManager) Assess(balance int64, positions []types.Position) types.RiskAssessment {
	now := r.now()
	a := types.RiskAssessment{Timestamp: now, Balance: balance, Positions: []types.PositionRisk{}, Alerts: []types.Alert{}}

	var totalPL int64
	for _, p := range positions {
		a.TotalMargin += p.Margin
		totalPL += p.PL
		a.Positions = append(a.Positions, assessPosition(p))
	}
	equity := balance + a.TotalMargin + totalPL

	r.mu.Lock()
	if day := now.UTC().Format("2006-01-02"); day != r.day {
		r.day = day
		r.baseline = equity
	}
	baseline := r.baseline
	r.mu.Unlock()

	if baseline > 0 {
		a.DailyPLPercent = float64(equity-baseline) / float64(baseline) * 100
	}
	switch {
	case balance > 0:
		a.ExposurePercent = float64(a.TotalMargin) / float64(balance) * 100
	case a.TotalMargin > 0:
		a.ExposurePercent = 100
	}
	a.AvailableMargin = int64(math.Max(0, float64(balance)*r.cfg.MaxExposurePercent/100-float64(a.TotalMargin)))

	exposureOK := a.ExposurePercent < r.cfg.MaxExposurePercent
	dailyOK := a.DailyPLPercent > -r.cfg.MaxDailyLossPercent
	a.CanOpenNewPosition = a.AvailableMargin > 0 && exposureOK && dailyOK

	if !exposureOK {
		a.Alerts = append(a.Alerts, types.Alert{
			Kind:     types.AlertExposureLimit,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("exposure %.1f%% exceeds limit %.1f%%", a.ExposurePercent, r.cfg.MaxExposurePercent),
			AgentID:  RiskManagerID,
		})
	}
	if !dailyOK {
		a.Alerts = append(a.Alerts, types.Alert{
			Kind:     types.AlertDailyLossLimit,
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("daily P&L %.2f%% breached limit -%.1f%%", a.DailyPLPercent, r.cfg.MaxDailyLossPercent),
			AgentID:  RiskManagerID,
		})
	}
	for _, p := range a.Positions {
		if p.Level == types.RiskHigh || p.Level == types.RiskCritical {
			a.Alerts = append(a.Alerts, types.Alert{
				Kind:     types.AlertPositionRisk,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("position %s down %.1f%% of margin (%s)", p.PositionID, p.LossPercent, p.Level),
				AgentID:  RiskManagerID,
			})
		}
	}

	r.mu.Lock()
	r.last = &a
	r.mu.Unlock()
	return a
}

type riskState struct {
	Day      string `json:"day"`
	Baseline int64  `json:"baseline"`
}

func (r *RiskManager) AgentState() (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(riskState{Day: r.day, Baseline: r.baseline})
}

// RestoreAgentState reloads the daily P&L baseline. A baseline from an
// earlier UTC day is dropped by the next Assess.
func (r *RiskManager) RestoreAgentState(raw json.RawMessage) error {
	var st riskState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	r.mu.Lock()
	r.day = st.Day
	r.baseline = st.Baseline
	r.mu.Unlock()
	return nil
}

func assessPosition(p types.Position) types.PositionRisk {
	pr := types.PositionRisk{PositionID: p.ID, Side: p.Side, Margin: p.Margin, PL: p.PL, Level: types.RiskLow}
	if p.PL < 0 && p.Margin > 0 {
		pr.LossPercent = float64(-p.PL) / float64(p.Margin) * 100
	}
	switch {
	case pr.LossPercent > 50:
		pr.Level = types.RiskCritical
	case pr.LossPercent > 30:
		pr.Level = types.RiskHigh
	case pr.LossPercent > 15:
		pr.Level = types.RiskMedium
	}
	return pr
}

// CalculatePositionSize scales the per-trade margin cap by confidence and
// volatility, picks leverage inversely to volatility and places SL/TP at a
// 1:2 risk/reward. It refuses when the last assessment blocks trading.
func (r *RiskManager) CalculatePositionSize(dir types.Direction, confidence, price float64, vol types.VolatilityLevel) (types.PositionSize, error) {
	a, ok := r.LastAssessment()
	if ok && !a.CanOpenNewPosition {
		return types.PositionSize{}, ErrTradingBlocked
	}
	if price <= 0 {
		return types.PositionSize{}, fmt.Errorf("invalid price %.2f", price)
	}

	base := decimal.NewFromInt(r.cfg.MaxMarginPerTrade)
	if ok && a.AvailableMargin < r.cfg.MaxMarginPerTrade {
		base = decimal.NewFromInt(a.AvailableMargin)
	}

	volMult, leverage, stopPct := 1.0, r.cfg.MaxLeverage, 0.01
	switch vol {
	case types.VolatilityHigh:
		volMult, leverage, stopPct = 0.5, math.Min(2, r.cfg.MaxLeverage), 0.03
	case types.VolatilityMedium:
		volMult, leverage, stopPct = 0.75, math.Min(5, r.cfg.MaxLeverage), 0.02
	}
	margin := base.
		Mul(decimal.NewFromFloat(types.ClampConfidence(confidence) / 100)).
		Mul(decimal.NewFromFloat(volMult)).
		Floor()
	if margin.LessThan(decimal.NewFromInt(1)) {
		return types.PositionSize{}, ErrSizeTooSmall
	}

	p := decimal.NewFromFloat(price)
	stopDist := p.Mul(decimal.NewFromFloat(stopPct))
	takeDist := stopDist.Mul(decimal.NewFromInt(rewardRiskRatio))
	var sl, tp decimal.Decimal
	if dir == types.Short {
		sl, tp = p.Add(stopDist), p.Sub(takeDist)
	} else {
		sl, tp = p.Sub(stopDist), p.Add(takeDist)
	}

	return types.PositionSize{
		Margin:     margin.IntPart(),
		Leverage:   leverage,
		StopLoss:   roundToTick(sl),
		TakeProfit: roundToTick(tp),
	}, nil
}

func roundToTick(d decimal.Decimal) float64 {
	return d.Div(priceTick).Round(0).Mul(priceTick).InexactFloat64()
}

func (r *RiskManager) EvaluateTradeProposal(_ context.Context, p bus.Proposal) bus.Vote {
	a, ok := r.LastAssessment()
	if !ok {
		return bus.Vote{Decision: types.Abstain, Reason: "no risk assessment yet"}
	}
	if !a.CanOpenNewPosition {
		return bus.Vote{Decision: types.Reject, Confidence: 90, Reason: fmt.Sprintf("risk gate closed: exposure %.1f%%, daily P&L %.2f%%", a.ExposurePercent, a.DailyPLPercent)}
	}
	// Headroom under the exposure cap drives conviction.
	headroom := 1 - a.ExposurePercent/math.Max(r.cfg.MaxExposurePercent, 1)
	return bus.Vote{
		Decision:   types.Approve,
		Confidence: 60 + 30*math.Max(0, headroom),
		Reason:     fmt.Sprintf("within limits: exposure %.1f%%, %d sats available", a.ExposurePercent, a.AvailableMargin),
	}
}

func (r *RiskManager) TradeOpinion(ctx context.Context, dir types.Direction, _ string) types.Opinion {
	v := r.EvaluateTradeProposal(ctx, bus.Proposal{Direction: dir})
	return types.Opinion{Decision: v.Decision, Confidence: v.Confidence, Reason: v.Reason}
}

func (r *RiskManager) ChatResponse(ctx context.Context, query string) string {
	return agentAnswer(ctx, r.ai, "You are the risk manager of a BTC futures trading swarm. Answer briefly and conservatively.", query, r.summary)
}

func (r *RiskManager) summary() string {
	a, ok := r.LastAssessment()
	if !ok {
		return "No risk assessment yet (public mode or first run pending)."
	}
	s := fmt.Sprintf("Balance %d sats, margin in use %d sats (%.1f%% exposure, limit %.1f%%). Daily P&L %.2f%% (limit -%.1f%%). %d open positions. New positions %s.",
		a.Balance, a.TotalMargin, a.ExposurePercent, r.cfg.MaxExposurePercent,
		a.DailyPLPercent, r.cfg.MaxDailyLossPercent, len(a.Positions), allowed(a.CanOpenNewPosition))
	for _, al := range a.Alerts {
		s += fmt.Sprintf("\n[%s] %s", al.Severity, al.Message)
	}
	return s
}

func allowed(ok bool) string {
	if ok {
		return "allowed"
	}
	return "blocked"
}
