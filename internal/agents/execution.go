package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc-agent-swarm/internal/agent"
	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

// CloseReasonExchange marks trades whose position vanished from the venue
// without an explicit close.
const CloseReasonExchange = "SL/TP triggered"

// closedHistory caps how many closed trades stay in memory.
const closedHistory = 100

// PositionSizer is the slice of the risk manager the execution agent needs.
type PositionSizer interface {
	CanOpenNewPosition() bool
	CalculatePositionSize(dir types.Direction, confidence, price float64, vol types.VolatilityLevel) (types.PositionSize, error)
}

type ExecutionConfig struct {
	AutoExecute      bool
	MinConfidence    float64
	Cooldown         time.Duration
	MaxOpenPositions int
}

type signalArrival struct {
	dir types.Direction
	at  time.Time
}

// Execution queues directional signals and turns the best one into an
// exchange order once the cooldown, position cap and risk gate allow.
type Execution struct {
	ai      interfaces.AIBackend
	bus     *bus.Bus
	sizer   PositionSizer
	store   interfaces.Persistence
	journal *tradelog.Journal

	mu        sync.Mutex
	ex        interfaces.Exchange
	cfg       ExecutionConfig
	pending   []types.TradeSignal
	arrivals  []signalArrival
	trades    []types.ExecutedTrade
	lastTrade time.Time
	halted    bool
	now       func() time.Time
}

// NewExecution builds the agent. store and journal may be nil.
func NewExecution(ex interfaces.Exchange, sizer PositionSizer, ai interfaces.AIBackend, b *bus.Bus, store interfaces.Persistence, journal *tradelog.Journal, cfg ExecutionConfig) *Execution {
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 1
	}
	return &Execution{ex: ex, sizer: sizer, ai: ai, bus: b, store: store, journal: journal, cfg: cfg, now: time.Now}
}

func (e *Execution) ID() string            { return ExecutionID }
func (e *Execution) Name() string          { return "Execution Agent" }
func (e *Execution) Type() types.AgentType { return types.AgentExecution }

func (e *Execution) Keywords() []string {
	return []string{"trade", "execute", "order", "signal", "pending", "cooldown"}
}

func (e *Execution) SetExchange(ex interfaces.Exchange) {
	e.mu.Lock()
	e.ex = ex
	e.mu.Unlock()
}

// SetAutoExecute toggles order placement. Turning it on lifts a halt.
func (e *Execution) SetAutoExecute(on bool) {
	e.mu.Lock()
	e.cfg.AutoExecute = on
	if on {
		e.halted = false
	}
	e.mu.Unlock()
}

// Halt turns auto-execute off and drops the queue. The halt survives a
// restore until auto-execute is switched back on.
func (e *Execution) Halt() (wasOn bool, cleared int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasOn = e.cfg.AutoExecute
	cleared = len(e.pending)
	e.cfg.AutoExecute = false
	e.pending = nil
	e.halted = true
	return wasOn, cleared
}

func (e *Execution) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

func (e *Execution) AutoExecute() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.AutoExecute
}

func (e *Execution) PendingSignals() []types.TradeSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.TradeSignal(nil), e.pending...)
}

// Trades returns tracked trades, open ones included.
func (e *Execution) Trades() []types.ExecutedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.ExecutedTrade(nil), e.trades...)
}

// ClearPending drops every queued signal and returns how many were dropped.
func (e *Execution) ClearPending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.pending)
	e.pending = nil
	return n
}

// AddSignal queues s. Signals below the confidence floor, or opposing a
// signal accepted within SignalMaxAge, are dropped.
func (e *Execution) AddSignal(ctx context.Context, s types.TradeSignal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.Confidence < e.cfg.MinConfidence {
		logger.Debug(ctx, "Signal below confidence floor",
			"source", s.Source,
			"confidence", s.Confidence,
			"min_confidence", e.cfg.MinConfidence,
		)
		return false
	}
	now := e.now()
	e.pruneArrivals(now)
	for _, a := range e.arrivals {
		if a.dir != s.Direction {
			logger.Info(ctx, "Conflicting signal ignored",
				"source", s.Source,
				"direction", string(s.Direction),
				"recent_direction", string(a.dir),
			)
			return false
		}
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	e.pending = append(e.pending, s)
	e.arrivals = append(e.arrivals, signalArrival{dir: s.Direction, at: now})
	logger.Info(ctx, "Signal queued",
		"signal_id", s.ID,
		"source", s.Source,
		"direction", string(s.Direction),
		"confidence", s.Confidence,
		"pending", len(e.pending),
	)
	return true
}

// pruneArrivals drops arrivals outside the conflict window. Caller holds mu.
func (e *Execution) pruneArrivals(now time.Time) {
	kept := e.arrivals[:0]
	for _, a := range e.arrivals {
		if now.Sub(a.at) < SignalMaxAge {
			kept = append(kept, a)
		}
	}
	e.arrivals = kept
}

func (e *Execution) Execute(ctx context.Context) error {
	e.mu.Lock()
	ex := e.ex
	e.mu.Unlock()
	if ex == nil || !ex.Authenticated() {
		logger.Debug(ctx, "Execution skipped in public mode")
		return nil
	}

	positions, err := ex.GetRunningPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	e.reconcile(ctx, positions)

	signal, ok := e.nextSignal(ctx, len(positions))
	if !ok {
		return nil
	}
	agent.MarkExecuting(ctx)
	return e.executeSignal(ctx, ex, signal)
}

// reconcile closes tracked trades whose position is gone from the venue.
func (e *Execution) reconcile(ctx context.Context, positions []types.Position) {
	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		live[p.ID] = true
	}

	var closed []types.ExecutedTrade
	e.mu.Lock()
	now := e.now()
	for i := range e.trades {
		t := &e.trades[i]
		if t.Status != types.TradeOpen || live[t.PositionID] {
			continue
		}
		t.Status = types.TradeClosed
		ts := now
		t.ClosedAt = &ts
		t.CloseReason = CloseReasonExchange
		closed = append(closed, *t)
	}
	e.trimClosed()
	e.mu.Unlock()

	for _, t := range closed {
		logger.Info(ctx, "Trade closed on exchange",
			"trade_id", t.ID,
			"position_id", t.PositionID,
			"reason", t.CloseReason,
		)
		e.record(ctx, tradelog.EventClosed, t)
		publish(ctx, e.bus, e.ID(), bus.TypeAnalysis, bus.TopicTradeClosed, t)
	}
}

// trimClosed keeps every open trade and the newest closed ones. Caller holds mu.
func (e *Execution) trimClosed() {
	closedCount := 0
	for _, t := range e.trades {
		if t.Status == types.TradeClosed {
			closedCount++
		}
	}
	drop := closedCount - closedHistory
	if drop <= 0 {
		return
	}
	kept := e.trades[:0]
	for _, t := range e.trades {
		if t.Status == types.TradeClosed && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, t)
	}
	e.trades = kept
}

// nextSignal prunes stale signals and applies the auto-execute, cooldown
// and position-cap gates before picking the highest-confidence signal.
func (e *Execution) nextSignal(ctx context.Context, openPositions int) (types.TradeSignal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	fresh := e.pending[:0]
	for _, s := range e.pending {
		if now.Sub(s.Timestamp) <= SignalMaxAge {
			fresh = append(fresh, s)
		} else {
			logger.Debug(ctx, "Signal expired", "signal_id", s.ID, "source", s.Source)
		}
	}
	e.pending = fresh

	if !e.cfg.AutoExecute || len(e.pending) == 0 {
		return types.TradeSignal{}, false
	}
	if !e.lastTrade.IsZero() && now.Sub(e.lastTrade) < e.cfg.Cooldown {
		logger.Debug(ctx, "Execution cooldown active", "remaining", (e.cfg.Cooldown - now.Sub(e.lastTrade)).String())
		return types.TradeSignal{}, false
	}
	if openPositions >= e.cfg.MaxOpenPositions {
		logger.Debug(ctx, "Max open positions reached", "open", openPositions, "max", e.cfg.MaxOpenPositions)
		return types.TradeSignal{}, false
	}

	best := 0
	for i, s := range e.pending {
		if s.Confidence > e.pending[best].Confidence {
			best = i
		}
	}
	return e.pending[best], true
}

func (e *Execution) executeSignal(ctx context.Context, ex interfaces.Exchange, s types.TradeSignal) error {
	if e.sizer == nil || !e.sizer.CanOpenNewPosition() {
		logger.Warn(ctx, "Trade blocked by risk gate", "signal_id", s.ID, "event", "TRADE_BLOCKED_RISK")
		return nil
	}
	ticker, err := ex.GetTicker(ctx)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}
	vol := types.VolatilityLow
	if ticker.Last > 0 {
		vol = ta.ClassifyVolatility((ticker.High24h - ticker.Low24h) / ticker.Last * 100)
	}
	size, err := e.sizer.CalculatePositionSize(s.Direction, s.Confidence, ticker.Last, vol)
	if err != nil {
		logger.Warn(ctx, "Position sizing refused", "signal_id", s.ID, "error", err)
		return nil
	}

	pos, err := ex.OpenPosition(ctx, types.OpenRequest{
		Type:       types.OrderMarket,
		Side:       s.Direction,
		Margin:     size.Margin,
		Leverage:   size.Leverage,
		StopLoss:   size.StopLoss,
		TakeProfit: size.TakeProfit,
	})
	if err != nil {
		// The signal stays queued for the next cooldown-gated attempt.
		return fmt.Errorf("open position: %w", err)
	}

	entry := pos.EntryPrice
	if entry == 0 {
		entry = ticker.Last
	}
	now := e.now()
	trade := types.ExecutedTrade{
		ID:         uuid.NewString(),
		SignalID:   s.ID,
		ProposalID: s.ProposalID,
		PositionID: pos.ID,
		Direction:  s.Direction,
		Margin:     size.Margin,
		Leverage:   size.Leverage,
		EntryPrice: entry,
		StopLoss:   size.StopLoss,
		TakeProfit: size.TakeProfit,
		Confidence: s.Confidence,
		Source:     s.Source,
		Status:     types.TradeOpen,
		OpenedAt:   now,
	}

	e.mu.Lock()
	e.trades = append(e.trades, trade)
	e.lastTrade = now
	for i, p := range e.pending {
		if p.ID == s.ID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	logger.Trade(ctx, string(s.Direction), size.Margin, size.Leverage, entry, pos.ID,
		"signal_id", s.ID,
		"source", s.Source,
		"confidence", s.Confidence,
		"stoploss", size.StopLoss,
		"takeprofit", size.TakeProfit,
	)
	e.record(ctx, tradelog.EventOpened, trade)
	publish(ctx, e.bus, e.ID(), bus.TypeAnalysis, bus.TopicTradeExecuted, trade)
	return nil
}

// record persists and journals a trade. Both are best effort.
func (e *Execution) record(ctx context.Context, event tradelog.Event, t types.ExecutedTrade) {
	if e.store != nil {
		if err := e.store.SaveTrade(ctx, t); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist trade", err, "trade_id", t.ID)
		}
	}
	if e.journal != nil {
		if err := e.journal.Append(event, t); err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal trade", err, "trade_id", t.ID)
		}
	}
}

type arrivalState struct {
	Direction types.Direction `json:"direction"`
	At        time.Time       `json:"at"`
}

type executionState struct {
	Pending     []types.TradeSignal   `json:"pending"`
	Trades      []types.ExecutedTrade `json:"trades"`
	Arrivals    []arrivalState        `json:"arrivals,omitempty"`
	LastTradeAt *time.Time            `json:"last_trade_at,omitempty"`
	Halted      bool                  `json:"halted,omitempty"`
}

func (e *Execution) AgentState() (json.RawMessage, error) {
	e.mu.Lock()
	st := executionState{Pending: e.pending, Trades: e.trades, Halted: e.halted}
	for _, a := range e.arrivals {
		st.Arrivals = append(st.Arrivals, arrivalState{Direction: a.dir, At: a.at})
	}
	if !e.lastTrade.IsZero() {
		lt := e.lastTrade
		st.LastTradeAt = &lt
	}
	raw, err := json.Marshal(st)
	e.mu.Unlock()
	return raw, err
}

// RestoreAgentState reloads the queue, trades and conflict window. A
// persisted halt forces auto-execute off.
func (e *Execution) RestoreAgentState(raw json.RawMessage) error {
	var st executionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = st.Pending
	e.trades = st.Trades
	e.arrivals = e.arrivals[:0]
	for _, a := range st.Arrivals {
		e.arrivals = append(e.arrivals, signalArrival{dir: a.Direction, at: a.At})
	}
	e.pruneArrivals(e.now())
	e.lastTrade = time.Time{}
	if st.LastTradeAt != nil {
		e.lastTrade = *st.LastTradeAt
	}
	e.halted = st.Halted
	if e.halted {
		e.cfg.AutoExecute = false
	}
	return nil
}

func (e *Execution) ChatResponse(ctx context.Context, query string) string {
	return agentAnswer(ctx, e.ai, "You are the execution agent of a BTC futures trading swarm. Report on queued signals and placed orders.", query, e.summary)
}

func (e *Execution) summary() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	state := "off"
	switch {
	case e.cfg.AutoExecute:
		state = "on"
	case e.halted:
		state = "halted"
	}
	fmt.Fprintf(&b, "Auto-execute %s. %d pending signals.", state, len(e.pending))
	for _, s := range e.pending {
		fmt.Fprintf(&b, "\n- %s %s %.0f%% from %s", s.ID[:min(8, len(s.ID))], s.Direction, s.Confidence, s.Source)
	}
	open := 0
	for _, t := range e.trades {
		if t.Status == types.TradeOpen {
			open++
		}
	}
	fmt.Fprintf(&b, "\n%d tracked open trades.", open)
	if !e.lastTrade.IsZero() {
		fmt.Fprintf(&b, " Last trade at %s.", e.lastTrade.UTC().Format(time.RFC3339))
	}
	return b.String()
}
