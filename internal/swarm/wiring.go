package swarm

import (
	"context"
	"fmt"

	"btc-agent-swarm/internal/agents"
	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

// Signal sources recorded on forwarded signals.
const (
	SourceMarketAnalyst  = "market_analyst"
	SourceExternalSignal = "external_signal"
	SourceConsensus      = "consensus"
)

// wire installs the fixed cross-agent routes and returns their
// unsubscribe funcs.
func (c *Coordinator) wire() []func() {
	return []func(){
		c.bus.SubscribeType(bus.TypeAnalysis, c.onAnalysis),
		c.bus.SubscribeType(bus.TypeAlert, c.onAlert),
		c.bus.SubscribeType(bus.TypeDecision, c.onDecision),
	}
}

func (c *Coordinator) onAnalysis(ctx context.Context, m bus.Message) {
	switch p := m.Payload.(type) {
	case agents.Recommendation:
		dir, ok := p.Action.Direction()
		if !ok {
			return
		}
		c.execution.AddSignal(ctx, types.TradeSignal{
			Direction:      dir,
			Confidence:     p.Confidence,
			Rationale:      p.Rationale,
			Source:         SourceMarketAnalyst,
			ReferencePrice: p.Price,
		})
	case agents.CombinedSignal:
		if !c.cfg.Agents.ExternalSignal.ForwardToExec {
			return
		}
		conf := float64(weakExternalConfidence)
		if p.Strong {
			conf = strongExternalConfidence
		}
		c.execution.AddSignal(ctx, types.TradeSignal{
			Direction:  p.Direction,
			Confidence: conf,
			Rationale:  fmt.Sprintf("external %s buy=%.1f sell=%.1f", p.Symbol, p.BuyScore, p.SellScore),
			Source:     SourceExternalSignal,
		})
	case types.ExecutedTrade:
		if m.Topic != bus.TopicTradeExecuted || p.ProposalID == "" {
			return
		}
		if err := c.bus.MarkExecuted(ctx, p.ProposalID); err != nil {
			logger.Warn(ctx, "Could not mark proposal executed", "proposal_id", p.ProposalID, "error", err)
		}
	}
}

// onAlert halts trading on an explicit stop or a critical daily-loss breach.
func (c *Coordinator) onAlert(ctx context.Context, m bus.Message) {
	p, ok := m.Payload.(bus.AlertPayload)
	if !ok {
		return
	}
	a := p.Alert
	if m.Topic == bus.TopicStopTrading || a.Kind == types.AlertStopTrading ||
		(a.Kind == types.AlertDailyLossLimit && a.Severity == types.SeverityCritical) {
		c.halt(ctx, a.Message)
		return
	}
	if a.Kind == types.AlertAgentUnhealthy {
		logger.Error(ctx, "Agent unhealthy", "agent_id", a.AgentID, "message", a.Message)
	}
}

func (c *Coordinator) halt(ctx context.Context, reason string) {
	wasOn, cleared := c.execution.Halt()
	if rt, ok := c.byID[agents.ExecutionID]; ok {
		rt.SaveState(ctx)
	}
	if wasOn || cleared > 0 {
		logger.Risk(ctx, "trading_halted", "reason", reason, "signals_cleared", cleared)
	}
}

// onDecision journals every consensus and queues approved proposals for
// execution.
func (c *Coordinator) onDecision(ctx context.Context, m bus.Message) {
	d, ok := m.Payload.(bus.DecisionPayload)
	if !ok {
		return
	}
	t := d.Tally
	if c.journal != nil {
		if err := c.journal.AppendDecision(tradelog.DecisionEntry{
			ProposalID: t.ProposalID,
			Direction:  string(t.Direction),
			Approved:   t.Approved,
			Approve:    t.Approve,
			Reject:     t.Reject,
			Abstain:    t.Abstain,
			Confidence: t.AvgConfidence,
		}); err != nil {
			logger.ErrorWithErr(ctx, "Failed to journal decision", err, "proposal_id", t.ProposalID)
		}
	}
	if !t.Approved {
		return
	}
	p, ok := c.bus.Proposal(t.ProposalID)
	if !ok {
		return
	}
	c.execution.AddSignal(ctx, types.TradeSignal{
		Direction:  t.Direction,
		Confidence: t.AvgConfidence,
		Rationale:  p.Rationale,
		Source:     SourceConsensus,
		ProposalID: p.ID,
	})
}
