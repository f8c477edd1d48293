package swarm

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

type AgentStatus struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Type      types.AgentType    `json:"type"`
	Status    types.AgentStatus  `json:"status"`
	Enabled   bool               `json:"enabled"`
	LastRunAt *time.Time         `json:"last_run_at,omitempty"`
	Metrics   types.AgentMetrics `json:"metrics"`
}

// Status is a best-effort snapshot. Account fields are omitted when the
// swarm is unauthenticated or a fetch fails.
type Status struct {
	Timestamp      time.Time     `json:"timestamp"`
	Initialized    bool          `json:"initialized"`
	Running        bool          `json:"running"`
	Authenticated  bool          `json:"authenticated"`
	AutoExecute    bool          `json:"auto_execute"`
	PendingSignals int           `json:"pending_signals"`
	Agents         []AgentStatus `json:"agents"`
	Balance        *int64        `json:"balance,omitempty"`
	OpenPositions  *int          `json:"open_positions,omitempty"`
	DailyPLPercent *float64      `json:"daily_pl_pct,omitempty"`
}

func (c *Coordinator) GetStatus(ctx context.Context) Status {
	c.mu.Lock()
	st := Status{
		Timestamp:     time.Now(),
		Initialized:   c.initialized,
		Running:       c.running,
		Authenticated: c.authenticated,
	}
	c.mu.Unlock()

	st.AutoExecute = c.execution.AutoExecute()
	st.PendingSignals = len(c.execution.PendingSignals())
	for _, rt := range c.runtimes {
		m := rt.Metrics()
		st.Agents = append(st.Agents, AgentStatus{
			ID:        rt.ID(),
			Name:      rt.Name(),
			Type:      rt.Type(),
			Status:    rt.Status(),
			Enabled:   rt.Config().Enabled,
			LastRunAt: m.LastRunAt,
			Metrics:   m,
		})
	}
	if !st.Authenticated {
		return st
	}

	ex := c.exchange()
	var (
		balance   int64
		positions []types.Position
		balOK     bool
		posOK     bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := ex.GetBalance(gctx)
		if err != nil {
			logger.Warn(ctx, "Status: balance unavailable", "error", err)
			return nil
		}
		balance, balOK = b, true
		return nil
	})
	g.Go(func() error {
		p, err := ex.GetRunningPositions(gctx)
		if err != nil {
			logger.Warn(ctx, "Status: positions unavailable", "error", err)
			return nil
		}
		positions, posOK = p, true
		return nil
	})
	_ = g.Wait()

	if balOK {
		st.Balance = &balance
	}
	if posOK {
		n := len(positions)
		st.OpenPositions = &n
	}
	if a, ok := c.risk.LastAssessment(); ok {
		pl := a.DailyPLPercent
		st.DailyPLPercent = &pl
	}
	return st
}
