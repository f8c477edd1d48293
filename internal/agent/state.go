package agent

import (
	"context"
	"errors"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

// ErrNoState is returned by LoadState when nothing was persisted.
var ErrNoState = errors.New("no persisted agent state")

// Snapshot returns the state SaveState would persist.
func (r *Runtime) Snapshot() (types.AgentState, error) {
	r.mu.Lock()
	st := types.AgentState{
		AgentID:   r.ID(),
		AgentType: r.Type(),
		Config:    r.cfg,
		Metrics:   r.metrics,
		SavedAt:   r.now(),
	}
	r.mu.Unlock()

	if s, ok := r.agent.Agent.(Stateful); ok {
		extra, err := s.AgentState()
		if err != nil {
			return st, err
		}
		st.Extra = extra
	}
	return st, nil
}

// SaveState persists the current state. Failures are logged only.
func (r *Runtime) SaveState(ctx context.Context) {
	if r.store == nil {
		return
	}
	st, err := r.Snapshot()
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to snapshot agent state", err, "agent_id", r.ID())
		return
	}
	if err := r.store.SaveAgentState(ctx, st); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist agent state", err, "agent_id", r.ID())
	}
}

// LoadState restores enabled, metrics and agent-specific state from the
// store. Interval, timeout and retries keep their configured values.
func (r *Runtime) LoadState(ctx context.Context) error {
	if r.store == nil {
		return ErrNoState
	}
	st, err := r.store.LoadAgentState(ctx, r.ID())
	if err != nil {
		return err
	}
	if st == nil {
		return ErrNoState
	}
	return r.Restore(ctx, *st)
}

func (r *Runtime) Restore(ctx context.Context, st types.AgentState) error {
	r.mu.Lock()
	r.cfg.Enabled = st.Config.Enabled
	r.metrics = st.Metrics
	if !r.cfg.Enabled {
		r.status = types.StatusDisabled
	} else if r.status == types.StatusDisabled {
		r.status = types.StatusIdle
	}
	r.mu.Unlock()

	if s, ok := r.agent.Agent.(Stateful); ok && len(st.Extra) > 0 {
		if err := s.RestoreAgentState(st.Extra); err != nil {
			return err
		}
	}
	logger.Info(ctx, "Agent state restored",
		"agent_id", r.ID(),
		"enabled", st.Config.Enabled,
		"total_runs", st.Metrics.TotalRuns,
	)
	return nil
}
