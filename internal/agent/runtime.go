package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

const mailboxSize = 64

type phaseKey struct{}

// MarkExecuting moves the running agent from analyzing to executing. It
// is a no-op outside a tick.
func MarkExecuting(ctx context.Context) {
	if set, ok := ctx.Value(phaseKey{}).(func(types.AgentStatus)); ok {
		set(types.StatusExecuting)
	}
}

// ConfigUpdate is a partial config; nil fields are left unchanged.
type ConfigUpdate struct {
	Enabled    *bool
	Interval   *time.Duration
	Timeout    *time.Duration
	MaxRetries *int
}

// Runtime owns an agent's status, config and metrics. Only the runtime
// transitions status.
type Runtime struct {
	agent Behaviour
	bus   *bus.Bus
	store interfaces.Persistence

	mu      sync.Mutex
	status  types.AgentStatus
	cfg     types.AgentConfig
	metrics types.AgentMetrics
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	mailbox   chan bus.Message
	unsubs    []func()
	mailDone  chan struct{}
	mailClose context.CancelFunc

	now func() time.Time
}

// NewRuntime wraps a. store may be nil, in which case state is not persisted.
func NewRuntime(a Agent, cfg types.AgentConfig, b *bus.Bus, store interfaces.Persistence) *Runtime {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	r := &Runtime{
		agent:  WithDefaults(a),
		bus:    b,
		store:  store,
		status: types.StatusIdle,
		cfg:    cfg,
		now:    time.Now,
	}
	if !cfg.Enabled {
		r.status = types.StatusDisabled
	}
	return r
}

func (r *Runtime) ID() string            { return r.agent.ID() }
func (r *Runtime) Name() string          { return r.agent.Name() }
func (r *Runtime) Type() types.AgentType { return r.agent.Type() }
func (r *Runtime) Behaviour() Behaviour  { return r.agent }
func (r *Runtime) Agent() Agent          { return r.agent.Agent }

func (r *Runtime) Status() types.AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runtime) Config() types.AgentConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *Runtime) Metrics() types.AgentMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start runs a tick immediately and then every Interval until Stop. It is
// a logged no-op when the agent is disabled or already running.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if !r.cfg.Enabled {
		r.status = types.StatusDisabled
		r.mu.Unlock()
		logger.Info(ctx, "Agent disabled, not starting", "agent_id", r.ID())
		return
	}
	if r.running {
		r.mu.Unlock()
		logger.Warn(ctx, "Agent already running", "agent_id", r.ID())
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	interval := r.cfg.Interval
	done := r.done
	r.mu.Unlock()

	logger.Info(ctx, "Agent started", "agent_id", r.ID(), "interval", interval.String())
	go r.loop(loopCtx, interval, done)
}

func (r *Runtime) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	// An in-flight tick is never interrupted by Stop.
	tickCtx := context.WithoutCancel(ctx)
	r.Tick(tickCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(tickCtx)
		}
	}
}

// Stop cancels the schedule, waits for any in-flight tick to finish and
// leaves the agent idle.
func (r *Runtime) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		if r.cfg.Enabled && !r.status.Busy() {
			r.status = types.StatusIdle
		}
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	r.status = types.StatusIdle
	r.mu.Unlock()
	logger.Info(ctx, "Agent stopped", "agent_id", r.ID())
}

// Tick runs the agent once unless a previous run is still in flight.
func (r *Runtime) Tick(ctx context.Context) {
	r.mu.Lock()
	if r.status.Busy() {
		r.mu.Unlock()
		logger.Debug(ctx, "Tick skipped, previous run in flight", "agent_id", r.ID())
		return
	}
	r.status = types.StatusAnalyzing
	timeout := r.cfg.Timeout
	r.mu.Unlock()

	op := logger.StartOperation(ctx, "agent.tick", "agent_id", r.ID(), "agent_type", string(r.Type()))
	start := r.now()
	err := r.execute(op.GetContext(), timeout)
	elapsed := r.now().Sub(start)

	if err != nil {
		op.EndWithError(err)
		r.recordFailure(op.GetContext(), start, err)
		return
	}
	op.End()
	r.recordSuccess(op.GetContext(), start, elapsed)
}

func (r *Runtime) execute(ctx context.Context, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, phaseKey{}, r.setPhase)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", r.ID(), rec)
		}
	}()
	return r.agent.Execute(ctx)
}

func (r *Runtime) setPhase(s types.AgentStatus) {
	r.mu.Lock()
	if r.status.Busy() {
		r.status = s
	}
	r.mu.Unlock()
}

func (r *Runtime) recordSuccess(ctx context.Context, start time.Time, elapsed time.Duration) {
	r.mu.Lock()
	m := &r.metrics
	m.TotalRuns++
	m.SuccessfulRuns++
	m.ConsecutiveErrors = 0
	m.LastError = ""
	m.AvgExecutionTime = (m.AvgExecutionTime*time.Duration(m.SuccessfulRuns-1) + elapsed) / time.Duration(m.SuccessfulRuns)
	ts := start
	m.LastRunAt = &ts
	r.status = r.restingStatus()
	r.mu.Unlock()

	r.SaveState(ctx)
}

// restingStatus is the status after a successful run. Caller holds mu.
func (r *Runtime) restingStatus() types.AgentStatus {
	if !r.cfg.Enabled {
		return types.StatusDisabled
	}
	return types.StatusIdle
}

func (r *Runtime) recordFailure(ctx context.Context, start time.Time, err error) {
	r.mu.Lock()
	m := &r.metrics
	m.TotalRuns++
	m.FailedRuns++
	m.ConsecutiveErrors++
	m.LastError = err.Error()
	ts := start
	m.LastRunAt = &ts
	r.status = types.StatusError
	streak, maxRetries := m.ConsecutiveErrors, r.cfg.MaxRetries
	r.mu.Unlock()

	severity := types.SeverityWarning
	if errors.Is(err, context.DeadlineExceeded) {
		severity = types.SeverityInfo
	}
	r.publishAlert(ctx, bus.TopicAgentError, types.Alert{
		Kind:     types.AlertAgentError,
		Severity: severity,
		Message:  err.Error(),
		AgentID:  r.ID(),
	})

	if maxRetries > 0 && streak == maxRetries {
		r.publishAlert(ctx, bus.TopicAgentUnhealthy, types.Alert{
			Kind:     types.AlertAgentUnhealthy,
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("%s failed %d consecutive runs: %v", r.Name(), streak, err),
			AgentID:  r.ID(),
		})
	}
}

func (r *Runtime) publishAlert(ctx context.Context, topic string, a types.Alert) {
	if r.bus == nil {
		return
	}
	r.bus.Broadcast(ctx, r.ID(), bus.TypeAlert, topic, bus.AlertPayload{Alert: a})
}

// UpdateConfig merges u into the config. A running agent is stopped and
// restarted only if it remains enabled, so interval changes apply on the
// next start.
func (r *Runtime) UpdateConfig(ctx context.Context, u ConfigUpdate) types.AgentConfig {
	wasRunning := r.IsRunning()
	if wasRunning {
		r.Stop(ctx)
	}

	r.mu.Lock()
	if u.Enabled != nil {
		r.cfg.Enabled = *u.Enabled
	}
	if u.Interval != nil && *u.Interval > 0 {
		r.cfg.Interval = *u.Interval
	}
	if u.Timeout != nil {
		r.cfg.Timeout = *u.Timeout
	}
	if u.MaxRetries != nil {
		r.cfg.MaxRetries = *u.MaxRetries
	}
	cfg := r.cfg
	if !cfg.Enabled {
		r.status = types.StatusDisabled
	} else if r.status == types.StatusDisabled {
		r.status = types.StatusIdle
	}
	r.mu.Unlock()

	logger.Info(ctx, "Agent config updated",
		"agent_id", r.ID(),
		"enabled", cfg.Enabled,
		"interval", cfg.Interval.String(),
	)
	if wasRunning && cfg.Enabled {
		r.Start(ctx)
	}
	r.SaveState(ctx)
	return cfg
}
