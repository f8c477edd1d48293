// Package swarm owns the agent set: it builds and wires the agents, routes
// cross-agent events and exposes lifecycle, status and manual controls.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"btc-agent-swarm/internal/agent"
	"btc-agent-swarm/internal/agents"
	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/chat"
	"btc-agent-swarm/internal/exchange/lnmarkets"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/persist"
	"btc-agent-swarm/internal/store"
	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

// SenderCoordinator is the bus identity of the coordinator.
const SenderCoordinator = "coordinator"

// Signal confidence for forwarded external combined signals.
const (
	strongExternalConfidence = 85
	weakExternalConfidence   = 65
)

const housekeepingInterval = time.Hour

var (
	ErrNotInitialized     = errors.New("swarm: not initialized")
	ErrExchangeOffline    = errors.New("swarm: exchange unreachable")
	ErrPublicMode         = errors.New("swarm: exchange credentials required")
	ErrUnknownAgent       = errors.New("swarm: unknown agent")
	ErrDecisionTimeout    = errors.New("swarm: no consensus before timeout")
	ErrAlreadyInitialized = errors.New("swarm: already initialized")
)

// Deps are the collaborators the coordinator injects into its agents.
// Only Exchange and Analyzer are required.
type Deps struct {
	Bus       *bus.Bus
	Exchange  interfaces.Exchange
	Connect   func(lnmarkets.Credentials) (interfaces.Exchange, error)
	Analyzer  interfaces.TechnicalAnalyzer
	AI        interfaces.AIBackend
	News      interfaces.NewsSentimentSource
	FearGreed interfaces.FearGreedSource
	Signals   interfaces.SignalSource
	Store     interfaces.Persistence
	Journal   *tradelog.Journal
}

type Coordinator struct {
	cfg     *store.Config
	deps    Deps
	bus     *bus.Bus
	router  *chat.Router
	store   interfaces.Persistence
	journal *tradelog.Journal

	analyst    *agents.MarketAnalyst
	risk       *agents.RiskManager
	execution  *agents.Execution
	researcher *agents.Researcher
	external   *agents.ExternalSignal

	runtimes []*agent.Runtime
	byID     map[string]*agent.Runtime

	mu            sync.Mutex
	ex            interfaces.Exchange
	initialized   bool
	authenticated bool
	running       bool
	unsubs        []func()
	stopHouse     context.CancelFunc
	houseDone     chan struct{}
	houseEvery    time.Duration
}

// New builds every agent from cfg. Nothing runs until Initialize and Start.
func New(cfg *store.Config, d Deps) *Coordinator {
	b := d.Bus
	if b == nil {
		b = bus.New(bus.Config{
			HistorySize:        cfg.Bus.HistorySize,
			ConsensusThreshold: cfg.Bus.ConsensusThreshold,
			MinVotes:           cfg.Bus.MinVotes,
		})
	}
	c := &Coordinator{
		cfg:        cfg,
		deps:       d,
		bus:        b,
		store:      d.Store,
		journal:    d.Journal,
		byID:       map[string]*agent.Runtime{},
		houseEvery: housekeepingInterval,
		router: chat.NewRouter(b, chat.Config{
			Timeout:        time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
			OpinionTimeout: time.Duration(cfg.Chat.OpinionTimeoutSeconds) * time.Second,
			SessionTTL:     time.Duration(cfg.Chat.SessionTTLMinutes) * time.Minute,
			MaxSessions:    cfg.Chat.MaxSessions,
		}),
	}

	ac := cfg.Agents
	c.analyst = agents.NewMarketAnalyst(d.Exchange, d.Analyzer, d.AI, b, agents.MarketAnalystConfig{
		Timeframes:    ac.MarketAnalyst.Timeframes,
		MinConfidence: ac.MarketAnalyst.MinConfidence,
	})
	c.risk = agents.NewRiskManager(d.Exchange, d.AI, b, agents.RiskConfig{
		MaxExposurePercent:  ac.RiskManager.MaxExposurePercent,
		MaxDailyLossPercent: ac.RiskManager.MaxDailyLossPct,
		MaxMarginPerTrade:   ac.RiskManager.MaxMarginPerTrade,
		MaxLeverage:         ac.RiskManager.MaxLeverage,
	})
	c.execution = agents.NewExecution(d.Exchange, c.risk, d.AI, b, d.Store, d.Journal, agents.ExecutionConfig{
		AutoExecute:      ac.Execution.AutoExecute,
		MinConfidence:    ac.Execution.MinConfidence,
		Cooldown:         time.Duration(ac.Execution.CooldownMinutes) * time.Minute,
		MaxOpenPositions: ac.Execution.MaxOpenPositions,
	})
	c.researcher = agents.NewResearcher(d.News, d.FearGreed, d.AI, b, ac.Researcher.NewsQuery)

	c.add(c.analyst, ac.MarketAnalyst.Runtime())
	c.add(c.risk, ac.RiskManager.Runtime())
	c.add(c.execution, ac.Execution.Runtime())
	c.add(c.researcher, ac.Researcher.Runtime())
	if d.Signals != nil {
		c.external = agents.NewExternalSignal(d.Signals, d.AI, b, agents.ExternalSignalConfig{
			Symbol:     ac.ExternalSignal.Symbol,
			Timeframes: ac.ExternalSignal.Timeframes,
			Threshold:  ac.ExternalSignal.Threshold,
			StrongOnly: ac.ExternalSignal.StrongOnly,
		})
		c.add(c.external, ac.ExternalSignal.Runtime())
	}
	return c
}

func (c *Coordinator) add(a agent.Agent, cfg types.AgentConfig) {
	rt := agent.NewRuntime(a, cfg, c.bus, c.store)
	c.runtimes = append(c.runtimes, rt)
	c.byID[rt.ID()] = rt
}

func (c *Coordinator) Bus() *bus.Bus                { return c.bus }
func (c *Coordinator) Router() *chat.Router         { return c.router }
func (c *Coordinator) Risk() *agents.RiskManager    { return c.risk }
func (c *Coordinator) Execution() *agents.Execution { return c.execution }

// Agent returns the runtime for id.
func (c *Coordinator) Agent(id string) (*agent.Runtime, bool) {
	rt, ok := c.byID[id]
	return rt, ok
}

func (c *Coordinator) Agents() []*agent.Runtime {
	return append([]*agent.Runtime(nil), c.runtimes...)
}

func (c *Coordinator) exchange() interfaces.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ex != nil {
		return c.ex
	}
	return c.deps.Exchange
}

func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Initialize connects the swarm. With credentials it builds an
// authenticated exchange client, verifies it is reachable and hands it to
// the risk and execution agents; without, the swarm runs on public data
// with execution disabled. Persisted agent state is restored and the
// agents are attached to the bus.
func (c *Coordinator) Initialize(ctx context.Context, creds *lnmarkets.Credentials) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.mu.Unlock()

	op := logger.StartOperation(ctx, "swarm.Initialize", "authenticated", creds != nil)
	ctx = op.GetContext()

	authenticated := false
	if creds != nil {
		if c.deps.Connect == nil {
			err := errors.New("swarm: no exchange connector configured")
			op.EndWithError(err)
			return err
		}
		ex, err := c.deps.Connect(*creds)
		if err != nil {
			op.EndWithError(err)
			return fmt.Errorf("connect exchange: %w", err)
		}
		if !ex.Ping(ctx) {
			op.EndWithError(ErrExchangeOffline)
			return ErrExchangeOffline
		}
		c.risk.SetExchange(ex)
		c.execution.SetExchange(ex)
		c.mu.Lock()
		c.ex = ex
		c.mu.Unlock()
		authenticated = true
	} else {
		c.execution.SetAutoExecute(false)
		logger.Info(ctx, "No exchange credentials, running in public-data mode with execution disabled")
	}

	for _, rt := range c.runtimes {
		if err := rt.LoadState(ctx); err != nil && !errors.Is(err, persist.ErrNotFound) && !errors.Is(err, agent.ErrNoState) {
			logger.ErrorWithErr(ctx, "Failed to restore agent state", err, "agent_id", rt.ID())
		}
	}

	unsubs := c.wire()
	for _, rt := range c.runtimes {
		rt.Open(ctx)
		c.router.Register(rt.Behaviour())
	}

	c.mu.Lock()
	c.initialized = true
	c.authenticated = authenticated
	c.unsubs = unsubs
	c.mu.Unlock()
	op.End("agents", len(c.runtimes))
	return nil
}

// Start runs every agent and the housekeeping loop. A second Start is a
// logged no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.running {
		c.mu.Unlock()
		logger.Warn(ctx, "Swarm already running")
		return nil
	}
	c.running = true
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopHouse = cancel
	c.houseDone = make(chan struct{})
	done, every := c.houseDone, c.houseEvery
	c.mu.Unlock()

	for _, rt := range c.runtimes {
		rt.Start(ctx)
	}
	go c.housekeeping(hctx, every, done)

	c.saveSwarmState(ctx, true)
	logger.Info(ctx, "Swarm started", "agents", len(c.runtimes), "authenticated", c.Authenticated())
	return nil
}

// Stop halts every agent, waiting for in-flight ticks. A second Stop is a
// logged no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		logger.Info(ctx, "Swarm not running")
		return nil
	}
	c.running = false
	cancel, done := c.stopHouse, c.houseDone
	c.stopHouse, c.houseDone = nil, nil
	c.mu.Unlock()

	cancel()
	<-done

	var wg sync.WaitGroup
	for _, rt := range c.runtimes {
		rt := rt
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Stop(ctx)
		}()
	}
	wg.Wait()

	c.saveSwarmState(ctx, false)
	logger.Info(ctx, "Swarm stopped")
	return nil
}

// Close stops the swarm and detaches every agent from the bus.
func (c *Coordinator) Close(ctx context.Context) {
	_ = c.Stop(ctx)
	for _, rt := range c.runtimes {
		rt.Close()
	}
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// ShouldResume reports whether the swarm was running when last persisted.
func (c *Coordinator) ShouldResume(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	st, err := c.store.LoadSwarmState(ctx)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			logger.ErrorWithErr(ctx, "Failed to load swarm state", err)
		}
		return false
	}
	return st.Running
}

func (c *Coordinator) saveSwarmState(ctx context.Context, running bool) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSwarmState(ctx, types.SwarmState{Running: running, UpdatedAt: time.Now()}); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist swarm state", err, "running", running)
	}
}

func (c *Coordinator) housekeeping(ctx context.Context, every time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Housekeep(ctx)
		}
	}
}

// Housekeep purges old proposals and idle chat sessions.
func (c *Coordinator) Housekeep(ctx context.Context) {
	maxAge := time.Duration(c.cfg.Bus.ProposalMaxAgeHours) * time.Hour
	proposals := c.bus.CleanupProposals(maxAge)
	sessions := c.router.Prune()
	logger.Debug(ctx, "Housekeeping done", "proposals_removed", proposals, "sessions_removed", sessions)
}

// SetAutoExecute toggles order placement. Enabling it requires an
// authenticated exchange.
func (c *Coordinator) SetAutoExecute(ctx context.Context, on bool) error {
	if on && !c.Authenticated() {
		return ErrPublicMode
	}
	c.execution.SetAutoExecute(on)
	logger.Info(ctx, "Auto-execute updated", "enabled", on)
	return nil
}

// UpdateAgentConfig applies a partial runtime config to agent id.
func (c *Coordinator) UpdateAgentConfig(ctx context.Context, id string, u agent.ConfigUpdate) (types.AgentConfig, error) {
	rt, ok := c.byID[id]
	if !ok {
		return types.AgentConfig{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return rt.UpdateConfig(ctx, u), nil
}

// ProposeTrade opens a proposal for the agents to vote on.
func (c *Coordinator) ProposeTrade(ctx context.Context, dir types.Direction, confidence float64, rationale string) (bus.Proposal, error) {
	c.mu.Lock()
	ok := c.initialized
	c.mu.Unlock()
	if !ok {
		return bus.Proposal{}, ErrNotInitialized
	}
	if !dir.Valid() {
		return bus.Proposal{}, fmt.Errorf("invalid direction %q", dir)
	}
	return c.bus.CreateProposal(ctx, SenderCoordinator, dir, types.ClampConfidence(confidence), rationale), nil
}

// ProposeAndWait opens a proposal and waits for its decision. On timeout
// the still-pending proposal is returned with ErrDecisionTimeout.
func (c *Coordinator) ProposeAndWait(ctx context.Context, dir types.Direction, confidence float64, rationale string, timeout time.Duration) (bus.Proposal, error) {
	p, err := c.ProposeTrade(ctx, dir, confidence, rationale)
	if err != nil {
		return bus.Proposal{}, err
	}
	coll := c.bus.Collect(func(m bus.Message) bool {
		d, ok := m.Payload.(bus.DecisionPayload)
		return ok && m.Type == bus.TypeDecision && d.Tally.ProposalID == p.ID
	}, 1)
	// Votes are cast asynchronously, so the decision may already be in.
	if cur, ok := c.bus.Proposal(p.ID); ok && cur.Status != bus.ProposalPending {
		coll.Wait(ctx, 0)
		return cur, nil
	}
	coll.Wait(ctx, timeout)
	cur, _ := c.bus.Proposal(p.ID)
	if cur.Status == bus.ProposalPending {
		return cur, ErrDecisionTimeout
	}
	return cur, nil
}
