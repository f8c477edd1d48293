package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/persist"
	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

type execFixture struct {
	ex    *fakeExchange
	exec  *Execution
	clock *fixedClock
	store *persist.MemoryStore
	bus   *bus.Bus
}

func newExecFixture(t *testing.T, sizer PositionSizer) *execFixture {
	t.Helper()
	f := &execFixture{
		ex:    &fakeExchange{authed: true, ticker: types.Ticker{Last: 50_000, High24h: 50_500, Low24h: 49_800}},
		clock: &fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		store: persist.NewMemoryStore(),
		bus:   bus.New(bus.Config{}),
	}
	f.exec = NewExecution(f.ex, sizer, nil, f.bus, f.store, tradelog.New(t.TempDir()), ExecutionConfig{
		AutoExecute:      true,
		MinConfidence:    65,
		Cooldown:         15 * time.Minute,
		MaxOpenPositions: 2,
	})
	f.exec.now = f.clock.now
	return f
}

func okSizer() fakeSizer {
	return fakeSizer{size: types.PositionSize{Margin: 10_000, Leverage: 5, StopLoss: 49_000, TakeProfit: 52_000}}
}

func signal(dir types.Direction, conf float64, source string) types.TradeSignal {
	return types.TradeSignal{Direction: dir, Confidence: conf, Source: source}
}

func TestAddSignalBelowMinimumDropped(t *testing.T) {
	f := newExecFixture(t, okSizer())
	assert.False(t, f.exec.AddSignal(context.Background(), signal(types.Long, 64.9, "analyst")))
	assert.Empty(t, f.exec.PendingSignals())
}

func TestAddSignalConflictGuard(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())

	require.True(t, f.exec.AddSignal(ctx, signal(types.Long, 70, "analyst")))
	f.clock.advance(4 * time.Minute)
	assert.False(t, f.exec.AddSignal(ctx, signal(types.Short, 90, "external")))
	assert.True(t, f.exec.AddSignal(ctx, signal(types.Long, 80, "external")))
	assert.Len(t, f.exec.PendingSignals(), 2)

	f.clock.advance(6 * time.Minute)
	assert.True(t, f.exec.AddSignal(ctx, signal(types.Short, 90, "external")))
}

func TestExecuteOpensHighestConfidence(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	var executed []types.ExecutedTrade
	f.bus.SubscribeType(bus.TypeAnalysis, func(_ context.Context, m bus.Message) {
		if tr, ok := m.Payload.(types.ExecutedTrade); ok && m.Topic == bus.TopicTradeExecuted {
			executed = append(executed, tr)
		}
	})

	f.exec.AddSignal(ctx, signal(types.Long, 70, "analyst"))
	best := types.TradeSignal{Direction: types.Long, Confidence: 85, Source: "consensus", ProposalID: "p-1"}
	f.exec.AddSignal(ctx, best)

	require.NoError(t, f.exec.Execute(ctx))
	require.Equal(t, 1, f.ex.openedCount())
	assert.Equal(t, types.OpenRequest{Type: types.OrderMarket, Side: types.Long, Margin: 10_000, Leverage: 5, StopLoss: 49_000, TakeProfit: 52_000}, f.ex.opened[0])

	pending := f.exec.PendingSignals()
	require.Len(t, pending, 1)
	assert.Equal(t, 70.0, pending[0].Confidence)

	require.Len(t, executed, 1)
	assert.Equal(t, "p-1", executed[0].ProposalID)
	assert.Equal(t, types.TradeOpen, executed[0].Status)

	saved, err := f.store.LoadTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestExecuteCooldownBlocksTrades(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
	require.NoError(t, f.exec.Execute(ctx))
	require.Equal(t, 1, f.ex.openedCount())

	f.clock.advance(time.Minute)
	f.exec.AddSignal(ctx, signal(types.Long, 99, "analyst"))
	require.NoError(t, f.exec.Execute(ctx))
	assert.Equal(t, 1, f.ex.openedCount())
	assert.Len(t, f.exec.PendingSignals(), 1)
}

func TestExecuteRespectsGates(t *testing.T) {
	ctx := context.Background()

	t.Run("auto execute off", func(t *testing.T) {
		f := newExecFixture(t, okSizer())
		f.exec.SetAutoExecute(false)
		f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
		require.NoError(t, f.exec.Execute(ctx))
		assert.Zero(t, f.ex.openedCount())
	})
	t.Run("position cap", func(t *testing.T) {
		f := newExecFixture(t, okSizer())
		f.ex.positions = []types.Position{{ID: "x"}, {ID: "y"}}
		f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
		require.NoError(t, f.exec.Execute(ctx))
		assert.Zero(t, f.ex.openedCount())
	})
	t.Run("risk gate", func(t *testing.T) {
		f := newExecFixture(t, fakeSizer{blocked: true})
		f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
		require.NoError(t, f.exec.Execute(ctx))
		assert.Zero(t, f.ex.openedCount())
		assert.Len(t, f.exec.PendingSignals(), 1)
	})
	t.Run("stale signal discarded", func(t *testing.T) {
		f := newExecFixture(t, okSizer())
		f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
		f.clock.advance(SignalMaxAge + time.Second)
		require.NoError(t, f.exec.Execute(ctx))
		assert.Zero(t, f.ex.openedCount())
		assert.Empty(t, f.exec.PendingSignals())
	})
	t.Run("public mode", func(t *testing.T) {
		f := newExecFixture(t, okSizer())
		f.ex.authed = false
		f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
		require.NoError(t, f.exec.Execute(ctx))
		assert.Zero(t, f.ex.openedCount())
	})
}

func TestExecuteOpenFailureKeepsSignal(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	f.ex.openErr = errFake
	f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))

	err := f.exec.Execute(ctx)
	require.ErrorIs(t, err, errFake)
	assert.Len(t, f.exec.PendingSignals(), 1)
}

func TestReconcileClosesVanishedPositions(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
	require.NoError(t, f.exec.Execute(ctx))

	f.ex.mu.Lock()
	f.ex.positions = nil
	f.ex.mu.Unlock()
	require.NoError(t, f.exec.Execute(ctx))

	trades := f.exec.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, types.TradeClosed, trades[0].Status)
	assert.Equal(t, CloseReasonExchange, trades[0].CloseReason)
	require.NotNil(t, trades[0].ClosedAt)
}

func TestExecutionStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))
	require.NoError(t, f.exec.Execute(ctx))
	f.clock.advance(time.Minute)
	f.exec.AddSignal(ctx, signal(types.Long, 75, "external"))

	raw, err := f.exec.AgentState()
	require.NoError(t, err)

	g := newExecFixture(t, okSizer())
	g.exec.now = f.clock.now
	require.NoError(t, g.exec.RestoreAgentState(raw))
	assert.Equal(t, f.exec.PendingSignals(), g.exec.PendingSignals())
	assert.Equal(t, f.exec.Trades(), g.exec.Trades())

	// Restored cooldown still applies.
	require.NoError(t, g.exec.Execute(ctx))
	assert.Zero(t, g.ex.openedCount())
}

func TestConflictGuardSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	require.True(t, f.exec.AddSignal(ctx, signal(types.Long, 70, "analyst")))
	raw, err := f.exec.AgentState()
	require.NoError(t, err)

	f.clock.advance(2 * time.Minute)
	g := newExecFixture(t, okSizer())
	g.exec.now = f.clock.now
	require.NoError(t, g.exec.RestoreAgentState(raw))
	assert.False(t, g.exec.AddSignal(ctx, signal(types.Short, 90, "external")))

	f.clock.advance(4 * time.Minute)
	assert.True(t, g.exec.AddSignal(ctx, signal(types.Short, 90, "external")))
}

func TestHaltSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	f := newExecFixture(t, okSizer())
	f.exec.AddSignal(ctx, signal(types.Long, 90, "analyst"))

	wasOn, cleared := f.exec.Halt()
	assert.True(t, wasOn)
	assert.Equal(t, 1, cleared)
	assert.False(t, f.exec.AutoExecute())
	raw, err := f.exec.AgentState()
	require.NoError(t, err)

	// A fresh agent starts with auto-execute on from config.
	g := newExecFixture(t, okSizer())
	require.True(t, g.exec.AutoExecute())
	require.NoError(t, g.exec.RestoreAgentState(raw))
	assert.True(t, g.exec.Halted())
	assert.False(t, g.exec.AutoExecute())
	assert.Empty(t, g.exec.PendingSignals())

	g.exec.SetAutoExecute(true)
	assert.False(t, g.exec.Halted())
	assert.True(t, g.exec.AutoExecute())
}

func TestClearPending(t *testing.T) {
	f := newExecFixture(t, okSizer())
	f.exec.AddSignal(context.Background(), signal(types.Long, 90, "analyst"))
	assert.Equal(t, 1, f.exec.ClearPending())
	assert.Empty(t, f.exec.PendingSignals())
}
