package persist

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/types"
)

var (
	_ interfaces.Persistence = (*MemoryStore)(nil)
	_ interfaces.Persistence = (*RedisStore)(nil)
)

// exercise runs the same contract against any implementation.
func exercise(t *testing.T, s interfaces.Persistence) {
	ctx := context.Background()

	_, err := s.LoadAgentState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadSwarmState(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	st := types.AgentState{
		AgentID:   "execution",
		AgentType: types.AgentExecution,
		Config:    types.AgentConfig{Enabled: true, Interval: time.Minute},
		Metrics:   types.AgentMetrics{TotalRuns: 4, SuccessfulRuns: 3, FailedRuns: 1},
		Extra:     json.RawMessage(`{"pending":[]}`),
	}
	require.NoError(t, s.SaveAgentState(ctx, st))
	st.Metrics.TotalRuns = 5
	require.NoError(t, s.SaveAgentState(ctx, st))

	got, err := s.LoadAgentState(ctx, "execution")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Metrics.TotalRuns)
	assert.Equal(t, time.Minute, got.Config.Interval)
	assert.JSONEq(t, `{"pending":[]}`, string(got.Extra))

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := types.ExecutedTrade{ID: uuid.NewString(), Direction: types.Long, Status: types.TradeOpen, OpenedAt: t0}
	second := types.ExecutedTrade{ID: uuid.NewString(), Direction: types.Short, Status: types.TradeOpen, OpenedAt: t0.Add(time.Hour)}
	require.NoError(t, s.SaveTrade(ctx, second))
	require.NoError(t, s.SaveTrade(ctx, first))
	first.Status = types.TradeClosed
	require.NoError(t, s.SaveTrade(ctx, first))

	trades, err := s.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, first.ID, trades[0].ID)
	assert.Equal(t, types.TradeClosed, trades[0].Status)

	require.NoError(t, s.SaveSwarmState(ctx, types.SwarmState{Running: true, UpdatedAt: t0}))
	sw, err := s.LoadSwarmState(ctx)
	require.NoError(t, err)
	assert.True(t, sw.Running)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestMemoryStoreCopiesExtra(t *testing.T) {
	s := NewMemoryStore()
	extra := []byte(`[1]`)
	require.NoError(t, s.SaveAgentState(context.Background(), types.AgentState{AgentID: "a", Extra: extra}))
	extra[1] = '2'

	got, err := s.LoadAgentState(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got.Extra))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, "swarm-test-"+uuid.NewString())
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(ctx, s.agentKey("execution"), s.tradesKey(), s.swarmKey())

	exercise(t, s)
}
