package persist

import (
	"context"
	"sync"

	"btc-agent-swarm/internal/types"
)

// MemoryStore keeps everything in process memory. Values are copied on the
// way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]types.AgentState
	trades map[string]types.ExecutedTrade
	swarm  *types.SwarmState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]types.AgentState),
		trades: make(map[string]types.ExecutedTrade),
	}
}

func (m *MemoryStore) SaveAgentState(_ context.Context, st types.AgentState) error {
	st.Extra = append([]byte(nil), st.Extra...)
	m.mu.Lock()
	m.agents[st.AgentID] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadAgentState(_ context.Context, agentID string) (*types.AgentState, error) {
	m.mu.RLock()
	st, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	st.Extra = append([]byte(nil), st.Extra...)
	return &st, nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, t types.ExecutedTrade) error {
	m.mu.Lock()
	m.trades[t.ID] = t
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadTrades(_ context.Context) ([]types.ExecutedTrade, error) {
	m.mu.RLock()
	out := make([]types.ExecutedTrade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sortTrades(out)
	return out, nil
}

func (m *MemoryStore) SaveSwarmState(_ context.Context, st types.SwarmState) error {
	m.mu.Lock()
	m.swarm = &st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadSwarmState(_ context.Context) (*types.SwarmState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.swarm == nil {
		return nil, ErrNotFound
	}
	st := *m.swarm
	return &st, nil
}
