package interfaces

import (
	"context"

	"btc-agent-swarm/internal/types"
)

// Persistence is a best-effort upsert store keyed by stable ids.
type Persistence interface {
	SaveAgentState(ctx context.Context, state types.AgentState) error
	LoadAgentState(ctx context.Context, agentID string) (*types.AgentState, error)

	SaveTrade(ctx context.Context, trade types.ExecutedTrade) error
	LoadTrades(ctx context.Context) ([]types.ExecutedTrade, error)

	SaveSwarmState(ctx context.Context, state types.SwarmState) error
	LoadSwarmState(ctx context.Context) (*types.SwarmState, error)
}
