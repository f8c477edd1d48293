// Package agents holds the swarm's specialized agents. Each one satisfies
// agent.Agent and opts into voting, chat and opinions through the
// capability interfaces in package agent.
package agents

import (
	"context"
	"strings"
	"time"

	"btc-agent-swarm/internal/agent"
	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
)

// Stable agent ids. Persistence keys and bus addressing depend on them.
const (
	MarketAnalystID  = "market-analyst"
	RiskManagerID    = "risk-manager"
	ExecutionID      = "execution"
	ResearcherID     = "researcher"
	ExternalSignalID = "external-signal"
)

// Agents whose state outlives a restart.
var (
	_ agent.Stateful = (*RiskManager)(nil)
	_ agent.Stateful = (*Execution)(nil)
)

// SignalMaxAge bounds how long a queued signal stays actionable and how far
// back the conflict guard looks.
const SignalMaxAge = 5 * time.Minute

// timeframeWeight ranks longer timeframes higher when combining calls.
func timeframeWeight(tf string) float64 {
	switch strings.ToLower(tf) {
	case "1d", "1w":
		return 3
	case "4h":
		return 2
	}
	return 1
}

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

func publish(ctx context.Context, b *bus.Bus, sender string, t bus.MessageType, topic string, payload any) {
	if b == nil {
		return
	}
	b.Broadcast(ctx, sender, t, topic, payload)
}

// agentAnswer gives the AI backend the agent's current state as context and
// falls back to that same state summary.
func agentAnswer(ctx context.Context, ai interfaces.AIBackend, role, query string, summary func() string) string {
	system := role + "\n\nCurrent state:\n" + summary()
	return agent.AnswerWithAI(ctx, ai, system, query, summary)
}
