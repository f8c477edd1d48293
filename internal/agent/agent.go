// Package agent runs swarm agents: a per-agent scheduler with a
// single-flight tick, health metrics, state persistence and a bus mailbox
// for chat, opinion and vote requests.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

// Agent is the unit of periodic work. Optional behaviour is discovered
// through the capability interfaces below.
type Agent interface {
	ID() string
	Name() string
	Type() types.AgentType
	Execute(ctx context.Context) error
}

type Voter interface {
	EvaluateTradeProposal(ctx context.Context, p bus.Proposal) bus.Vote
}

type Chatter interface {
	ChatResponse(ctx context.Context, query string) string
}

type Opinionated interface {
	TradeOpinion(ctx context.Context, dir types.Direction, context string) types.Opinion
}

// Stateful agents persist fields beyond the generic config and metrics.
type Stateful interface {
	AgentState() (json.RawMessage, error)
	RestoreAgentState(raw json.RawMessage) error
}

// Keyworded agents advertise the chat topics they can answer.
type Keyworded interface {
	Keywords() []string
}

// Behaviour wraps an Agent and fills in every optional hook.
type Behaviour struct {
	Agent
}

func WithDefaults(a Agent) Behaviour {
	return Behaviour{Agent: a}
}

func (b Behaviour) Vote(ctx context.Context, p bus.Proposal) bus.Vote {
	var v bus.Vote
	if voter, ok := b.Agent.(Voter); ok {
		v = voter.EvaluateTradeProposal(ctx, p)
	} else {
		v = bus.Vote{Decision: types.Abstain, Reason: b.Name() + " has no view on trade proposals"}
	}
	v.AgentID = b.ID()
	v.Confidence = types.ClampConfidence(v.Confidence)
	return v
}

func (b Behaviour) Chat(ctx context.Context, query string) string {
	if c, ok := b.Agent.(Chatter); ok {
		return c.ChatResponse(ctx, query)
	}
	return fmt.Sprintf("%s (%s) has nothing to add.", b.Name(), b.Type())
}

func (b Behaviour) Opinion(ctx context.Context, dir types.Direction, tradeContext string) types.Opinion {
	var o types.Opinion
	if op, ok := b.Agent.(Opinionated); ok {
		o = op.TradeOpinion(ctx, dir, tradeContext)
	} else {
		o = types.Opinion{Decision: types.Abstain, Reason: "no opinion"}
	}
	o.AgentID = b.ID()
	o.AgentType = b.Type()
	o.Confidence = types.ClampConfidence(o.Confidence)
	return o
}

func (b Behaviour) Keywords() []string {
	if k, ok := b.Agent.(Keyworded); ok {
		return k.Keywords()
	}
	return nil
}

// MatchesQuery reports whether any advertised keyword occurs in query,
// ignoring case.
func (b Behaviour) MatchesQuery(query string) bool {
	q := strings.ToLower(query)
	for _, k := range b.Keywords() {
		if strings.Contains(q, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// AnswerWithAI asks the AI backend first and falls back to the
// rule-based answer when the backend is absent, disabled, failing or
// silent.
func AnswerWithAI(ctx context.Context, ai interfaces.AIBackend, systemPrompt, query string, fallback func() string) string {
	if ai == nil || !ai.IsEnabled() {
		return fallback()
	}
	text, err := ai.Chat(ctx, []interfaces.ChatMessage{{Role: "user", Content: query}}, systemPrompt)
	if err != nil {
		logger.Warn(ctx, "AI backend failed, using rule-based answer", "error", err)
		return fallback()
	}
	if strings.TrimSpace(text) == "" {
		return fallback()
	}
	return text
}
