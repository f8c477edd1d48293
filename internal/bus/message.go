package bus

import (
	"time"

	"btc-agent-swarm/internal/types"
)

type MessageType string

const (
	TypeAnalysis MessageType = "analysis"
	TypeOpinion  MessageType = "opinion"
	TypeAlert    MessageType = "alert"
	TypeQuestion MessageType = "question"
	TypeVote     MessageType = "vote"
	TypeDecision MessageType = "decision"
	TypeChat     MessageType = "chat"
	TypeResponse MessageType = "response"
)

// Topics used across the swarm.
const (
	TopicTradeProposal  = "trade_proposal"
	TopicTradeOpinion   = "trade_opinion"
	TopicChat           = "chat"
	TopicRecommendation = "recommendation"
	TopicCombinedSignal = "combined_signal"
	TopicRiskAssessment = "risk_assessment"
	TopicSentiment      = "sentiment"
	TopicStopTrading    = "stop_trading"
	TopicAgentError     = "agent_error"
	TopicAgentUnhealthy = "agent_unhealthy"
	TopicTradeExecuted  = "trade_executed"
	TopicTradeClosed    = "trade_closed"
)

// Message is immutable once returned by Send. Payload values are shared
// between subscribers and must not be mutated by handlers.
type Message struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Sender     string      `json:"sender"`
	Recipients []string    `json:"recipients,omitempty"`
	Type       MessageType `json:"type"`
	Topic      string      `json:"topic"`
	Payload    any         `json:"payload,omitempty"`
	ReplyTo    string      `json:"reply_to,omitempty"`
}

func (m Message) IsBroadcast() bool {
	return len(m.Recipients) == 0
}

// AddressedTo reports whether id receives m. Broadcasts reach everyone.
func (m Message) AddressedTo(id string) bool {
	if m.IsBroadcast() {
		return true
	}
	for _, r := range m.Recipients {
		if r == id {
			return true
		}
	}
	return false
}

// Payloads for protocol messages.

type ProposalRequest struct {
	Proposal Proposal `json:"proposal"`
}

type VoteCast struct {
	ProposalID string `json:"proposal_id"`
	Vote       Vote   `json:"vote"`
}

type DecisionPayload struct {
	Tally Tally `json:"tally"`
}

type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

type ChatReply struct {
	AgentID   string          `json:"agent_id"`
	AgentType types.AgentType `json:"agent_type"`
	Text      string          `json:"text"`
}

type OpinionRequest struct {
	Direction types.Direction `json:"direction"`
	Context   string          `json:"context,omitempty"`
}

type OpinionReply struct {
	Opinion types.Opinion `json:"opinion"`
}

type AlertPayload struct {
	Alert types.Alert `json:"alert"`
}
