// Package bus is the in-process message bus shared by every agent. Send
// dispatches synchronously to subscribers; the bus is also the single
// owner of trade proposals and their consensus state.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/trace"
	"btc-agent-swarm/internal/types"
)

var (
	ErrProposalNotFound    = errors.New("proposal not found")
	ErrProposalResolved    = errors.New("proposal is no longer pending")
	ErrProposalNotApproved = errors.New("proposal is not approved")
)

const (
	DefaultHistorySize        = 1000
	DefaultConsensusThreshold = 0.6
	DefaultMinVotes           = 3
	DefaultProposalMaxAge     = 24 * time.Hour

	// MinApproveConfidence is the second consensus gate: the mean
	// confidence of approve votes.
	MinApproveConfidence = 60.0

	SenderSystem = "system"
)

type Handler func(ctx context.Context, msg Message)

type subscription struct {
	id        uint64
	recipient string
	msgType   MessageType
	handler   Handler
}

type Config struct {
	HistorySize        int
	ConsensusThreshold float64
	MinVotes           int
}

type Bus struct {
	mu        sync.RWMutex
	history   []Message
	histSize  int
	subs      []subscription
	nextSubID uint64

	proposals map[string]*Proposal
	threshold float64
	minVotes  int

	now func() time.Time
}

func New(cfg Config) *Bus {
	b := &Bus{
		histSize:  cfg.HistorySize,
		proposals: make(map[string]*Proposal),
		threshold: DefaultConsensusThreshold,
		minVotes:  DefaultMinVotes,
		now:       time.Now,
	}
	if b.histSize <= 0 {
		b.histSize = DefaultHistorySize
	}
	if cfg.ConsensusThreshold != 0 {
		b.SetConsensusThreshold(cfg.ConsensusThreshold)
	}
	if cfg.MinVotes != 0 {
		b.SetMinVotesRequired(cfg.MinVotes)
	}
	return b
}

// Send stamps msg, records it and delivers it synchronously: first to
// each addressed recipient, then to catch-all subscribers, then to
// subscribers of msg.Type. Handlers run on the caller's goroutine.
func (b *Bus) Send(ctx context.Context, msg Message) Message {
	msg.ID = uuid.NewString()
	msg.Timestamp = b.now()
	if len(msg.Recipients) > 0 {
		msg.Recipients = append([]string(nil), msg.Recipients...)
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if over := len(b.history) - b.histSize; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	var recipient, all, typed []Handler
	for _, s := range b.subs {
		switch {
		case s.recipient != "":
			for _, r := range msg.Recipients {
				if r == s.recipient {
					recipient = append(recipient, s.handler)
				}
			}
		case s.msgType != "":
			if s.msgType == msg.Type {
				typed = append(typed, s.handler)
			}
		default:
			all = append(all, s.handler)
		}
	}
	b.mu.Unlock()

	logger.Debug(ctx, "Bus message",
		"id", msg.ID,
		"type", msg.Type,
		"topic", msg.Topic,
		"sender", msg.Sender,
		"recipients", msg.Recipients,
	)

	for _, h := range recipient {
		h(ctx, msg)
	}
	for _, h := range all {
		h(ctx, msg)
	}
	for _, h := range typed {
		h(ctx, msg)
	}
	return msg
}

func (b *Bus) Broadcast(ctx context.Context, sender string, t MessageType, topic string, payload any) Message {
	return b.Send(ctx, Message{Sender: sender, Type: t, Topic: topic, Payload: payload})
}

func (b *Bus) SendTo(ctx context.Context, sender string, recipients []string, t MessageType, topic string, payload any) Message {
	return b.Send(ctx, Message{Sender: sender, Recipients: recipients, Type: t, Topic: topic, Payload: payload})
}

// Reply answers original, addressed back to its sender.
func (b *Bus) Reply(ctx context.Context, original Message, sender string, payload any) Message {
	return b.Send(ctx, Message{
		Sender:     sender,
		Recipients: []string{original.Sender},
		Type:       TypeResponse,
		Topic:      original.Topic,
		Payload:    payload,
		ReplyTo:    original.ID,
	})
}

// SubscribeRecipient delivers messages explicitly addressed to id.
// Broadcasts are not included.
func (b *Bus) SubscribeRecipient(id string, h Handler) (unsubscribe func()) {
	return b.subscribe(subscription{recipient: id, handler: h})
}

func (b *Bus) SubscribeType(t MessageType, h Handler) (unsubscribe func()) {
	return b.subscribe(subscription{msgType: t, handler: h})
}

func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.subscribe(subscription{handler: h})
}

func (b *Bus) subscribe(s subscription) func() {
	b.mu.Lock()
	b.nextSubID++
	s.id = b.nextSubID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i := range b.subs {
				if b.subs[i].id == s.id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// CreateProposal registers a pending proposal and broadcasts a vote
// request on TopicTradeProposal.
func (b *Bus) CreateProposal(ctx context.Context, proposer string, dir types.Direction, confidence float64, rationale string) Proposal {
	p := &Proposal{
		ID:         uuid.NewString(),
		Direction:  dir,
		Confidence: types.ClampConfidence(confidence),
		Rationale:  rationale,
		Proposer:   proposer,
		Timestamp:  b.now(),
		Votes:      make(map[string]Vote),
		Status:     ProposalPending,
	}

	b.mu.Lock()
	b.proposals[p.ID] = p
	snapshot := p.clone()
	b.mu.Unlock()

	logger.Info(ctx, "Trade proposal created",
		"proposal_id", p.ID,
		"proposer", proposer,
		"direction", dir,
		"confidence", p.Confidence,
	)
	b.Broadcast(ctx, proposer, TypeQuestion, TopicTradeProposal, ProposalRequest{Proposal: snapshot})
	return snapshot
}

// Vote records v for the proposal, replacing any earlier vote by the same
// agent. Once enough distinct agents have voted, consensus is evaluated.
func (b *Bus) Vote(ctx context.Context, proposalID string, v Vote) error {
	v.Confidence = types.ClampConfidence(v.Confidence)
	if v.Timestamp.IsZero() {
		v.Timestamp = b.now()
	}

	b.mu.Lock()
	p, ok := b.proposals[proposalID]
	if !ok {
		b.mu.Unlock()
		return ErrProposalNotFound
	}
	if p.Status != ProposalPending {
		b.mu.Unlock()
		return ErrProposalResolved
	}
	p.Votes[v.AgentID] = v
	quorum := len(p.Votes) >= b.minVotes
	b.mu.Unlock()

	b.Broadcast(ctx, v.AgentID, TypeVote, TopicTradeProposal, VoteCast{ProposalID: proposalID, Vote: v})

	if quorum {
		if _, err := b.EvaluateConsensus(ctx, proposalID); err != nil && !errors.Is(err, ErrProposalResolved) {
			return err
		}
	}
	return nil
}

// EvaluateConsensus resolves a pending proposal against the current vote
// set and broadcasts the decision. A resolved proposal is never
// re-evaluated; its stored tally is returned.
func (b *Bus) EvaluateConsensus(ctx context.Context, proposalID string) (Tally, error) {
	ctx, span := trace.StartSpan(ctx, "bus.EvaluateConsensus")
	defer span.End()

	b.mu.Lock()
	p, ok := b.proposals[proposalID]
	if !ok {
		b.mu.Unlock()
		return Tally{}, ErrProposalNotFound
	}
	if p.Status != ProposalPending {
		var t Tally
		if p.Result != nil {
			t = *p.Result
		}
		b.mu.Unlock()
		return t, nil
	}
	t := tally(p, b.threshold, MinApproveConfidence)
	if t.Approved {
		p.Status = ProposalApproved
	} else {
		p.Status = ProposalRejected
	}
	p.Result = &t
	b.mu.Unlock()

	logger.Decision(ctx, SenderSystem, string(p.Status), t.AvgConfidence,
		fmt.Sprintf("%d approve / %d reject / %d abstain", t.Approve, t.Reject, t.Abstain),
		"proposal_id", proposalID,
		"approval_rate", t.ApprovalRate,
	)
	b.Broadcast(ctx, SenderSystem, TypeDecision, TopicTradeProposal, DecisionPayload{Tally: t})
	return t, nil
}

// MarkExecuted moves an approved proposal to executed.
func (b *Bus) MarkExecuted(ctx context.Context, proposalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.proposals[proposalID]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != ProposalApproved {
		return fmt.Errorf("%w: status %s", ErrProposalNotApproved, p.Status)
	}
	p.Status = ProposalExecuted
	logger.Info(ctx, "Proposal executed", "proposal_id", proposalID)
	return nil
}

func (b *Bus) Proposal(id string) (Proposal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return p.clone(), true
}

// Proposals returns every tracked proposal, newest first.
func (b *Bus) Proposals() []Proposal {
	b.mu.RLock()
	out := make([]Proposal, 0, len(b.proposals))
	for _, p := range b.proposals {
		out = append(out, p.clone())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// CleanupProposals drops proposals older than maxAge and returns how many
// were removed.
func (b *Bus) CleanupProposals(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultProposalMaxAge
	}
	cutoff := b.now().Add(-maxAge)
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, p := range b.proposals {
		if p.Timestamp.Before(cutoff) {
			delete(b.proposals, id)
			removed++
		}
	}
	return removed
}

// SetConsensusThreshold clamps t into [0.5, 1].
func (b *Bus) SetConsensusThreshold(t float64) {
	if t < 0.5 {
		t = 0.5
	}
	if t > 1 {
		t = 1
	}
	b.mu.Lock()
	b.threshold = t
	b.mu.Unlock()
}

func (b *Bus) SetMinVotesRequired(n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	b.minVotes = n
	b.mu.Unlock()
}

func (b *Bus) ConsensusThreshold() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.threshold
}

func (b *Bus) MinVotesRequired() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minVotes
}
