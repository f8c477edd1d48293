// Package chat routes free-text questions to the agents that can answer
// them and gathers their replies within a bounded wait.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultOpinionTimeout = 15 * time.Second
	DefaultSessionTTL     = 2 * time.Hour
	DefaultMaxSessions    = 500
)

// Consensus needs at least this average confidence to be a go.
const minGoConfidence = 60

var ErrNoAgents = errors.New("chat: no agents registered")

// Participant is an agent that can be addressed by the router.
type Participant interface {
	ID() string
	Type() types.AgentType
	MatchesQuery(query string) bool
}

type Config struct {
	Timeout        time.Duration
	OpinionTimeout time.Duration
	SessionTTL     time.Duration
	MaxSessions    int
}

type Response struct {
	SessionID string          `json:"session_id"`
	MessageID string          `json:"message_id"`
	Routed    []string        `json:"routed"`
	Replies   []bus.ChatReply `json:"replies"`
}

type Verdict string

const (
	VerdictGo    Verdict = "go"
	VerdictNoGo  Verdict = "no-go"
	VerdictSplit Verdict = "split"
)

type OpinionResult struct {
	Direction     types.Direction `json:"direction"`
	Opinions      []types.Opinion `json:"opinions"`
	Approve       int             `json:"approve"`
	Reject        int             `json:"reject"`
	Abstain       int             `json:"abstain"`
	AvgConfidence float64         `json:"avg_confidence"`
	Verdict       Verdict         `json:"verdict"`
}

type Router struct {
	bus *bus.Bus
	cfg Config

	mu           sync.Mutex
	participants map[string]Participant
	order        []string
	sessions     *sessionStore
	now          func() time.Time
}

func NewRouter(b *bus.Bus, cfg Config) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OpinionTimeout <= 0 {
		cfg.OpinionTimeout = DefaultOpinionTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Router{
		bus:          b,
		cfg:          cfg,
		participants: map[string]Participant{},
		sessions:     newSessionStore(cfg.SessionTTL, cfg.MaxSessions),
		now:          time.Now,
	}
}

// Register adds p, replacing any participant with the same id.
func (r *Router) Register(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.participants[p.ID()] = p
}

func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return
	}
	delete(r.participants, id)
	for i, x := range r.order {
		if x == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RouteMessage returns the ids of agents whose keywords match query, or
// every registered agent when none match.
func (r *Router) RouteMessage(query string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []string
	for _, id := range r.order {
		if r.participants[id].MatchesQuery(query) {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return append([]string(nil), r.order...)
	}
	return matched
}

func (r *Router) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Chat sends message to the routed agents and waits up to the chat
// timeout for their replies. Agents that do not answer in time are simply
// absent from the response. An empty sessionID starts a new session.
func (r *Router) Chat(ctx context.Context, message, sessionID string) (Response, error) {
	targets := r.RouteMessage(message)
	if len(targets) == 0 {
		return Response{}, ErrNoAgents
	}

	r.mu.Lock()
	now := r.now()
	sess, ok := r.sessions.get(sessionID, now)
	if !ok {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		sess = &Session{ID: sessionID, CreatedAt: now}
		r.sessions.add(sess)
	}
	sess.LastActive = now
	sess.Messages = append(sess.Messages, Entry{Role: "user", Text: message, Timestamp: now})
	r.mu.Unlock()

	op := logger.StartOperation(ctx, "chat.Chat", "session_id", sessionID, "targets", len(targets))
	sender := requestAddress()
	coll := r.bus.Collect(repliesFor(sender), len(targets))
	msg := r.bus.SendTo(op.GetContext(), sender, targets, bus.TypeChat, bus.TopicChat, bus.ChatRequest{SessionID: sessionID, Query: message})
	replies := coll.Wait(ctx, r.cfg.Timeout)

	resp := Response{SessionID: sessionID, MessageID: msg.ID, Routed: targets}
	for _, m := range replies {
		if cr, ok := m.Payload.(bus.ChatReply); ok && m.ReplyTo == msg.ID {
			resp.Replies = append(resp.Replies, cr)
		}
	}
	sortReplies(resp.Replies, targets)
	op.End("replies", len(resp.Replies))

	r.mu.Lock()
	if live, ok := r.sessions.get(sessionID, r.now()); ok {
		for _, cr := range resp.Replies {
			live.Messages = append(live.Messages, Entry{Role: "agent", AgentID: cr.AgentID, Text: cr.Text, Timestamp: r.now()})
		}
		live.LastActive = r.now()
	}
	r.mu.Unlock()

	if len(resp.Replies) < len(targets) {
		logger.Info(ctx, "Chat replies incomplete", "session_id", sessionID, "expected", len(targets), "received", len(resp.Replies))
	}
	return resp, nil
}

// AskForTradeOpinion polls every registered agent for a structured
// opinion. Go needs more approvals than rejections and an average
// confidence of at least 60 over non-abstaining opinions; more rejections
// is a no-go; anything else is split.
func (r *Router) AskForTradeOpinion(ctx context.Context, dir types.Direction, tradeContext string) (OpinionResult, error) {
	if !dir.Valid() {
		return OpinionResult{}, fmt.Errorf("invalid direction %q", dir)
	}
	targets := r.all()
	if len(targets) == 0 {
		return OpinionResult{}, ErrNoAgents
	}

	op := logger.StartOperation(ctx, "chat.AskForTradeOpinion", "direction", string(dir), "targets", len(targets))
	sender := requestAddress()
	coll := r.bus.Collect(repliesFor(sender), len(targets))
	msg := r.bus.SendTo(op.GetContext(), sender, targets, bus.TypeQuestion, bus.TopicTradeOpinion, bus.OpinionRequest{Direction: dir, Context: tradeContext})
	replies := coll.Wait(ctx, r.cfg.OpinionTimeout)

	var opinions []types.Opinion
	for _, m := range replies {
		if rep, ok := m.Payload.(bus.OpinionReply); ok && m.ReplyTo == msg.ID {
			opinions = append(opinions, rep.Opinion)
		}
	}
	res := AggregateOpinions(dir, opinions)
	op.End("verdict", string(res.Verdict), "opinions", len(res.Opinions))
	return res, nil
}

func AggregateOpinions(dir types.Direction, opinions []types.Opinion) OpinionResult {
	res := OpinionResult{Direction: dir, Opinions: opinions, Verdict: VerdictSplit}
	var confSum float64
	for _, o := range opinions {
		switch o.Decision {
		case types.Approve:
			res.Approve++
			confSum += o.Confidence
		case types.Reject:
			res.Reject++
			confSum += o.Confidence
		default:
			res.Abstain++
		}
	}
	if n := res.Approve + res.Reject; n > 0 {
		res.AvgConfidence = confSum / float64(n)
	}
	switch {
	case res.Approve > res.Reject && res.AvgConfidence >= minGoConfidence:
		res.Verdict = VerdictGo
	case res.Reject > res.Approve:
		res.Verdict = VerdictNoGo
	}
	return res
}

// Session returns a copy of a live session.
func (r *Router) Session(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.get(id, r.now())
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Prune drops idle sessions and returns how many were removed.
func (r *Router) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.prune(r.now())
}

func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.len()
}

// requestAddress is a one-off sender id so replies can be matched before
// the request id is known.
func requestAddress() string {
	return "chat/" + uuid.NewString()
}

func repliesFor(addr string) func(bus.Message) bool {
	return func(m bus.Message) bool {
		return m.Type == bus.TypeResponse && !m.IsBroadcast() && m.AddressedTo(addr)
	}
}

// sortReplies orders replies by routing order.
func sortReplies(replies []bus.ChatReply, targets []string) {
	rank := make(map[string]int, len(targets))
	for i, id := range targets {
		rank[id] = i
	}
	sort.SliceStable(replies, func(i, j int) bool { return rank[replies[i].AgentID] < rank[replies[j].AgentID] })
}
