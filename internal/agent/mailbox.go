package agent

import (
	"context"

	"btc-agent-swarm/internal/bus"
	"btc-agent-swarm/internal/logger"
)

// Open attaches the agent to the bus: directed chat and opinion requests
// plus broadcast vote requests are queued to a mailbox served by one
// goroutine. Bus handlers never block on the agent.
func (r *Runtime) Open(ctx context.Context) {
	r.mu.Lock()
	if r.mailbox != nil || r.bus == nil {
		r.mu.Unlock()
		return
	}
	r.mailbox = make(chan bus.Message, mailboxSize)
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mailClose = cancel
	r.mailDone = make(chan struct{})
	mailbox, done := r.mailbox, r.mailDone
	r.mu.Unlock()

	enqueue := func(ctx context.Context, m bus.Message) {
		select {
		case mailbox <- m:
		default:
			logger.Warn(ctx, "Agent mailbox full, dropping message",
				"agent_id", r.ID(),
				"topic", m.Topic,
				"message_id", m.ID,
			)
		}
	}
	unsubDirect := r.bus.SubscribeRecipient(r.ID(), func(ctx context.Context, m bus.Message) {
		if m.Type == bus.TypeChat || m.Type == bus.TypeQuestion {
			enqueue(ctx, m)
		}
	})
	unsubVotes := r.bus.SubscribeType(bus.TypeQuestion, func(ctx context.Context, m bus.Message) {
		if m.IsBroadcast() && m.Topic == bus.TopicTradeProposal {
			enqueue(ctx, m)
		}
	})

	r.mu.Lock()
	r.unsubs = []func(){unsubDirect, unsubVotes}
	r.mu.Unlock()

	go r.serveMailbox(mctx, mailbox, done)
}

// Close detaches from the bus and waits for the mailbox goroutine.
func (r *Runtime) Close() {
	r.mu.Lock()
	unsubs, cancel, done := r.unsubs, r.mailClose, r.mailDone
	r.unsubs, r.mailClose, r.mailDone, r.mailbox = nil, nil, nil, nil
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Runtime) serveMailbox(ctx context.Context, mailbox <-chan bus.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-mailbox:
			r.handle(ctx, m)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, m bus.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "Agent mailbox handler panicked", "agent_id", r.ID(), "panic", rec)
		}
	}()

	switch p := m.Payload.(type) {
	case bus.ChatRequest:
		text := r.agent.Chat(ctx, p.Query)
		r.bus.Reply(ctx, m, r.ID(), bus.ChatReply{AgentID: r.ID(), AgentType: r.Type(), Text: text})
	case bus.OpinionRequest:
		op := r.agent.Opinion(ctx, p.Direction, p.Context)
		r.bus.Reply(ctx, m, r.ID(), bus.OpinionReply{Opinion: op})
	case bus.ProposalRequest:
		v := r.agent.Vote(ctx, p.Proposal)
		if err := r.bus.Vote(ctx, p.Proposal.ID, v); err != nil {
			logger.Debug(ctx, "Vote not recorded", "agent_id", r.ID(), "proposal_id", p.Proposal.ID, "error", err)
		}
	default:
		logger.Debug(ctx, "Unhandled mailbox message", "agent_id", r.ID(), "type", m.Type, "topic", m.Topic)
	}
}
