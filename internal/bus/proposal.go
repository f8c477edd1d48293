package bus

import (
	"sort"
	"time"

	"btc-agent-swarm/internal/types"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExecuted ProposalStatus = "executed"
)

type Vote struct {
	AgentID    string             `json:"agent_id"`
	Decision   types.VoteDecision `json:"decision"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Timestamp  time.Time          `json:"timestamp"`
}

type Proposal struct {
	ID         string          `json:"id"`
	Direction  types.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	Rationale  string          `json:"rationale"`
	Proposer   string          `json:"proposer"`
	Timestamp  time.Time       `json:"timestamp"`
	Votes      map[string]Vote `json:"votes"`
	Status     ProposalStatus  `json:"status"`
	Result     *Tally          `json:"result,omitempty"`
}

// Tally is the outcome of a consensus evaluation.
type Tally struct {
	ProposalID    string          `json:"proposal_id"`
	Direction     types.Direction `json:"direction"`
	Approve       int             `json:"approve"`
	Reject        int             `json:"reject"`
	Abstain       int             `json:"abstain"`
	ApprovalRate  float64         `json:"approval_rate"`
	AvgConfidence float64         `json:"avg_confidence"`
	Approved      bool            `json:"approved"`
	Votes         []Vote          `json:"votes"`
}

func (p *Proposal) clone() Proposal {
	c := *p
	c.Votes = make(map[string]Vote, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	if p.Result != nil {
		r := *p.Result
		r.Votes = append([]Vote(nil), p.Result.Votes...)
		c.Result = &r
	}
	return c
}

// tally counts votes. Abstentions stay out of the approval-rate
// denominator and the average covers approve votes only.
func tally(p *Proposal, threshold, minConfidence float64) Tally {
	t := Tally{ProposalID: p.ID, Direction: p.Direction}
	var approveConf float64
	for _, v := range p.Votes {
		t.Votes = append(t.Votes, v)
		switch v.Decision {
		case types.Approve:
			t.Approve++
			approveConf += v.Confidence
		case types.Reject:
			t.Reject++
		default:
			t.Abstain++
		}
	}
	sort.Slice(t.Votes, func(i, j int) bool { return t.Votes[i].AgentID < t.Votes[j].AgentID })
	if effective := t.Approve + t.Reject; effective > 0 {
		t.ApprovalRate = float64(t.Approve) / float64(effective)
	}
	if t.Approve > 0 {
		t.AvgConfidence = approveConf / float64(t.Approve)
	}
	t.Approved = t.ApprovalRate >= threshold && t.AvgConfidence >= minConfidence
	return t
}
