// ABOUTME: Rebalance agent that executes approved governance proposals
// ABOUTME: Enforces executeAfter, quorum and exactly-once execution per proposal

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

var (
	// ErrExecutionFailure wraps any failure while executing a proposal.
	ErrExecutionFailure = errors.New("rebalance execution failed")
	// ErrUnknownProposal is returned by Retry for an ID the agent never saw.
	ErrUnknownProposal = errors.New("unknown proposal")
)

// ProposalStatus describes where a proposal is in its lifecycle.
type ProposalStatus string

const (
	ProposalUnknown  ProposalStatus = ""
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalFailed   ProposalStatus = "failed"
	ProposalExecuted ProposalStatus = "executed"
)

// RebalanceConfig configures a RebalanceAgent.
type RebalanceConfig struct {
	// Quorum is the number of votes.for that approves a proposal carrying
	// no quorum of its own. Zero means only RebalanceApproved approves.
	Quorum   int
	Balances BalanceSource
}

type proposal struct {
	details  event.RebalanceProposalDetails
	votes    *event.Votes
	approved bool
	failure  error

	// set once balances were applied, so a failed publish only republishes
	result *event.RebalanceExecutedDetails
}

// RebalanceAgent executes approved RebalanceProposals.
type RebalanceAgent struct {
	*runtime.Runtime

	balances BalanceSource

	mu        sync.Mutex
	quorum    int
	proposals map[string]*proposal
	approvals map[string]struct{}
	executed  map[string]struct{}
}

// NewRebalanceAgent builds a RebalanceAgent on a runtime configured by rp.
func NewRebalanceAgent(rp runtime.Params, cfg RebalanceConfig) *RebalanceAgent {
	if rp.Name == "" {
		rp.Name = "rebalance"
	}
	if cfg.Balances == nil {
		cfg.Balances = NewMemoryPortfolio(nil)
	}
	a := &RebalanceAgent{
		balances:  cfg.Balances,
		quorum:    cfg.Quorum,
		proposals: make(map[string]*proposal),
		approvals: make(map[string]struct{}),
		executed:  make(map[string]struct{}),
	}
	rp.Handler = a
	a.Runtime = runtime.New(rp)
	return a
}

// HandleMessage records proposals, approvals and policy changes.
func (a *RebalanceAgent) HandleMessage(ctx context.Context, ev event.DomainEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := ev.(type) {
	case *event.RebalanceProposal:
		return a.onProposal(ctx, e)
	case *event.RebalanceApproved:
		return a.onApproved(ctx, e)
	case *event.PolicyChange:
		a.onPolicyChange(e)
		return nil
	default:
		return nil
	}
}

func (a *RebalanceAgent) onProposal(ctx context.Context, e *event.RebalanceProposal) error {
	id := e.Details.ProposalID
	if _, done := a.executed[id]; done {
		a.Logger().Debug("ignoring redelivered proposal", "proposal", id)
		return nil
	}

	p, ok := a.proposals[id]
	if !ok {
		p = &proposal{details: e.Details}
		a.proposals[id] = p
		a.Logger().Info("recorded rebalance proposal",
			"proposal", id,
			"execute_after", e.Details.ExecuteAfter,
		)
	}
	if v := e.Votes; v != nil && (p.votes == nil || v.For > p.votes.For) {
		p.votes = v
	}
	if _, pre := a.approvals[id]; pre {
		p.approved = true
		delete(a.approvals, id)
	}
	if a.quorumMet(p) {
		p.approved = true
	}
	return a.tryExecute(ctx, p)
}

func (a *RebalanceAgent) onApproved(ctx context.Context, e *event.RebalanceApproved) error {
	id := e.Details.ProposalID
	if _, done := a.executed[id]; done {
		return nil
	}
	p, ok := a.proposals[id]
	if !ok {
		// Approval raced ahead of its proposal.
		a.approvals[id] = struct{}{}
		return nil
	}
	p.approved = true
	return a.tryExecute(ctx, p)
}

func (a *RebalanceAgent) onPolicyChange(e *event.PolicyChange) {
	raw, ok := e.Details.Changes["quorum"]
	if !ok {
		return
	}
	q, ok := asInt(raw)
	if !ok || q < 0 {
		a.Logger().Warn("ignoring invalid quorum change", "policy", e.Details.PolicyID, "value", raw)
		return
	}
	a.quorum = q
	a.Logger().Info("quorum updated", "policy", e.Details.PolicyID, "quorum", q)
}

func (a *RebalanceAgent) quorumMet(p *proposal) bool {
	q := p.details.Quorum
	if q <= 0 {
		q = a.quorum
	}
	return q > 0 && p.votes != nil && p.votes.For >= q
}

// Tick re-checks approved proposals whose executeAfter may have passed.
func (a *RebalanceAgent) Tick(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(a.proposals)) {
		if err := a.tryExecute(ctx, a.proposals[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retry re-arms a proposal whose execution failed.
func (a *RebalanceAgent) Retry(proposalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.executed[proposalID]; done {
		return fmt.Errorf("proposal %s already executed", proposalID)
	}
	p, ok := a.proposals[proposalID]
	if !ok {
		return fmt.Errorf("retrying %s: %w", proposalID, ErrUnknownProposal)
	}
	p.failure = nil
	return nil
}

// Status reports the lifecycle state of a proposal.
func (a *RebalanceAgent) Status(proposalID string) ProposalStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.executed[proposalID]; done {
		return ProposalExecuted
	}
	p, ok := a.proposals[proposalID]
	switch {
	case !ok:
		return ProposalUnknown
	case p.failure != nil:
		return ProposalFailed
	case p.approved:
		return ProposalApproved
	default:
		return ProposalPending
	}
}

// Quorum returns the current default quorum.
func (a *RebalanceAgent) Quorum() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quorum
}

// tryExecute runs p if it is approved, due and not parked. Caller holds a.mu.
func (a *RebalanceAgent) tryExecute(ctx context.Context, p *proposal) error {
	if !p.approved || p.failure != nil {
		return nil
	}
	now := a.Now().UnixMilli()
	if now < p.details.ExecuteAfter {
		return nil
	}

	id := p.details.ProposalID
	if p.result == nil {
		result, err := a.execute(ctx, p, now)
		if err != nil {
			p.failure = err
			a.Logger().Error("rebalance failed; parked until retried", "proposal", id, "error", err)
			return err
		}
		p.result = result
	}

	executed := &event.RebalanceExecuted{
		Header: event.Header{
			Timestamp: now,
			Sender:    a.Name(),
		},
		Details: *p.result,
	}
	if err := a.Publish(ctx, executed); err != nil {
		// Balances are already applied; the next tick republishes.
		return fmt.Errorf("publishing execution of %s: %w", id, err)
	}

	a.executed[id] = struct{}{}
	delete(a.proposals, id)
	a.Logger().Info("rebalance executed", "proposal", id)
	return nil
}

func (a *RebalanceAgent) execute(ctx context.Context, p *proposal, now int64) (*event.RebalanceExecutedDetails, error) {
	id := p.details.ProposalID
	tokens := slices.Sorted(maps.Keys(p.details.NewWeights))

	if err := validWeights(p.details.NewWeights); err != nil {
		return nil, fmt.Errorf("%w: proposal %s: %w", ErrExecutionFailure, id, err)
	}

	pre, err := a.balances.Balances(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: reading balances for %s: %w", ErrExecutionFailure, id, err)
	}

	var total float64
	for _, t := range tokens {
		total += pre[t]
	}
	post := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		post[t] = total * p.details.NewWeights[t]
	}

	if ap, ok := a.balances.(Applier); ok {
		if err := ap.Apply(ctx, id, post); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailure, err)
		}
	}

	return &event.RebalanceExecutedDetails{
		ProposalID:   id,
		PreBalances:  pre,
		PostBalances: post,
		ExecutedAt:   now,
	}, nil
}

// weightTolerance absorbs float rounding in proposals that sum to one.
const weightTolerance = 1e-6

// validWeights requires non-negative finite weights summing to 1 so a
// rebalance never creates or destroys value.
func validWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return errors.New("no target weights")
	}
	var sum float64
	for token, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("weight for %s is %v", token, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %v, want 1", sum)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
