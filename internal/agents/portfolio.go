// ABOUTME: Balance collaborators used by the rebalance agent
// ABOUTME: BalanceSource/Applier interfaces and an in-memory portfolio

package agents

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// BalanceSource supplies current balances for a set of tokens.
type BalanceSource interface {
	Balances(ctx context.Context, tokens []string) (map[string]float64, error)
}

// Applier is optionally implemented by a BalanceSource that can move funds.
// Apply receives the post-rebalance balances for the proposal's tokens.
type Applier interface {
	Apply(ctx context.Context, proposalID string, post map[string]float64) error
}

// MemoryPortfolio is a BalanceSource and Applier backed by a map.
type MemoryPortfolio struct {
	mu       sync.Mutex
	balances map[string]float64
	fail     error
}

// NewMemoryPortfolio creates a portfolio holding a copy of initial.
func NewMemoryPortfolio(initial map[string]float64) *MemoryPortfolio {
	b := make(map[string]float64, len(initial))
	maps.Copy(b, initial)
	return &MemoryPortfolio{balances: b}
}

// Balances returns the balance of each token; unknown tokens read as zero.
func (p *MemoryPortfolio) Balances(_ context.Context, tokens []string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		out[t] = p.balances[t]
	}
	return out, nil
}

// Apply overwrites the balances of the given tokens.
func (p *MemoryPortfolio) Apply(_ context.Context, proposalID string, post map[string]float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return fmt.Errorf("applying %s: %w", proposalID, p.fail)
	}
	maps.Copy(p.balances, post)
	return nil
}

// Snapshot returns a copy of every balance.
func (p *MemoryPortfolio) Snapshot() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.balances)
}

// Fail makes every subsequent call return err. Pass nil to recover.
func (p *MemoryPortfolio) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}
