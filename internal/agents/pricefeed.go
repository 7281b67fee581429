// ABOUTME: Emit-only price feed agent publishing PriceUpdates every tick
// ABOUTME: Prices come from a PriceSource; RandomWalkSource is the default

package agents

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

// PriceSource returns the current price of a token.
type PriceSource interface {
	Price(ctx context.Context, tokenID string) (float64, error)
}

// PriceFeedConfig configures a PriceFeedAgent.
type PriceFeedConfig struct {
	Tokens []string
	Source PriceSource
	// SourceName is copied into PriceUpdate.details.source.
	SourceName string
}

// PriceFeedAgent publishes one PriceUpdate per tracked token per tick.
type PriceFeedAgent struct {
	*runtime.Runtime

	tokens     []string
	source     PriceSource
	sourceName string
}

// NewPriceFeedAgent builds a feed on a runtime configured by rp. Any input
// topic in rp is cleared; the feed never reads.
func NewPriceFeedAgent(rp runtime.Params, cfg PriceFeedConfig) *PriceFeedAgent {
	if rp.Name == "" {
		rp.Name = "price-feed"
	}
	if cfg.Source == nil {
		cfg.Source = NewRandomWalkSource(nil, 0.02)
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "random-walk"
	}
	rp.InputTopic = ""

	a := &PriceFeedAgent{
		tokens:     append([]string(nil), cfg.Tokens...),
		source:     cfg.Source,
		sourceName: cfg.SourceName,
	}
	rp.Handler = a
	a.Runtime = runtime.New(rp)
	return a
}

// HandleMessage is never called for an emit-only runtime.
func (a *PriceFeedAgent) HandleMessage(context.Context, event.DomainEvent) error { return nil }

// Tick emits the current price of every tracked token. A failure for one
// token does not skip the others.
func (a *PriceFeedAgent) Tick(ctx context.Context) error {
	var errs []error
	for _, token := range a.tokens {
		price, err := a.source.Price(ctx, token)
		if err != nil {
			errs = append(errs, fmt.Errorf("pricing %s: %w", token, err))
			continue
		}
		update := &event.PriceUpdate{
			Header: event.Header{
				Timestamp: a.Now().UnixMilli(),
				Sender:    a.Name(),
			},
			Details: event.PriceUpdateDetails{
				TokenID: token,
				Price:   price,
				Source:  a.sourceName,
			},
		}
		if err := a.Publish(ctx, update); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", token, err))
		}
	}
	return errors.Join(errs...)
}

// Tokens returns the tracked token IDs.
func (a *PriceFeedAgent) Tokens() []string { return append([]string(nil), a.tokens...) }

// DefaultStartPrice seeds tokens that have no configured start price.
const DefaultStartPrice = 100.0

// RandomWalkSource moves each token's price by a uniform step in
// [-step, +step] of its previous value. Each token has its own generator
// seeded from the token ID, so a run is reproducible.
type RandomWalkSource struct {
	mu     sync.Mutex
	step   float64
	prices map[string]float64
	rngs   map[string]*rand.Rand
}

// NewRandomWalkSource creates a source starting from start (may be nil).
func NewRandomWalkSource(start map[string]float64, step float64) *RandomWalkSource {
	prices := make(map[string]float64, len(start))
	for k, v := range start {
		prices[k] = v
	}
	return &RandomWalkSource{
		step:   step,
		prices: prices,
		rngs:   make(map[string]*rand.Rand),
	}
}

// Price returns the last price moved by one random step.
func (s *RandomWalkSource) Price(_ context.Context, tokenID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng, ok := s.rngs[tokenID]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tokenID))
		rng = rand.New(rand.NewPCG(h.Sum64(), 0x9e3779b97f4a7c15))
		s.rngs[tokenID] = rng
	}

	price, ok := s.prices[tokenID]
	if !ok {
		price = DefaultStartPrice
	}
	price *= 1 + s.step*(2*rng.Float64()-1)
	if price <= 0 {
		price = 0.01
	}
	s.prices[tokenID] = price
	return price, nil
}
