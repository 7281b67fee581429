// ABOUTME: Risk assessment agent that turns price updates into risk alerts
// ABOUTME: Tracks bounded price history per token and grades moves by threshold

package agents

import (
	"context"
	"fmt"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

// RiskThresholds sets the fractional price change for each severity.
type RiskThresholds struct {
	High   float64
	Medium float64
}

// DefaultRiskThresholds are 10% for high and 5% for medium.
var DefaultRiskThresholds = RiskThresholds{High: 0.10, Medium: 0.05}

// RiskConfig configures a RiskAgent.
type RiskConfig struct {
	HistorySize int
	Thresholds  RiskThresholds
}

// Assessment is the result of evaluating one token's history.
type Assessment struct {
	TokenID     string
	Severity    event.Severity
	PriceChange float64
	Volatility  float64
	Samples     int
}

// RiskAgent publishes RiskAlerts for large price moves.
type RiskAgent struct {
	*runtime.Runtime

	historySize int
	thresholds  RiskThresholds
	history     map[string]*PriceHistory
}

// NewRiskAgent builds a RiskAgent on a runtime configured by rp.
func NewRiskAgent(rp runtime.Params, cfg RiskConfig) *RiskAgent {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Thresholds.High <= 0 {
		cfg.Thresholds.High = DefaultRiskThresholds.High
	}
	if cfg.Thresholds.Medium <= 0 {
		cfg.Thresholds.Medium = DefaultRiskThresholds.Medium
	}
	if rp.Name == "" {
		rp.Name = "risk-assessment"
	}

	a := &RiskAgent{
		historySize: cfg.HistorySize,
		thresholds:  cfg.Thresholds,
		history:     make(map[string]*PriceHistory),
	}
	rp.Handler = a
	a.Runtime = runtime.New(rp)
	return a
}

// HandleMessage reacts to PriceUpdates and ignores everything else.
func (a *RiskAgent) HandleMessage(ctx context.Context, ev event.DomainEvent) error {
	switch e := ev.(type) {
	case *event.PriceUpdate:
		return a.onPrice(ctx, e)
	default:
		return nil
	}
}

func (a *RiskAgent) onPrice(ctx context.Context, pu *event.PriceUpdate) error {
	assessment, ok := a.Record(pu.Details.TokenID, pu.Details.Price)
	if !ok || assessment.Severity == event.SeverityLow {
		return nil
	}

	alert := &event.RiskAlert{
		Header: event.Header{
			Timestamp: a.Now().UnixMilli(),
			Sender:    a.Name(),
		},
		Details: event.RiskAlertDetails{
			Severity:    assessment.Severity,
			TokenID:     assessment.TokenID,
			PriceChange: assessment.PriceChange,
			Volatility:  assessment.Volatility,
			Message: fmt.Sprintf("%s moved %.2f%% across %d samples",
				assessment.TokenID, assessment.PriceChange*100, assessment.Samples),
		},
	}
	if err := a.Publish(ctx, alert); err != nil {
		return fmt.Errorf("publishing risk alert for %s: %w", assessment.TokenID, err)
	}
	return nil
}

// Record appends a price sample and assesses the token. ok is false until the
// token has at least two samples.
func (a *RiskAgent) Record(tokenID string, price float64) (Assessment, bool) {
	h, exists := a.history[tokenID]
	if !exists {
		h = NewPriceHistory(a.historySize)
		a.history[tokenID] = h
	}
	h.Push(price)

	if h.Len() < 2 {
		return Assessment{}, false
	}
	samples := h.Values()
	change := priceChange(samples)
	return Assessment{
		TokenID:     tokenID,
		Severity:    a.severity(change),
		PriceChange: change,
		Volatility:  volatility(samples),
		Samples:     len(samples),
	}, true
}

func (a *RiskAgent) severity(change float64) event.Severity {
	switch {
	case change >= a.thresholds.High:
		return event.SeverityHigh
	case change >= a.thresholds.Medium:
		return event.SeverityMedium
	default:
		return event.SeverityLow
	}
}

// History returns a copy of the retained samples for tokenID, oldest first.
func (a *RiskAgent) History(tokenID string) []float64 {
	h, ok := a.history[tokenID]
	if !ok {
		return nil
	}
	return h.Values()
}
