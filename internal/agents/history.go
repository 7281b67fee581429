// ABOUTME: Fixed-capacity price ring buffer kept per token by the risk agent
// ABOUTME: Oldest sample is evicted when a push exceeds capacity

package agents

import "math"

// DefaultHistorySize is the number of samples kept per token.
const DefaultHistorySize = 24

// PriceHistory is a ring buffer of the most recent prices for one token.
type PriceHistory struct {
	buf   []float64
	start int
	size  int
}

// NewPriceHistory creates a history holding up to capacity samples.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &PriceHistory{buf: make([]float64, capacity)}
}

// Push appends price, evicting the oldest sample when full.
func (h *PriceHistory) Push(price float64) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = price
		h.size++
		return
	}
	h.buf[h.start] = price
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained samples.
func (h *PriceHistory) Len() int { return h.size }

// Cap returns the capacity.
func (h *PriceHistory) Cap() int { return len(h.buf) }

// Values returns the samples oldest first.
func (h *PriceHistory) Values() []float64 {
	out := make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// priceChange is |latest - oldest| / oldest.
func priceChange(samples []float64) float64 {
	if len(samples) < 2 || samples[0] == 0 {
		return 0
	}
	return math.Abs(samples[len(samples)-1]-samples[0]) / samples[0]
}

// volatility is the population standard deviation of consecutive returns.
func volatility(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(samples)-1)
	for i := 0; i+1 < len(samples); i++ {
		if samples[i] == 0 {
			continue
		}
		returns = append(returns, (samples[i+1]-samples[i])/samples[i])
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(returns)))
}
