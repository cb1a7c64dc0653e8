package projection

import (
	"strconv"
	"sync"

	"hyperdrived/internal/fixedmath"
)

// LPPriceSample is one observation of the LP share price.
type LPPriceSample struct {
	PoolID       string
	Sequence     int64
	PoolTime     uint64
	LpSharePrice fixedmath.FixedPoint
	LpSupply     fixedmath.FixedPoint
}

// LPPriceHistory maintains a queryable in-memory LP share price series. The
// durable copy lives in projections.lp_price_history; this keeps the hot
// window for the query API without a DB round trip.
type LPPriceHistory struct {
	mu      sync.RWMutex
	samples []LPPriceSample
	maxLen  int
}

func NewLPPriceHistory() *LPPriceHistory {
	return &LPPriceHistory{
		samples: make([]LPPriceSample, 0),
		maxLen:  10_000,
	}
}

// AddSample appends an observation, evicting the oldest past the window.
func (p *LPPriceHistory) AddSample(s LPPriceSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, s)
	if len(p.samples) > p.maxLen {
		p.samples = p.samples[len(p.samples)-p.maxLen:]
	}
}

// Recent returns up to limit samples for a pool, newest first.
func (p *LPPriceHistory) Recent(poolID string, limit int) []LPPriceSample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LPPriceSample, 0, limit)
	for i := len(p.samples) - 1; i >= 0 && len(result) < limit; i-- {
		if p.samples[i].PoolID == poolID {
			result = append(result, p.samples[i])
		}
	}
	return result
}

// Latest returns the newest sample for a pool, if any.
func (p *LPPriceHistory) Latest(poolID string) (LPPriceSample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for i := len(p.samples) - 1; i >= 0; i-- {
		if p.samples[i].PoolID == poolID {
			return p.samples[i], true
		}
	}
	return LPPriceSample{}, false
}

// toFloat renders a decimal string as float64 for gauges. Precision loss is
// acceptable for metrics.
func toFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
