// Package funding tracks realized funding payments per open trade and keeps
// a rolling per-symbol history of hourly funding rates for the position
// manager's Z_SCORE and FUNDING_VELOCITY exit rules to read.
package funding

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// defaultCapacity covers 9 days of hourly samples, more than the >=7 days
// of history spec's Z_SCORE rule requires before it is eligible to fire.
const defaultCapacity = 24 * 9

// RateSample is one hourly funding-rate observation for a symbol.
type RateSample struct {
	RateHourly decimal.Decimal
	ObservedAt time.Time
}

// HistoryRing is a fixed-capacity rolling buffer of RateSamples, generalizing
// the teacher's feeds.VolatilityTracker fixed-window slice (price series) to
// a funding-rate series. Oldest sample is dropped once capacity is exceeded.
type HistoryRing struct {
	mu       sync.RWMutex
	capacity int
	samples  []RateSample
}

// NewHistoryRing builds a ring with capacity (default defaultCapacity if <=0).
func NewHistoryRing(capacity int) *HistoryRing {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &HistoryRing{capacity: capacity, samples: make([]RateSample, 0, capacity)}
}

// Append records a new observation, evicting the oldest sample if full.
func (r *HistoryRing) Append(s RateSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	if len(r.samples) > r.capacity {
		r.samples = r.samples[len(r.samples)-r.capacity:]
	}
}

// Samples returns a copy of the current history, oldest first.
func (r *HistoryRing) Samples() []RateSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RateSample, len(r.samples))
	copy(out, r.samples)
	return out
}

// SpanHours returns the wall-clock duration, in hours, covered by the
// oldest and newest samples currently held.
func (r *HistoryRing) SpanHours() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.samples) < 2 {
		return decimal.Zero
	}
	d := r.samples[len(r.samples)-1].ObservedAt.Sub(r.samples[0].ObservedAt)
	return decimal.NewFromFloat(d.Hours())
}

// ZScore computes (current - mean) / stddev over the held history. ok is
// false when fewer than two samples are available or stddev is zero.
func (r *HistoryRing) ZScore(current decimal.Decimal) (value decimal.Decimal, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.samples)
	if n < 2 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for _, s := range r.samples {
		sum = sum.Add(s.RateHourly)
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))

	variance := decimal.Zero
	for _, s := range r.samples {
		diff := s.RateHourly.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(n)))
	stddev := variance.InexactFloat64()
	if stddev <= 0 {
		return decimal.Zero, false
	}
	stddevDec := decimal.NewFromFloat(math.Sqrt(stddev))
	if stddevDec.IsZero() {
		return decimal.Zero, false
	}
	return current.Sub(mean).Div(stddevDec), true
}

// VelocitySlope computes the ordinary-least-squares slope of rate (per
// hour) over the samples observed within the last windowHours, in units of
// rate-per-hour. ok is false when fewer than two samples fall in the window.
func (r *HistoryRing) VelocitySlope(windowHours int) (slope decimal.Decimal, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.samples) < 2 {
		return decimal.Zero, false
	}

	cutoff := r.samples[len(r.samples)-1].ObservedAt.Add(-time.Duration(windowHours) * time.Hour)
	var xs, ys []float64
	t0 := r.samples[0].ObservedAt
	for _, s := range r.samples {
		if s.ObservedAt.Before(cutoff) {
			continue
		}
		xs = append(xs, s.ObservedAt.Sub(t0).Hours())
		ys = append(ys, s.RateHourly.InexactFloat64())
	}
	if len(xs) < 2 {
		return decimal.Zero, false
	}

	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return decimal.Zero, false
	}
	m := (n*sumXY - sumX*sumY) / denom
	return decimal.NewFromFloat(m), true
}
