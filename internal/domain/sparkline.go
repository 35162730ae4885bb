package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultSparklineWindow    = 60 * time.Second
	DefaultSparklineMaxPoints = 60
)

type sparkPoint struct {
	ts    time.Time
	price decimal.Decimal
}

// SparklineBuffer keeps a trailing, count-capped price history for one symbol.
// Safe for one writer and any number of concurrent readers.
type SparklineBuffer struct {
	mu        sync.RWMutex
	window    time.Duration
	maxPoints int
	now       func() time.Time
	points    []sparkPoint
}

func NewSparklineBuffer(window time.Duration, maxPoints int) *SparklineBuffer {
	return NewSparklineBufferWithClock(window, maxPoints, time.Now)
}

func NewSparklineBufferWithClock(window time.Duration, maxPoints int, now func() time.Time) *SparklineBuffer {
	if window <= 0 {
		window = DefaultSparklineWindow
	}
	if maxPoints <= 0 {
		maxPoints = DefaultSparklineMaxPoints
	}
	if now == nil {
		now = time.Now
	}
	return &SparklineBuffer{
		window:    window,
		maxPoints: maxPoints,
		now:       now,
		points:    make([]sparkPoint, 0, maxPoints),
	}
}

// Add appends price, evicts points outside the window, then downsamples to the cap.
func (b *SparklineBuffer) Add(price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.points = append(b.points, sparkPoint{ts: now, price: price})

	cutoff := now.Add(-b.window)
	kept := b.points[:0]
	for _, p := range b.points {
		if !p.ts.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	b.points = kept

	if len(b.points) > b.maxPoints {
		b.points = downsample(b.points, b.maxPoints)
	}
}

// downsample picks count points at a uniform stride; no averaging.
func downsample(in []sparkPoint, count int) []sparkPoint {
	if len(in) <= count {
		return in
	}
	step := float64(len(in)) / float64(count)
	out := make([]sparkPoint, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, in[int(float64(i)*step)])
	}
	return out
}

func (b *SparklineBuffer) Points() []decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]decimal.Decimal, len(b.points))
	for i, p := range b.points {
		out[i] = p.price
	}
	return out
}

func (b *SparklineBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.points)
}

// NormalizedPoints min-max scales the series into [0,1].
// Fewer than two points yields nil; a flat series yields all 0.5.
func (b *SparklineBuffer) NormalizedPoints() []float64 {
	prices := b.Points()
	if len(prices) < 2 {
		return nil
	}

	minV, maxV := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(minV) {
			minV = p
		}
		if p.GreaterThan(maxV) {
			maxV = p
		}
	}

	out := make([]float64, len(prices))
	if !maxV.GreaterThan(minV) {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}

	span := maxV.Sub(minV)
	for i, p := range prices {
		v, _ := p.Sub(minV).Div(span).Float64()
		out[i] = clamp01(v)
	}
	return out
}

func (b *SparklineBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = b.points[:0]
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
