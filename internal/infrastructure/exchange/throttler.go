package exchange

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultThrottleInterval 单个 symbol 两次发射的最小间隔
const DefaultThrottleInterval = 100 * time.Millisecond

// Throttler 按 symbol 限流：每个 symbol 一个 burst=1 的令牌桶，
// 被拒绝的 tick 直接丢弃，不做合并。
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewThrottler(minInterval time.Duration) *Throttler {
	return NewThrottlerWithClock(minInterval, time.Now)
}

func NewThrottlerWithClock(minInterval time.Duration, now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	return &Throttler{
		interval: minInterval,
		limiters: make(map[string]*rate.Limiter),
		now:      now,
	}
}

// ShouldEmit 检查并记录：首个 tick 必过，此后距上次放行不足 interval 的被拒绝。
func (t *Throttler) ShouldEmit(symbol string) bool {
	if t.interval <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[symbol] = lim
	}
	return lim.AllowN(t.now(), 1)
}

// Reset 清空所有 symbol 的状态
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters = make(map[string]*rate.Limiter)
}
