package exchange

import (
	"sort"
	"sync"

	"tokenbar/internal/domain"
)

// SubscriptionDiff 记录当前订阅集合，计算与目标集合的增减。
type SubscriptionDiff struct {
	mu      sync.Mutex
	current map[domain.MarketPair]struct{}
}

func NewSubscriptionDiff() *SubscriptionDiff {
	return &SubscriptionDiff{current: make(map[domain.MarketPair]struct{})}
}

// Compute 返回 desired-current 与 current-desired，并把 desired 记为当前集合。
func (d *SubscriptionDiff) Compute(desired []domain.MarketPair) (toSubscribe, toUnsubscribe []domain.MarketPair) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[domain.MarketPair]struct{}, len(desired))
	for _, p := range desired {
		next[p] = struct{}{}
	}
	for p := range next {
		if _, ok := d.current[p]; !ok {
			toSubscribe = append(toSubscribe, p)
		}
	}
	for p := range d.current {
		if _, ok := next[p]; !ok {
			toUnsubscribe = append(toUnsubscribe, p)
		}
	}
	d.current = next

	SortPairs(toSubscribe)
	SortPairs(toUnsubscribe)
	return toSubscribe, toUnsubscribe
}

func (d *SubscriptionDiff) Current() []domain.MarketPair {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.MarketPair, 0, len(d.current))
	for p := range d.current {
		out = append(out, p)
	}
	SortPairs(out)
	return out
}

func (d *SubscriptionDiff) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = make(map[domain.MarketPair]struct{})
}

// SortPairs 按 symbol、source 排序，保证输出稳定
func SortPairs(pairs []domain.MarketPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Symbol() != pairs[j].Symbol() {
			return pairs[i].Symbol() < pairs[j].Symbol()
		}
		return pairs[i].Source < pairs[j].Source
	})
}
