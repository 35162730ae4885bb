// Package storage 内存版 PriceRepository；关闭持久化时用于 dry-run 与测试
package storage

import (
	"context"
	"sync"
	"time"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

// StatusRecord 一次状态变化
type StatusRecord struct {
	Symbol    string
	Status    domain.PriceStatus
	Timestamp time.Time
}

type InMemoryPriceRepository struct {
	mu       sync.RWMutex
	latest   map[string]domain.AggregatedPrice
	statuses []StatusRecord
}

func NewInMemoryPriceRepository() *InMemoryPriceRepository {
	return &InMemoryPriceRepository{
		latest: make(map[string]domain.AggregatedPrice),
	}
}

func (r *InMemoryPriceRepository) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	r.mu.Lock()
	r.latest[p.Symbol] = p
	r.mu.Unlock()
	return nil
}

func (r *InMemoryPriceRepository) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, StatusRecord{Symbol: symbol, Status: status, Timestamp: ts})
	r.mu.Unlock()
	return nil
}

func (r *InMemoryPriceRepository) Latest(symbol string) (domain.AggregatedPrice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.latest[symbol]
	return p, ok
}

func (r *InMemoryPriceRepository) Statuses() []StatusRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StatusRecord(nil), r.statuses...)
}

func (r *InMemoryPriceRepository) Close() error { return nil }

var _ port.PriceRepository = (*InMemoryPriceRepository)(nil)
