package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

// PriceService 把聚合后的价格表落到 repository；状态只在变化时发布
type PriceService struct {
	repo port.PriceRepository

	mu     sync.Mutex
	status map[string]domain.PriceStatus
}

func NewPriceService(repo port.PriceRepository) *PriceService {
	return &PriceService{repo: repo, status: make(map[string]domain.PriceStatus)}
}

// Record 按 symbol 顺序写入；unavailable 的占位不写价格。单个失败不影响其它 symbol。
// 不在本次表中的 symbol 会被遗忘，重新出现时再发布一次状态。
func (s *PriceService) Record(ctx context.Context, prices map[string]domain.AggregatedPrice, now time.Time) error {
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var errs []error
	for _, sym := range symbols {
		p := prices[sym]
		if p.Status != domain.StatusUnavailable {
			if err := s.repo.UpsertLatestPrice(ctx, p); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := s.publishIfChanged(ctx, sym, p.Status, now); err != nil {
			errs = append(errs, err)
		}
	}
	s.forgetMissing(prices)
	return errors.Join(errs...)
}

func (s *PriceService) publishIfChanged(ctx context.Context, symbol string, st domain.PriceStatus, now time.Time) error {
	s.mu.Lock()
	prev, ok := s.status[symbol]
	s.mu.Unlock()
	if ok && prev == st {
		return nil
	}
	if err := s.repo.PublishStatus(ctx, symbol, st, now); err != nil {
		return err
	}
	s.mu.Lock()
	s.status[symbol] = st
	s.mu.Unlock()
	return nil
}

func (s *PriceService) forgetMissing(prices map[string]domain.AggregatedPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym := range s.status {
		if _, ok := prices[sym]; !ok {
			delete(s.status, sym)
		}
	}
}
