package composite

import (
	"context"
	"errors"
	"time"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

// Repo 写操作扇出到所有 repo，全部尝试后返回第一个错误
type Repo struct {
	repos []port.PriceRepository
}

func New(repos ...port.PriceRepository) *Repo {
	out := make([]port.PriceRepository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestPrice(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.PublishStatus(ctx, symbol, status, ts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close 子 repo 的连接归 container 管，这里只汇总 repo 自身的 Close
func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		errs = append(errs, repo.Close())
	}
	return errors.Join(errs...)
}

var _ port.PriceRepository = (*Repo)(nil)
