package monitor

import (
	"context"
	"time"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

type noopRepo struct{}

func NewNoopRepo() port.PriceRepository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	return nil
}
func (n *noopRepo) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	return nil
}
func (n *noopRepo) Close() error { return nil }
