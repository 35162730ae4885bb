package port

import (
	"context"
	"time"

	"tokenbar/internal/domain"
)

// PriceRepository 只保存每个 symbol 的最新价格与状态变化
type PriceRepository interface {
	UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error
	PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error

	Close() error
}
