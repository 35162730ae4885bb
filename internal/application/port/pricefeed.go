package port

import (
	"context"

	"tokenbar/internal/domain"
)

// PriceFeed 单个交易所的实时行情源。
// Ticks 在整个生命周期内是同一个通道，重连不会替换它。
type PriceFeed interface {
	Name() string
	Source() domain.Source

	Connect(ctx context.Context) error
	Disconnect()

	Subscribe(ctx context.Context, pairs []domain.MarketPair) error
	Unsubscribe(ctx context.Context, pairs []domain.MarketPair) error

	IsConnected() bool
	// ReconnectExhausted 自动重连已放弃，需要外部重新 Connect
	ReconnectExhausted() bool

	Ticks() <-chan domain.PriceTick
}

// MarketFeed 主行情源：接受完整的目标集合，自行决定增量订阅还是重连。
type MarketFeed interface {
	PriceFeed
	UpdatePairs(ctx context.Context, pairs []domain.MarketPair) error
}

// FXFeed 稳定币汇率源，tick 以 USDT/USD、USDC/USD 的形式出现在 Ticks 上。
type FXFeed interface {
	PriceFeed
	SubscribeFXRates(ctx context.Context) error
}
