package coinbase

import (
	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
	"tokenbar/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(domain.SourceCoinbase, func(opts exchange.Options) port.MarketFeed {
		return NewTickerFeed(opts)
	})
}
