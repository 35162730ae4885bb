package binance

import (
	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
	"tokenbar/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(domain.SourceBinance, func(opts exchange.Options) port.MarketFeed {
		return NewFuturesTickerFeed(opts)
	})
}
