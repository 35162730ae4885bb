package factory

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/config"
	"tokenbar/internal/infrastructure/exchange"
	"tokenbar/internal/infrastructure/exchange/coinbase"
	"tokenbar/internal/infrastructure/pricefeed"

	// 各交易所包在 init() 中向 pricefeed 注册
	_ "tokenbar/internal/infrastructure/exchange/binance"
	_ "tokenbar/internal/infrastructure/exchange/bitstamp"
)

// Options 某个数据源的公共连接参数
func Options(cfg *config.Config, src domain.Source) exchange.Options {
	opts := exchange.DefaultOptions(cfg.WsURL(src))
	opts.Conn = cfg.ConnConfig()
	opts.ThrottleInterval = cfg.ThrottleInterval()
	return opts
}

// NewPrimaryFactory 按 settings.DataSource 从注册表取工厂，每次 Start 都会调用
func NewPrimaryFactory(cfg *config.Config) func(domain.Settings) (port.MarketFeed, error) {
	return func(settings domain.Settings) (port.MarketFeed, error) {
		f, ok := pricefeed.Get(settings.DataSource)
		if !ok {
			return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownSource, settings.DataSource, pricefeed.Sources())
		}
		feed := f(Options(cfg, settings.DataSource))
		log.Info().Str("feed", feed.Name()).Msg("primary feed initialized")
		return feed, nil
	}
}

// NewFXFactory 汇率固定走 coinbase
func NewFXFactory(cfg *config.Config) func() port.FXFeed {
	return func() port.FXFeed {
		return coinbase.NewTickerFeed(Options(cfg, domain.SourceCoinbase))
	}
}
