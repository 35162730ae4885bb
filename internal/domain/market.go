package domain

import (
	"fmt"
	"strings"
)

// Source identifies the exchange a pair is traded on.
type Source string

const (
	SourceBinance  Source = "binance"
	SourceCoinbase Source = "coinbase"
	SourceBitstamp Source = "bitstamp"
)

// ParseSource accepts any casing and surrounding whitespace.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceBinance, SourceCoinbase, SourceBitstamp:
		return src, nil
	default:
		return "", fmt.Errorf("unknown data source %q", s)
	}
}

// MarketPair is a base asset quoted in a currency on one exchange.
// Pairs are comparable and used directly as map keys.
type MarketPair struct {
	Base   string
	Quote  string
	Source Source
}

// NewMarketPair normalizes base and quote to upper case.
func NewMarketPair(base, quote string, source Source) MarketPair {
	return MarketPair{
		Base:   strings.ToUpper(strings.TrimSpace(base)),
		Quote:  strings.ToUpper(strings.TrimSpace(quote)),
		Source: source,
	}
}

// Symbol 交易对符号，例: BTCUSDT
func (p MarketPair) Symbol() string { return p.Base + p.Quote }

func (p MarketPair) DisplaySymbol() string { return p.Base }

func (p MarketPair) String() string {
	return fmt.Sprintf("%s/%s@%s", p.Base, p.Quote, p.Source)
}

// TradingViewSymbol returns the chart identifier, e.g. BINANCE:BTCUSDT.
func (p MarketPair) TradingViewSymbol() string {
	return strings.ToUpper(string(p.Source)) + ":" + p.Base + p.Quote
}

// ExchangeURL is the venue's trading page for the pair.
func (p MarketPair) ExchangeURL() string {
	switch p.Source {
	case SourceBinance:
		return fmt.Sprintf("https://www.binance.com/en/trade/%s_%s", p.Base, p.Quote)
	case SourceCoinbase:
		return fmt.Sprintf("https://www.coinbase.com/advanced-trade/spot/%s-%s", p.Base, p.Quote)
	case SourceBitstamp:
		return fmt.Sprintf("https://www.bitstamp.net/markets/%s/%s/", strings.ToLower(p.Base), strings.ToLower(p.Quote))
	default:
		return ""
	}
}
