package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the price movement direction
type Direction int

const (
	DirectionSame Direction = 0
	DirectionUp   Direction = +1
	DirectionDown Direction = -1
)

// DirectionOf compares next against prev.
func DirectionOf(prev, next decimal.Decimal) Direction {
	switch next.Cmp(prev) {
	case 1:
		return DirectionUp
	case -1:
		return DirectionDown
	default:
		return DirectionSame
	}
}

// PriceTick is one price observation produced by a provider.
type PriceTick struct {
	Pair           MarketPair
	Price          decimal.Decimal
	Timestamp      time.Time
	Volume24h      decimal.NullDecimal
	PriceChange24h decimal.NullDecimal
}

// PriceStatus of an aggregated entry.
type PriceStatus string

const (
	StatusLive         PriceStatus = "live"
	StatusStale        PriceStatus = "stale"
	StatusDisconnected PriceStatus = "disconnected"
	StatusUnavailable  PriceStatus = "unavailable"
)

// AggregatedPrice is the USD-normalized view of the latest tick for a symbol.
// Entries are replaced wholesale, never mutated in place.
type AggregatedPrice struct {
	Symbol         string
	Price          decimal.Decimal
	DisplayPrice   string
	QuoteMode      QuoteMode
	PriceChange24h decimal.NullDecimal
	Direction      Direction
	LastUpdate     time.Time
	Status         PriceStatus
}

// Unavailable is the placeholder read back for symbols that never ticked.
func Unavailable(symbol string, mode QuoteMode) AggregatedPrice {
	return AggregatedPrice{
		Symbol:       symbol,
		DisplayPrice: "--",
		QuoteMode:    mode,
		Status:       StatusUnavailable,
	}
}
