package domain

import (
	"fmt"
	"strings"
)

// QuoteMode is the quote currency the user wants prices in.
type QuoteMode string

const (
	QuoteUSDT      QuoteMode = "USDT"
	QuoteUSDC      QuoteMode = "USDC"
	QuoteUSDApprox QuoteMode = "USD≈"
)

func ParseQuoteMode(s string) (QuoteMode, error) {
	switch m := QuoteMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case QuoteUSDT, QuoteUSDC, QuoteUSDApprox:
		return m, nil
	case "USD":
		return QuoteUSDApprox, nil
	default:
		return "", fmt.Errorf("unknown quote mode %q", s)
	}
}

// Quote is the wire quote currency; USD≈ is served from USDT markets.
func (m QuoteMode) Quote() string {
	switch m {
	case QuoteUSDC:
		return "USDC"
	default:
		return "USDT"
	}
}

func (m QuoteMode) Label() string { return string(m) }

// SubscriptionScope selects which tokens get subscribed.
type SubscriptionScope string

const (
	ScopeVisible SubscriptionScope = "visible"
	ScopeAll     SubscriptionScope = "all"
)

// Settings are the user preferences the pipeline needs.
type Settings struct {
	QuoteMode  QuoteMode
	DataSource Source
	Scope      SubscriptionScope
}

func DefaultSettings() Settings {
	return Settings{
		QuoteMode:  QuoteUSDT,
		DataSource: SourceBinance,
		Scope:      ScopeVisible,
	}
}
