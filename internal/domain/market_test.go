package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketPairSymbol(t *testing.T) {
	pair := NewMarketPair("btc", "usdt", SourceBinance)

	assert.Equal(t, "BTCUSDT", pair.Symbol())
	assert.Equal(t, "BTC", pair.DisplaySymbol())
	assert.Equal(t, "BINANCE:BTCUSDT", pair.TradingViewSymbol())
}

func TestMarketPairTradingViewSymbolPerSource(t *testing.T) {
	assert.Equal(t, "BINANCE:ETHUSDT", NewMarketPair("ETH", "USDT", SourceBinance).TradingViewSymbol())
	assert.Equal(t, "COINBASE:BTCUSD", NewMarketPair("BTC", "USD", SourceCoinbase).TradingViewSymbol())
	assert.Equal(t, "BITSTAMP:BTCEUR", NewMarketPair("btc", "eur", SourceBitstamp).TradingViewSymbol())
}

func TestMarketPairExchangeURL(t *testing.T) {
	assert.Contains(t, NewMarketPair("BTC", "USDT", SourceBinance).ExchangeURL(), "binance.com/en/trade/BTC_USDT")
	assert.Contains(t, NewMarketPair("BTC", "USD", SourceCoinbase).ExchangeURL(), "coinbase.com/advanced-trade/spot/BTC-USD")
	assert.Equal(t, "https://www.bitstamp.net/markets/btc/usd/", NewMarketPair("BTC", "USD", SourceBitstamp).ExchangeURL())
}

func TestMarketPairIsComparableKey(t *testing.T) {
	set := map[MarketPair]struct{}{}
	set[NewMarketPair("btc", "usdt", SourceBinance)] = struct{}{}
	set[NewMarketPair("BTC", "USDT", SourceBinance)] = struct{}{}
	set[NewMarketPair("BTC", "USDT", SourceCoinbase)] = struct{}{}

	assert.Len(t, set, 2)
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource(" Coinbase ")
	require.NoError(t, err)
	assert.Equal(t, SourceCoinbase, src)

	_, err = ParseSource("kraken")
	assert.Error(t, err)
}

func TestQuoteMode(t *testing.T) {
	assert.Equal(t, "USDT", QuoteUSDT.Quote())
	assert.Equal(t, "USDC", QuoteUSDC.Quote())
	assert.Equal(t, "USDT", QuoteUSDApprox.Quote())
	assert.Equal(t, "USD≈", QuoteUSDApprox.Label())

	m, err := ParseQuoteMode("usdc")
	require.NoError(t, err)
	assert.Equal(t, QuoteUSDC, m)

	m, err = ParseQuoteMode("USD")
	require.NoError(t, err)
	assert.Equal(t, QuoteUSDApprox, m)

	_, err = ParseQuoteMode("EUR")
	assert.Error(t, err)
}

func TestDefaultTokens(t *testing.T) {
	tokens := DefaultTokens()

	require.Len(t, tokens, 5)
	assert.Equal(t, []string{"BTC", "ETH", "SOL", "BNB", "XMR"}, SubscribedSymbols(tokens, ScopeVisible))
	assert.NotEqual(t, tokens[0].ID, tokens[1].ID)
}

func TestSubscribedSymbolsScopeAndOrder(t *testing.T) {
	tokens := []Token{
		NewToken("eth", true, 2),
		NewToken("btc", true, 0),
		NewToken("sol", false, 1),
		NewToken("BTC", true, 3),
	}

	assert.Equal(t, []string{"BTC", "ETH"}, SubscribedSymbols(tokens, ScopeVisible))
	assert.Equal(t, []string{"BTC", "SOL", "ETH"}, SubscribedSymbols(tokens, ScopeAll))
}

func TestSubscriptionErrorUnwrap(t *testing.T) {
	err := &SubscriptionError{Pair: NewMarketPair("BTC", "USD", SourceBitstamp), Reason: "send failed", Err: ErrDisconnected}

	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Contains(t, err.Error(), "BTC/USD@bitstamp")
}
