package bitstamp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
	"tokenbar/internal/infrastructure/exchange/exchangetest"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "live_trades_btcusd", ChannelName(domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)))
}

func TestPairFromChannel(t *testing.T) {
	cases := map[string]domain.MarketPair{
		"live_trades_btcusd":  domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp),
		"live_trades_ethusdt": domain.NewMarketPair("ETH", "USDT", domain.SourceBitstamp),
		"live_trades_solusdc": domain.NewMarketPair("SOL", "USDC", domain.SourceBitstamp),
		"live_trades_xrpeur":  domain.NewMarketPair("XRP", "EUR", domain.SourceBitstamp),
		"live_trades_ethbtc":  domain.NewMarketPair("ETH", "BTC", domain.SourceBitstamp),
	}
	for ch, want := range cases {
		got, ok := pairFromChannel(ch)
		require.True(t, ok, ch)
		assert.Equal(t, want, got, ch)
	}

	_, ok := pairFromChannel("order_book_btcusd")
	assert.False(t, ok)
	_, ok = pairFromChannel("live_trades_btcjpy")
	assert.False(t, ok)
}

func TestParseTradeQuotedAndBare(t *testing.T) {
	pair := domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)

	tick, err := parseTrade(json.RawMessage(`{"price":"65000.5","amount":"0.01","timestamp":"1700000000"}`), pair, now)
	require.NoError(t, err)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("65000.5")))
	assert.Equal(t, pair, tick.Pair)

	tick, err = parseTrade(json.RawMessage(`{"price":65001,"amount":0.5,"timestamp":1700000000}`), pair, now)
	require.NoError(t, err)
	assert.True(t, tick.Price.Equal(decimal.NewFromInt(65001)))
}

func TestParseTradeRejectsBadData(t *testing.T) {
	pair := domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)
	for _, raw := range []string{``, `null`, `{"price":"abc"}`, `{"amount":"1"}`, `[]`} {
		_, err := parseTrade(json.RawMessage(raw), pair, now)
		assert.ErrorIs(t, err, domain.ErrInvalidResponse, raw)
	}
}

func newTestFeed(t *testing.T, srv *exchangetest.Server) *TradeFeed {
	t.Helper()
	f := NewTradeFeed(exchange.Options{
		WsURL: srv.WsURL(),
		Conn:  exchangetest.ConnConfig(),
		Now:   func() time.Time { return now },
	})
	t.Cleanup(f.Disconnect)
	return f
}

func TestHandleMessageDispatchesTradesOnly(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	f.handleMessage([]byte(`{"event":"bts:subscription_succeeded","channel":"live_trades_btcusd","data":{}}`))
	f.handleMessage([]byte(`{"event":"trade","channel":"live_trades_btcusd","data":{"price":"65000","amount":"0.1"}}`))
	f.handleMessage([]byte(`{"event":"trade","channel":"live_trades_btcusd","data":{"price":"oops"}}`))
	f.handleMessage([]byte(`{"event":"trade","channel":"unknown","data":{"price":"1"}}`))
	f.handleMessage([]byte(`{{{`))

	require.Len(t, f.Ticks(), 1)
	tick := <-f.Ticks()
	assert.Equal(t, "BTC", tick.Pair.Base)
	assert.Equal(t, "USD", tick.Pair.Quote)
	assert.False(t, f.IsConnected())
}

func TestSubscribeSendsOneMessagePerPair(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)
	ctx := context.Background()

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.Subscribe(ctx, []domain.MarketPair{
		domain.NewMarketPair("ETH", "USD", domain.SourceBitstamp),
		domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp),
	}))
	require.NoError(t, f.Unsubscribe(ctx, []domain.MarketPair{domain.NewMarketPair("ETH", "USD", domain.SourceBitstamp)}))

	require.Eventually(t, func() bool { return len(srv.Received()) == 3 }, time.Second, 5*time.Millisecond)
	got := srv.Received()
	assert.JSONEq(t, `{"event":"bts:subscribe","data":{"channel":"live_trades_btcusd"}}`, got[0])
	assert.JSONEq(t, `{"event":"bts:subscribe","data":{"channel":"live_trades_ethusd"}}`, got[1])
	assert.JSONEq(t, `{"event":"bts:unsubscribe","data":{"channel":"live_trades_ethusd"}}`, got[2])
}

func TestSubscribeFailureNamesPair(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	err := f.Subscribe(context.Background(), []domain.MarketPair{domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)})

	var subErr *domain.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "BTC", subErr.Pair.Base)
	assert.ErrorIs(t, err, domain.ErrDisconnected)
}

func TestUpdatePairsReplaysAfterReconnect(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)
	ctx := context.Background()

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.UpdatePairs(ctx, []domain.MarketPair{domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)}))
	require.Eventually(t, func() bool { return len(srv.Received()) == 1 }, time.Second, 5*time.Millisecond)

	srv.DropAll()
	require.Eventually(t, func() bool { return len(srv.Received()) == 2 && f.IsConnected() }, 3*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"event":"bts:subscribe","data":{"channel":"live_trades_btcusd"}}`, srv.Received()[1])
}

func TestRequestReconnectReopensAndReplays(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)
	ctx := context.Background()

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.UpdatePairs(ctx, []domain.MarketPair{domain.NewMarketPair("BTC", "USD", domain.SourceBitstamp)}))

	f.handleMessage([]byte(`{"event":"bts:request_reconnect","channel":"","data":{}}`))
	require.Eventually(t, func() bool {
		return srv.Accepted() == 2 && len(srv.Received()) == 2 && f.IsConnected()
	}, 3*time.Second, 5*time.Millisecond)
}

func TestRequestReconnectIgnoredAfterDisconnect(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	require.NoError(t, f.Connect(context.Background()))
	f.Disconnect()

	f.handleMessage([]byte(`{"event":"bts:request_reconnect","channel":"","data":{}}`))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, srv.Accepted())
	assert.False(t, f.IsConnected())
}
