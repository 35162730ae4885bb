package coinbase

import (
	"context"
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

func TestParseTicker(t *testing.T) {
	msg := `{"type":"ticker","sequence":1,"product_id":"BTC-USD","price":"65000.00","open_24h":"64000.00","volume_24h":"1234.5","low_24h":"63000","high_24h":"66000"}`

	tick, err := parseTicker([]byte(msg), now)
	require.NoError(t, err)
	require.NotNil(t, tick)

	assert.Equal(t, domain.NewMarketPair("BTC", "USD", domain.SourceCoinbase), tick.Pair)
	assert.True(t, tick.Price.Equal(decimal.NewFromInt(65000)))
	assert.True(t, tick.PriceChange24h.Decimal.Equal(decimal.RequireFromString("1.5625")))
	assert.True(t, tick.Volume24h.Decimal.Equal(decimal.RequireFromString("1234.5")))
}

func TestParseTickerIgnoresOtherTypes(t *testing.T) {
	for _, msg := range []string{
		`{"type":"subscriptions","channels":[{"name":"ticker","product_ids":["USDT-USD"]}]}`,
		`{"type":"heartbeat"}`,
		`{}`,
	} {
		tick, err := parseTicker([]byte(msg), now)
		assert.NoError(t, err, msg)
		assert.Nil(t, tick, msg)
	}
}

func TestParseTickerErrors(t *testing.T) {
	_, err := parseTicker([]byte(`{"type":"error","message":"Failed to subscribe","reason":"BAD-PAIR is not a valid product"}`), now)
	assert.ErrorIs(t, err, errServerMessage)

	for _, msg := range []string{
		`nope`,
		`{"type":"ticker","product_id":"BTCUSD","price":"1"}`,
		`{"type":"ticker","product_id":"BTC-USD","price":""}`,
		`{"type":"ticker","product_id":"BTC-USD-X","price":"1"}`,
	} {
		_, err := parseTicker([]byte(msg), now)
		assert.ErrorIs(t, err, domain.ErrInvalidResponse, msg)
	}
}

func newTestFeed(t *testing.T, srv *exchangetest.Server) *TickerFeed {
	t.Helper()
	f := NewTickerFeed(exchange.Options{
		WsURL:            srv.WsURL(),
		Conn:             exchangetest.ConnConfig(),
		ThrottleInterval: time.Hour,
		Now:              func() time.Time { return now },
	})
	t.Cleanup(f.Disconnect)
	return f
}

func TestSubscribeFXRatesWireMessage(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	require.NoError(t, f.Connect(context.Background()))
	require.NoError(t, f.SubscribeFXRates(context.Background()))

	require.Eventually(t, func() bool { return len(srv.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["USDC-USD","USDT-USD"],"channels":["ticker"]}`, srv.Received()[0])
}

func TestSubscribeWithoutConnectionFails(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	err := f.SubscribeFXRates(context.Background())

	var subErr *domain.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, domain.ErrDisconnected)
}

func TestFXTicksAreCachedAndUnthrottled(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	f.handleMessage([]byte(`{"type":"ticker","product_id":"USDT-USD","price":"0.9998"}`))
	f.handleMessage([]byte(`{"type":"ticker","product_id":"USDT-USD","price":"0.9999"}`))
	f.handleMessage([]byte(`{"type":"ticker","product_id":"USDC-USD","price":"1.0001"}`))

	assert.Len(t, f.Ticks(), 3)
	rates := f.Rates()
	assert.True(t, rates["USDT"].Equal(decimal.RequireFromString("0.9999")))
	assert.True(t, rates["USDC"].Equal(decimal.RequireFromString("1.0001")))
}

func TestGeneralTicksAreThrottled(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)

	f.handleMessage([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"1"}`))
	f.handleMessage([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"2"}`))
	f.handleMessage([]byte(`{"type":"ticker","product_id":"ETH-USD","price":"3"}`))
	f.handleMessage([]byte(`{"type":"ticker","product_id":"ETH`))

	assert.Len(t, f.Ticks(), 2)
	assert.Empty(t, f.Rates())
}

func TestUpdatePairsDiffsSubscriptions(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)
	ctx := context.Background()

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.UpdatePairs(ctx, []domain.MarketPair{
		domain.NewMarketPair("BTC", "USD", domain.SourceCoinbase),
		domain.NewMarketPair("ETH", "USD", domain.SourceCoinbase),
	}))
	require.NoError(t, f.UpdatePairs(ctx, []domain.MarketPair{
		domain.NewMarketPair("ETH", "USD", domain.SourceCoinbase),
		domain.NewMarketPair("SOL", "USD", domain.SourceCoinbase),
	}))

	require.Eventually(t, func() bool { return len(srv.Received()) == 3 }, time.Second, 5*time.Millisecond)
	got := srv.Received()
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["BTC-USD","ETH-USD"],"channels":["ticker"]}`, got[0])
	assert.JSONEq(t, `{"type":"unsubscribe","product_ids":["BTC-USD"],"channels":["ticker"]}`, got[1])
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["SOL-USD"],"channels":["ticker"]}`, got[2])
}

func TestSubscriptionsReplayedOnConnect(t *testing.T) {
	srv := exchangetest.NewServer(t)
	f := newTestFeed(t, srv)
	ctx := context.Background()

	require.NoError(t, f.UpdatePairs(ctx, []domain.MarketPair{domain.NewMarketPair("BTC", "USD", domain.SourceCoinbase)}))
	assert.Empty(t, srv.Received())

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.SubscribeFXRates(ctx))
	require.Eventually(t, func() bool { return len(srv.Received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["BTC-USD"],"channels":["ticker"]}`, srv.Received()[0])

	srv.DropAll()
	require.Eventually(t, func() bool { return len(srv.Received()) == 3 }, 3*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["BTC-USD","USDC-USD","USDT-USD"],"channels":["ticker"]}`, srv.Received()[2])
	assert.True(t, f.IsConnected())
}
