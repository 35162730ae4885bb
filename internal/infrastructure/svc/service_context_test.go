package svc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/config"
	"tokenbar/internal/infrastructure/exchange/exchangetest"
)

type discardSink struct{}

func (discardSink) WriteLive(string) error                { return nil }
func (discardSink) WriteSnapshot(time.Time, string) error { return nil }
func (discardSink) NewLine() error                        { return nil }

func testConfig(binanceURL, coinbaseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Tokens.List = []string{"BTC", "ETH"}
	cfg.Settings.QuoteMode = "USDT"
	cfg.Settings.DataSource = "binance"
	cfg.Settings.Scope = "visible"
	cfg.Connection.MaxRetries = 2
	cfg.Connection.InitialDelayMs = 5
	cfg.Connection.MaxDelaySec = 1
	cfg.Connection.ReadTimeoutSec = 5
	cfg.Connection.HandshakeTimeoutSec = 2
	cfg.Connection.WriteTimeoutSec = 1
	cfg.Throttle.IntervalMs = 100
	cfg.Aggregator.WatchdogIntervalSec = 3600
	cfg.Aggregator.StaleThresholdSec = 30
	cfg.Aggregator.StaleConfirmations = 2
	cfg.Aggregator.MaxFXDeviation = 0.1
	cfg.Sparkline.WindowSec = 60
	cfg.Sparkline.MaxPoints = 60
	cfg.Governor.MaxConnections = 3
	cfg.Governor.MaxSubscriptions = 200
	cfg.App.RenderEverySec = 1
	cfg.App.PersistEverySec = 1
	cfg.Exchange.Binance.WsURL = binanceURL
	cfg.Exchange.Coinbase.WsURL = coinbaseURL
	return cfg
}

func TestServiceContextStartAndReload(t *testing.T) {
	bin := exchangetest.NewServer(t)
	cb := exchangetest.NewServer(t)

	sc, err := New(testConfig(bin.WsURL(), cb.WsURL()), discardSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	ctx := context.Background()
	require.NoError(t, sc.Start(ctx))
	require.Eventually(t, func() bool { return len(bin.Queries()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "streams=btcusdt@miniTicker/ethusdt@miniTicker", bin.Queries()[0])
	assert.Equal(t, 2, sc.Governor().ActiveConnections())

	bin.Push(t, `{"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"65000","o":"65000"}}`)
	require.Eventually(t, func() bool {
		return sc.Aggregator().Price("BTC").Status == domain.StatusLive
	}, 2*time.Second, 5*time.Millisecond)

	next := testConfig(bin.WsURL(), cb.WsURL())
	next.Settings.QuoteMode = "USDC"
	require.NoError(t, sc.Reload(ctx, next))
	require.Eventually(t, func() bool { return len(bin.Queries()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "streams=btcusdc@miniTicker/ethusdc@miniTicker", bin.Queries()[1])
	assert.Equal(t, domain.QuoteUSDC, sc.Aggregator().Settings().QuoteMode)
}

func TestServiceContextUnknownSourceFailsStart(t *testing.T) {
	cb := exchangetest.NewServer(t)
	cfg := testConfig("ws://127.0.0.1:1", cb.WsURL())
	cfg.Settings.DataSource = "kraken"

	sc, err := New(cfg, discardSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	assert.Error(t, sc.Start(context.Background()))
}

func TestReloadStartsAfterFailedStart(t *testing.T) {
	bin := exchangetest.NewServer(t)
	cb := exchangetest.NewServer(t)

	sc, err := New(testConfig("ws://127.0.0.1:1", cb.WsURL()), discardSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	ctx := context.Background()
	require.Error(t, sc.Start(ctx))
	assert.False(t, sc.Aggregator().Running())

	require.NoError(t, sc.Reload(ctx, testConfig(bin.WsURL(), cb.WsURL())))
	require.Eventually(t, func() bool { return bin.Accepted() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, sc.Aggregator().Running())
	assert.Equal(t, "streams=btcusdt@miniTicker/ethusdt@miniTicker", bin.Queries()[0])
	assert.Equal(t, 2, sc.Governor().ActiveConnections())
}
