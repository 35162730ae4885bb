package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[tokens]
list = ["btc", " eth ", "BTC", ""]
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Tokens.List)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, time.Second, cfg.RenderEvery())
	assert.Equal(t, 5*time.Second, cfg.PersistEvery())
	assert.Zero(t, cfg.SnapshotEvery())
	assert.Equal(t, domain.DefaultSettings(), cfg.UserSettings())
	assert.Equal(t, 100*time.Millisecond, cfg.ThrottleInterval())
	assert.Equal(t, 10*time.Second, cfg.WatchdogInterval())
	assert.Equal(t, 30*time.Second, cfg.StaleThreshold())
	assert.Equal(t, 2, cfg.Aggregator.StaleConfirmations)
	assert.Equal(t, "0.1", cfg.MaxFXDeviation().String())
	assert.Equal(t, time.Minute, cfg.SparklineWindow())
	assert.Equal(t, 3, cfg.Governor.MaxConnections)
	assert.Equal(t, 200, cfg.Governor.MaxSubscriptions)
	assert.Equal(t, "tokenbar", cfg.Storage.Redis.Prefix)
	assert.Equal(t, 100, cfg.Storage.MaxStatusEvents)

	conn := cfg.ConnConfig()
	assert.Equal(t, 10, conn.Retry.MaxRetries)
	assert.Equal(t, time.Second, conn.Retry.InitialDel)
	assert.Equal(t, 60*time.Second, conn.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, conn.PingInterval)
	assert.Equal(t, 60*time.Second, conn.ReadTimeout)
	assert.Equal(t, time.Second, conn.SettleDelay)
}

func TestLoadReadsSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[app]
render_every_sec = 2
snapshot_every_min = 5

[tokens]
list = ["BTC", "ETH", "XMR"]
hidden = ["xmr"]

[settings]
quote_mode = "usdc"
data_source = "Coinbase"
scope = "all"

[connection]
max_retries = 4
initial_delay_ms = 250

[exchange.coinbase]
ws_url = "wss://example.test/ws"
`))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.RenderEvery())
	assert.Equal(t, 5*time.Minute, cfg.SnapshotEvery())
	assert.Equal(t, domain.Settings{
		QuoteMode:  domain.QuoteUSDC,
		DataSource: domain.SourceCoinbase,
		Scope:      domain.ScopeAll,
	}, cfg.UserSettings())
	assert.Equal(t, 4, cfg.ConnConfig().Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnConfig().Retry.InitialDel)
	assert.Equal(t, "wss://example.test/ws", cfg.WsURL(domain.SourceCoinbase))
	assert.Empty(t, cfg.WsURL(domain.SourceBinance))

	tokens := cfg.TokenList()
	require.Len(t, tokens, 3)
	assert.Equal(t, "XMR", tokens[2].Symbol)
	assert.False(t, tokens[2].Visible)
	assert.Equal(t, 2, tokens[2].SortOrder)
	assert.True(t, tokens[0].Visible)
	assert.Equal(t, []string{"BTC", "ETH"}, domain.SubscribedSymbols(tokens, domain.ScopeVisible))
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TOKENBAR_SETTINGS_QUOTE_MODE", "USD≈")
	t.Setenv("TOKENBAR_TOKENS_LIST", "sol,bnb")
	t.Setenv("TOKENBAR_STORAGE_REDIS_ADDR", "redis:6379")

	cfg, err := Load(writeConfig(t, `
[tokens]
list = ["BTC"]
[settings]
quote_mode = "USDT"
`))
	require.NoError(t, err)

	assert.Equal(t, domain.QuoteUSDApprox, cfg.UserSettings().QuoteMode)
	assert.Equal(t, []string{"SOL", "BNB"}, cfg.Tokens.List)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("TOKENBAR_TOKENS_LIST", "ETH")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, cfg.Tokens.List)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"empty tokens": `
[tokens]
list = []
`,
		"bad quote": `
[tokens]
list = ["BTC"]
[settings]
quote_mode = "EUR"
`,
		"bad source": `
[tokens]
list = ["BTC"]
[settings]
data_source = "kraken"
`,
		"bad scope": `
[tokens]
list = ["BTC"]
[settings]
scope = "some"
`,
		"fx deviation": `
[tokens]
list = ["BTC"]
[aggregator]
max_fx_deviation = 1.5
`,
		"redis without addr": `
[tokens]
list = ["BTC"]
[storage]
enabled = true
[storage.redis]
enabled = true
`,
		"postgres without dsn": `
[tokens]
list = ["BTC"]
[storage]
enabled = true
[storage.postgres]
enabled = true
`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
