package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Throttle.IntervalMs = 250
	cfg.Connection.MaxRetries = 7
	cfg.Exchange.Bitstamp.WsURL = "wss://bitstamp.example"
	return cfg
}

func TestOptions(t *testing.T) {
	opts := Options(testConfig(), domain.SourceBitstamp)

	assert.Equal(t, "wss://bitstamp.example", opts.WsURL)
	assert.Equal(t, 250*time.Millisecond, opts.ThrottleInterval)
	assert.Equal(t, 7, opts.Conn.Retry.MaxRetries)
	assert.NotNil(t, opts.Now)
}

func TestPrimaryFactoryUsesRegistry(t *testing.T) {
	newPrimary := NewPrimaryFactory(testConfig())

	for _, src := range []domain.Source{domain.SourceBinance, domain.SourceCoinbase, domain.SourceBitstamp} {
		feed, err := newPrimary(domain.Settings{DataSource: src})
		require.NoError(t, err, src)
		assert.Equal(t, src, feed.Source())
		assert.False(t, feed.IsConnected())
	}

	_, err := newPrimary(domain.Settings{DataSource: "kraken"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestFXFactory(t *testing.T) {
	fx := NewFXFactory(testConfig())()

	assert.Equal(t, domain.SourceCoinbase, fx.Source())
}
