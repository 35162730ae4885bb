package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/config"
	"tokenbar/internal/infrastructure/storage"
)

func TestContainerWithoutStorageUsesMemory(t *testing.T) {
	c, err := New(&config.Config{})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Repository().(*storage.InMemoryPriceRepository)
	assert.True(t, ok)
	assert.Nil(t, c.SQLiteRepo())
	assert.Nil(t, c.RedisClient())
}

func TestContainerWithSQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Enabled = true
	cfg.Storage.SQLite.Enabled = true
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "tokenbar.db")

	c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.SQLiteRepo())

	ctx := context.Background()
	p := domain.AggregatedPrice{
		Symbol:     "BTC",
		Price:      decimal.NewFromInt(65000),
		QuoteMode:  domain.QuoteUSDT,
		LastUpdate: time.Now(),
		Status:     domain.StatusLive,
	}
	require.NoError(t, c.Repository().UpsertLatestPrice(ctx, p))

	got, ok, err := c.SQLiteRepo().LatestPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(p.Price))

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestContainerRedisPingFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Enabled = true
	cfg.Storage.Redis.Enabled = true
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	_, err := New(cfg)
	assert.ErrorContains(t, err, "redis init failed")
}
