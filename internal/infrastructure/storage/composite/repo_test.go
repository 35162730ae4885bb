package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/storage"
)

type failingRepo struct{ *storage.InMemoryPriceRepository }

func (failingRepo) UpsertLatestPrice(context.Context, domain.AggregatedPrice) error {
	return errors.New("down")
}

func TestCompositeFansOutPastFailures(t *testing.T) {
	a := storage.NewInMemoryPriceRepository()
	b := storage.NewInMemoryPriceRepository()
	r := New(failingRepo{storage.NewInMemoryPriceRepository()}, nil, a, b)
	assert.Equal(t, 3, r.Len())

	ctx := context.Background()
	p := domain.AggregatedPrice{Symbol: "BTC", Price: decimal.NewFromInt(1), Status: domain.StatusLive}
	assert.EqualError(t, r.UpsertLatestPrice(ctx, p), "down")

	for _, repo := range []*storage.InMemoryPriceRepository{a, b} {
		got, ok := repo.Latest("BTC")
		assert.True(t, ok)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(1)))
	}

	assert.NoError(t, r.PublishStatus(ctx, "BTC", domain.StatusStale, time.Now()))
	assert.Len(t, a.Statuses(), 1)
	assert.Equal(t, domain.StatusStale, b.Statuses()[0].Status)
	assert.NoError(t, r.Close())
}
