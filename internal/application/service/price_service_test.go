package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/domain"
)

type statusEvent struct {
	symbol string
	status domain.PriceStatus
}

type mockRepository struct {
	upserts  map[string]decimal.Decimal
	statuses []statusEvent
	failFor  string
	closed   bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{upserts: make(map[string]decimal.Decimal)}
}

func (m *mockRepository) UpsertLatestPrice(_ context.Context, p domain.AggregatedPrice) error {
	if p.Symbol == m.failFor {
		return errors.New("boom")
	}
	m.upserts[p.Symbol] = p.Price
	return nil
}

func (m *mockRepository) PublishStatus(_ context.Context, symbol string, st domain.PriceStatus, _ time.Time) error {
	m.statuses = append(m.statuses, statusEvent{symbol, st})
	return nil
}

func (m *mockRepository) Close() error {
	m.closed = true
	return nil
}

func live(sym string, px int64) domain.AggregatedPrice {
	return domain.AggregatedPrice{Symbol: sym, Price: decimal.NewFromInt(px), Status: domain.StatusLive}
}

func TestPriceServiceRecordUpsertsAndPublishesOnce(t *testing.T) {
	repo := newMockRepository()
	svc := NewPriceService(repo)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	prices := map[string]domain.AggregatedPrice{
		"BTC": live("BTC", 65000),
		"XMR": domain.Unavailable("XMR", domain.QuoteUSDT),
	}
	require.NoError(t, svc.Record(ctx, prices, now))
	require.NoError(t, svc.Record(ctx, prices, now))

	assert.True(t, repo.upserts["BTC"].Equal(decimal.NewFromInt(65000)))
	assert.NotContains(t, repo.upserts, "XMR")
	assert.Equal(t, []statusEvent{
		{"BTC", domain.StatusLive},
		{"XMR", domain.StatusUnavailable},
	}, repo.statuses)

	stale := live("BTC", 65000)
	stale.Status = domain.StatusStale
	require.NoError(t, svc.Record(ctx, map[string]domain.AggregatedPrice{"BTC": stale}, now))
	assert.Equal(t, statusEvent{"BTC", domain.StatusStale}, repo.statuses[len(repo.statuses)-1])
}

func TestPriceServiceRecordContinuesPastFailure(t *testing.T) {
	repo := newMockRepository()
	repo.failFor = "BTC"
	svc := NewPriceService(repo)

	err := svc.Record(context.Background(), map[string]domain.AggregatedPrice{
		"BTC": live("BTC", 1),
		"ETH": live("ETH", 2),
	}, time.Now())

	assert.Error(t, err)
	assert.Contains(t, repo.upserts, "ETH")
	assert.Equal(t, []statusEvent{{"ETH", domain.StatusLive}}, repo.statuses)
}

func TestPriceServiceRepublishesAfterSymbolReturns(t *testing.T) {
	repo := newMockRepository()
	svc := NewPriceService(repo)
	ctx := context.Background()
	prices := map[string]domain.AggregatedPrice{"ETH": live("ETH", 3000)}

	require.NoError(t, svc.Record(ctx, prices, time.Now()))
	require.NoError(t, svc.Record(ctx, map[string]domain.AggregatedPrice{}, time.Now()))
	require.NoError(t, svc.Record(ctx, prices, time.Now()))

	assert.Len(t, repo.statuses, 2)
}
