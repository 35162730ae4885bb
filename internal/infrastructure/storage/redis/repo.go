package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

const DefaultStreamMaxLen = 10000

type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyLatest    string // prefix + ":latest"
	statusStream string
	statusChan   string
	maxLen       int64
}

// LatestPrice HSET <prefix>:latest <symbol> 的值
type LatestPrice struct {
	Symbol    string  `json:"symbol"`
	Price     string  `json:"price"`
	Display   string  `json:"display"`
	QuoteMode string  `json:"quote_mode"`
	Change24h *string `json:"change_24h,omitempty"`
	Direction int     `json:"direction"`
	Status    string  `json:"status"`
	Ts        int64   `json:"ts_ms"`
}

type StatusEvent struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
	Ts     int64  `json:"ts_ms"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, statusStream, statusChan string, maxLen int64) *Repo {
	if strings.TrimSpace(statusStream) == "" {
		statusStream = prefix + ":status"
	}
	if strings.TrimSpace(statusChan) == "" {
		statusChan = prefix + ":status:pub"
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		statusStream: statusStream,
		statusChan:   statusChan,
		maxLen:       maxLen,
	}
}

func EncodeLatest(p domain.AggregatedPrice) ([]byte, error) {
	lp := LatestPrice{
		Symbol:    p.Symbol,
		Price:     p.Price.String(),
		Display:   p.DisplayPrice,
		QuoteMode: string(p.QuoteMode),
		Direction: int(p.Direction),
		Status:    string(p.Status),
		Ts:        p.LastUpdate.UnixMilli(),
	}
	if p.PriceChange24h.Valid {
		s := p.PriceChange24h.Decimal.String()
		lp.Change24h = &s
	}
	return json.Marshal(lp)
}

// UpsertLatestPrice 没有价格的条目（断线占位）不覆盖已有值
func (r *Repo) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	if !p.Price.IsPositive() {
		return nil
	}
	b, err := EncodeLatest(p)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, p.Symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	// 1) Stream: XADD <stream> MAXLEN ~ n * symbol status ts_ms
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.statusStream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"symbol": symbol,
			"status": string(status),
			"ts_ms":  ts.UnixMilli(),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	msg, err := json.Marshal(StatusEvent{Symbol: symbol, Status: string(status), Ts: ts.UnixMilli()})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.statusChan, msg).Err()
}

// Close 客户端由 container 关闭
func (r *Repo) Close() error { return nil }

var _ port.PriceRepository = (*Repo)(nil)
