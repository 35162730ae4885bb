package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
)

const DefaultWsURL = "wss://ws-feed.exchange.coinbase.com"

var (
	_ port.MarketFeed = (*TickerFeed)(nil)
	_ port.FXFeed     = (*TickerFeed)(nil)
)

// FXPairs 用于稳定币换算 USD 的两个固定交易对
var FXPairs = []domain.MarketPair{
	domain.NewMarketPair("USDT", "USD", domain.SourceCoinbase),
	domain.NewMarketPair("USDC", "USD", domain.SourceCoinbase),
}

var errServerMessage = errors.New("coinbase error message")

// TickerFeed coinbase ticker 频道。既是 FX 汇率源，也可作为主行情源。
type TickerFeed struct {
	*exchange.Feed

	wsURL string
	diff  *exchange.SubscriptionDiff

	mu         sync.Mutex
	subscribed map[domain.MarketPair]struct{}
	rates      map[string]decimal.Decimal
}

func NewTickerFeed(opts exchange.Options) *TickerFeed {
	u := strings.TrimSpace(opts.WsURL)
	if u == "" {
		u = DefaultWsURL
	}
	f := &TickerFeed{
		wsURL:      u,
		diff:       exchange.NewSubscriptionDiff(),
		subscribed: make(map[domain.MarketPair]struct{}),
		rates:      make(map[string]decimal.Decimal),
	}
	f.Feed = exchange.NewFeed("coinbase", domain.SourceCoinbase, opts, exchange.FeedHooks{
		OnMessage: f.handleMessage,
		OnConnect: f.resubscribe,
		URL:       func() string { return f.wsURL },
	})
	return f
}

func (f *TickerFeed) Connect(ctx context.Context) error {
	return f.Open(ctx, f.wsURL)
}

func (f *TickerFeed) Disconnect() {
	f.Close()
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func productID(p domain.MarketPair) string { return p.Base + "-" + p.Quote }

func (f *TickerFeed) send(ctx context.Context, typ string, pairs []domain.MarketPair) error {
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, productID(p))
	}
	return f.Send(ctx, subscribeRequest{Type: typ, ProductIDs: ids, Channels: []string{"ticker"}})
}

// Subscribe 需要已连接；成功后记入订阅集合，重连时自动重放。
func (f *TickerFeed) Subscribe(ctx context.Context, pairs []domain.MarketPair) error {
	pairs = normalize(pairs)
	if len(pairs) == 0 {
		return nil
	}
	if err := f.send(ctx, "subscribe", pairs); err != nil {
		return &domain.SubscriptionError{Pair: pairs[0], Reason: "send subscribe", Err: err}
	}

	f.mu.Lock()
	for _, p := range pairs {
		f.subscribed[p] = struct{}{}
	}
	f.mu.Unlock()
	log.Info().Str("feed", f.Name()).Int("pairs", len(pairs)).Msg("subscribed")
	return nil
}

func (f *TickerFeed) Unsubscribe(ctx context.Context, pairs []domain.MarketPair) error {
	pairs = normalize(pairs)
	if len(pairs) == 0 {
		return nil
	}

	f.mu.Lock()
	for _, p := range pairs {
		delete(f.subscribed, p)
	}
	f.mu.Unlock()

	if err := f.send(ctx, "unsubscribe", pairs); err != nil {
		return &domain.SubscriptionError{Pair: pairs[0], Reason: "send unsubscribe", Err: err}
	}
	return nil
}

func (f *TickerFeed) SubscribeFXRates(ctx context.Context) error {
	return f.Subscribe(ctx, FXPairs)
}

// UpdatePairs 用 diff 增量订阅。未连接时只记录，等连接后重放。
func (f *TickerFeed) UpdatePairs(ctx context.Context, pairs []domain.MarketPair) error {
	toSub, toUnsub := f.diff.Compute(normalize(pairs))

	if !f.IsConnected() {
		f.mu.Lock()
		for _, p := range toUnsub {
			delete(f.subscribed, p)
		}
		for _, p := range toSub {
			f.subscribed[p] = struct{}{}
		}
		f.mu.Unlock()
		return nil
	}

	if err := f.Unsubscribe(ctx, toUnsub); err != nil {
		return err
	}
	return f.Subscribe(ctx, toSub)
}

// Rates 最近一次收到的稳定币汇率，key 为 USDT / USDC
func (f *TickerFeed) Rates() map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(f.rates))
	for k, v := range f.rates {
		out[k] = v
	}
	return out
}

func (f *TickerFeed) subscribedPairs() []domain.MarketPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MarketPair, 0, len(f.subscribed))
	for p := range f.subscribed {
		out = append(out, p)
	}
	exchange.SortPairs(out)
	return out
}

func (f *TickerFeed) resubscribe(ctx context.Context) error {
	pairs := f.subscribedPairs()
	if len(pairs) == 0 {
		return nil
	}
	if err := f.send(ctx, "subscribe", pairs); err != nil {
		return &domain.SubscriptionError{Pair: pairs[0], Reason: "replay subscriptions", Err: err}
	}
	log.Info().Str("feed", f.Name()).Int("pairs", len(pairs)).Msg("subscriptions replayed")
	return nil
}

func (f *TickerFeed) handleMessage(b []byte) {
	tick, err := parseTicker(b, f.Now())
	if err != nil {
		if errors.Is(err, errServerMessage) {
			log.Warn().Str("feed", f.Name()).Err(err).Msg("server rejected request")
		} else {
			log.Debug().Str("feed", f.Name()).Err(err).Msg("drop message")
		}
		return
	}
	if tick == nil {
		return
	}

	if isFXPair(tick.Pair) {
		f.mu.Lock()
		f.rates[tick.Pair.Base] = tick.Price
		f.mu.Unlock()
		f.Emit(*tick)
		return
	}
	f.EmitThrottled(*tick)
}

func isFXPair(p domain.MarketPair) bool {
	for _, fx := range FXPairs {
		if p == fx {
			return true
		}
	}
	return false
}

func normalize(pairs []domain.MarketPair) []domain.MarketPair {
	out := make([]domain.MarketPair, 0, len(pairs))
	seen := make(map[domain.MarketPair]struct{}, len(pairs))
	for _, p := range pairs {
		p = domain.NewMarketPair(p.Base, p.Quote, domain.SourceCoinbase)
		if p.Base == "" || p.Quote == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	exchange.SortPairs(out)
	return out
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	Volume24h string `json:"volume_24h"`
	Low24h    string `json:"low_24h"`
	High24h   string `json:"high_24h"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

// parseTicker 只处理 type=ticker；subscriptions 等其它类型返回 nil, nil。
func parseTicker(b []byte, now time.Time) (*domain.PriceTick, error) {
	var msg tickerMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}

	switch msg.Type {
	case "ticker":
	case "error":
		return nil, fmt.Errorf("%w: %s %s", errServerMessage, msg.Message, msg.Reason)
	default:
		return nil, nil
	}

	parts := strings.Split(msg.ProductID, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: product_id %q", domain.ErrInvalidResponse, msg.ProductID)
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", domain.ErrInvalidResponse, msg.Price)
	}

	tick := &domain.PriceTick{
		Pair:      domain.NewMarketPair(parts[0], parts[1], domain.SourceCoinbase),
		Price:     price,
		Timestamp: now,
	}
	if open, err := decimal.NewFromString(msg.Open24h); err == nil && !open.IsZero() {
		tick.PriceChange24h = decimal.NewNullDecimal(price.Sub(open).Div(open).Mul(decimal.NewFromInt(100)))
	}
	if v, err := decimal.NewFromString(msg.Volume24h); err == nil {
		tick.Volume24h = decimal.NewNullDecimal(v)
	}
	return tick, nil
}
