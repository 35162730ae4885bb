package bitstamp

import (
	"context"
	"encoding/json"
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

const DefaultWsURL = "wss://ws.bitstamp.net"

const channelPrefix = "live_trades_"

// knownQuotes 从 channel 名反推 quote，SplitQuote 会优先匹配最长后缀
var knownQuotes = []string{"usdt", "usdc", "usd", "eur", "gbp", "btc", "eth"}

var _ port.MarketFeed = (*TradeFeed)(nil)

// TradeFeed 逐笔成交频道 live_trades_<base><quote>，每个 pair 一条订阅消息。
type TradeFeed struct {
	*exchange.Feed

	wsURL string
	diff  *exchange.SubscriptionDiff

	mu         sync.Mutex
	subscribed map[domain.MarketPair]struct{}
	channels   map[string]domain.MarketPair
}

func NewTradeFeed(opts exchange.Options) *TradeFeed {
	u := strings.TrimSpace(opts.WsURL)
	if u == "" {
		u = DefaultWsURL
	}
	f := &TradeFeed{
		wsURL:      u,
		diff:       exchange.NewSubscriptionDiff(),
		subscribed: make(map[domain.MarketPair]struct{}),
		channels:   make(map[string]domain.MarketPair),
	}
	f.Feed = exchange.NewFeed("bitstamp", domain.SourceBitstamp, opts, exchange.FeedHooks{
		OnMessage: f.handleMessage,
		OnConnect: f.resubscribe,
		URL:       func() string { return f.wsURL },
	})
	return f
}

func (f *TradeFeed) Connect(ctx context.Context) error {
	return f.Open(ctx, f.wsURL)
}

func (f *TradeFeed) Disconnect() {
	f.Close()
}

// ChannelName 例: BTC/USD -> live_trades_btcusd
func ChannelName(p domain.MarketPair) string {
	return channelPrefix + strings.ToLower(p.Base+p.Quote)
}

type channelRequest struct {
	Event string             `json:"event"`
	Data  channelRequestData `json:"data"`
}

type channelRequestData struct {
	Channel string `json:"channel"`
}

func (f *TradeFeed) sendEach(ctx context.Context, event, reason string, pairs []domain.MarketPair) error {
	for _, p := range pairs {
		req := channelRequest{Event: event, Data: channelRequestData{Channel: ChannelName(p)}}
		if err := f.Send(ctx, req); err != nil {
			return &domain.SubscriptionError{Pair: p, Reason: reason, Err: err}
		}
	}
	return nil
}

func (f *TradeFeed) Subscribe(ctx context.Context, pairs []domain.MarketPair) error {
	pairs = normalize(pairs)
	for _, p := range pairs {
		if err := f.sendEach(ctx, "bts:subscribe", "send subscribe", []domain.MarketPair{p}); err != nil {
			return err
		}
		f.track(p)
	}
	if len(pairs) > 0 {
		log.Info().Str("feed", f.Name()).Int("pairs", len(pairs)).Msg("subscribed")
	}
	return nil
}

func (f *TradeFeed) Unsubscribe(ctx context.Context, pairs []domain.MarketPair) error {
	pairs = normalize(pairs)
	for _, p := range pairs {
		f.untrack(p)
	}
	return f.sendEach(ctx, "bts:unsubscribe", "send unsubscribe", pairs)
}

// UpdatePairs 与 coinbase 相同：diff 增量，未连接时只记录
func (f *TradeFeed) UpdatePairs(ctx context.Context, pairs []domain.MarketPair) error {
	toSub, toUnsub := f.diff.Compute(normalize(pairs))

	if !f.IsConnected() {
		for _, p := range toUnsub {
			f.untrack(p)
		}
		for _, p := range toSub {
			f.track(p)
		}
		return nil
	}

	if err := f.Unsubscribe(ctx, toUnsub); err != nil {
		return err
	}
	return f.Subscribe(ctx, toSub)
}

func (f *TradeFeed) track(p domain.MarketPair) {
	f.mu.Lock()
	f.subscribed[p] = struct{}{}
	f.channels[ChannelName(p)] = p
	f.mu.Unlock()
}

func (f *TradeFeed) untrack(p domain.MarketPair) {
	f.mu.Lock()
	delete(f.subscribed, p)
	delete(f.channels, ChannelName(p))
	f.mu.Unlock()
}

func (f *TradeFeed) resubscribe(ctx context.Context) error {
	f.mu.Lock()
	pairs := make([]domain.MarketPair, 0, len(f.subscribed))
	for p := range f.subscribed {
		pairs = append(pairs, p)
	}
	f.mu.Unlock()
	exchange.SortPairs(pairs)

	if err := f.sendEach(ctx, "bts:subscribe", "replay subscriptions", pairs); err != nil {
		return err
	}
	if len(pairs) > 0 {
		log.Info().Str("feed", f.Name()).Int("pairs", len(pairs)).Msg("subscriptions replayed")
	}
	return nil
}

func (f *TradeFeed) pairFor(channel string) (domain.MarketPair, bool) {
	f.mu.Lock()
	p, ok := f.channels[channel]
	f.mu.Unlock()
	if ok {
		return p, true
	}
	return pairFromChannel(channel)
}

func (f *TradeFeed) handleMessage(b []byte) {
	ev, err := parseEvent(b)
	if err != nil {
		log.Debug().Str("feed", f.Name()).Err(err).Msg("drop message")
		return
	}

	switch ev.Event {
	case "trade":
	case "bts:request_reconnect":
		log.Warn().Str("feed", f.Name()).Msg("server requested reconnect")
		if !f.Reopen(f.wsURL) {
			log.Debug().Str("feed", f.Name()).Msg("feed closed, reconnect request ignored")
		}
		return
	default:
		return
	}

	pair, ok := f.pairFor(ev.Channel)
	if !ok {
		log.Debug().Str("feed", f.Name()).Str("channel", ev.Channel).Msg("unknown channel")
		return
	}
	tick, err := parseTrade(ev.Data, pair, f.Now())
	if err != nil {
		log.Debug().Str("feed", f.Name()).Err(err).Msg("drop trade")
		return
	}
	f.EmitThrottled(tick)
}

func normalize(pairs []domain.MarketPair) []domain.MarketPair {
	out := make([]domain.MarketPair, 0, len(pairs))
	seen := make(map[domain.MarketPair]struct{}, len(pairs))
	for _, p := range pairs {
		p = domain.NewMarketPair(p.Base, p.Quote, domain.SourceBitstamp)
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

// pairFromChannel live_trades_btcusd -> BTC/USD
func pairFromChannel(channel string) (domain.MarketPair, bool) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return domain.MarketPair{}, false
	}
	base, quote, ok := exchange.SplitQuote(strings.TrimPrefix(channel, channelPrefix), knownQuotes)
	if !ok {
		return domain.MarketPair{}, false
	}
	return domain.NewMarketPair(base, quote, domain.SourceBitstamp), true
}

type event struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// trade price/amount 既可能是字符串也可能是数字，decimal 两种都接受
type trade struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

func parseEvent(b []byte) (event, error) {
	var ev event
	if err := json.Unmarshal(b, &ev); err != nil {
		return event{}, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	return ev, nil
}

func parseTrade(data json.RawMessage, pair domain.MarketPair, now time.Time) (domain.PriceTick, error) {
	if len(data) == 0 || string(data) == "null" {
		return domain.PriceTick{}, fmt.Errorf("%w: empty trade data", domain.ErrInvalidResponse)
	}
	var tr trade
	if err := json.Unmarshal(data, &tr); err != nil {
		return domain.PriceTick{}, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	if !tr.Price.IsPositive() {
		return domain.PriceTick{}, fmt.Errorf("%w: price %s", domain.ErrInvalidResponse, tr.Price)
	}
	return domain.PriceTick{
		Pair:      pair,
		Price:     tr.Price,
		Timestamp: now,
	}, nil
}
