package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
)

// DefaultWsURL U 本位合约行情地址
const DefaultWsURL = "wss://fstream.binance.com"

const defaultQuote = "USDT"

var _ port.MarketFeed = (*FuturesTickerFeed)(nil)

// FuturesTickerFeed 订阅 combined stream 的 <symbol>@miniTicker。
// 订阅集合编码在 URL 里，变更订阅等于换 URL 重连。
type FuturesTickerFeed struct {
	*exchange.Feed

	wsURL string

	mu        sync.Mutex
	pairs     []domain.MarketPair
	converter exchange.SymbolConverter
	streamURL string
	started   bool

	// streamQuote 是 streamURL 对应的 quote，连上之后才换 converter
	streamQuote string
}

func NewFuturesTickerFeed(opts exchange.Options) *FuturesTickerFeed {
	base := strings.TrimSpace(opts.WsURL)
	if base == "" {
		base = DefaultWsURL
	}
	f := &FuturesTickerFeed{
		wsURL:     base,
		converter: exchange.NewCommonSymbolConverter(defaultQuote),
	}
	f.Feed = exchange.NewFeed("binance", domain.SourceBinance, opts, exchange.FeedHooks{
		OnMessage: f.handleMessage,
		OnConnect: f.onConnect,
		URL:       f.currentURL,
	})
	return f
}

// Connect 用当前 pairs 建立连接；没有 pairs 时什么都不做。
func (f *FuturesTickerFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if len(f.pairs) == 0 {
		f.mu.Unlock()
		log.Debug().Str("feed", f.Name()).Msg("no pairs, connect deferred")
		return nil
	}
	u, err := buildCombinedURL(f.wsURL, f.pairs)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.streamURL = u
	f.streamQuote = f.pairs[0].Quote
	f.started = true
	f.mu.Unlock()

	return f.Open(ctx, u)
}

func (f *FuturesTickerFeed) Disconnect() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	f.Close()
}

// UpdatePairs 替换订阅集合。仅当已启动、集合非空且 URL 变化时才重连。
func (f *FuturesTickerFeed) UpdatePairs(ctx context.Context, pairs []domain.MarketPair) error {
	next := normalizePairs(pairs)

	f.mu.Lock()
	if samePairs(next, f.pairs) {
		f.mu.Unlock()
		return nil
	}
	f.pairs = next
	if len(next) > 0 && !f.started {
		f.converter = exchange.NewCommonSymbolConverter(next[0].Quote)
	}
	if len(next) == 0 || !f.started {
		f.mu.Unlock()
		return nil
	}
	u, err := buildCombinedURL(f.wsURL, next)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if u == f.streamURL {
		f.mu.Unlock()
		return nil
	}
	f.streamURL = u
	f.streamQuote = next[0].Quote
	f.mu.Unlock()

	log.Info().Str("feed", f.Name()).Int("pairs", len(next)).Msg("stream set changed, reconnecting")
	return f.Open(ctx, u)
}

func (f *FuturesTickerFeed) Subscribe(ctx context.Context, pairs []domain.MarketPair) error {
	f.mu.Lock()
	merged := append(append([]domain.MarketPair(nil), f.pairs...), pairs...)
	f.mu.Unlock()
	return f.UpdatePairs(ctx, merged)
}

func (f *FuturesTickerFeed) Unsubscribe(ctx context.Context, pairs []domain.MarketPair) error {
	drop := make(map[domain.MarketPair]struct{}, len(pairs))
	for _, p := range normalizePairs(pairs) {
		drop[p] = struct{}{}
	}

	f.mu.Lock()
	kept := make([]domain.MarketPair, 0, len(f.pairs))
	for _, p := range f.pairs {
		if _, ok := drop[p]; !ok {
			kept = append(kept, p)
		}
	}
	f.mu.Unlock()
	return f.UpdatePairs(ctx, kept)
}

// Pairs 当前订阅集合
func (f *FuturesTickerFeed) Pairs() []domain.MarketPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MarketPair(nil), f.pairs...)
}

func (f *FuturesTickerFeed) currentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ""
	}
	return f.streamURL
}

// onConnect 旧连接已关闭、新 stream 已连上，此时切换 converter
func (f *FuturesTickerFeed) onConnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamQuote != "" && f.streamQuote != f.converter.SymbolSuffix() {
		f.converter = exchange.NewCommonSymbolConverter(f.streamQuote)
	}
	return nil
}

func (f *FuturesTickerFeed) handleMessage(b []byte) {
	f.mu.Lock()
	conv := f.converter
	f.mu.Unlock()

	tick, err := parseMiniTicker(b, conv, f.Now())
	if err != nil {
		log.Debug().Str("feed", f.Name()).Err(err).Msg("drop message")
		return
	}
	if tick == nil {
		return
	}
	f.EmitThrottled(*tick)
}

func buildCombinedURL(base string, pairs []domain.MarketPair) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_base empty")
	}
	if len(pairs) == 0 {
		return "", errors.New("pairs empty")
	}

	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		s := strings.ToLower(p.Base + p.Quote)
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@miniTicker", s))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// normalizePairs 去重并保持原有顺序
func normalizePairs(pairs []domain.MarketPair) []domain.MarketPair {
	out := make([]domain.MarketPair, 0, len(pairs))
	seen := make(map[domain.MarketPair]struct{}, len(pairs))
	for _, p := range pairs {
		p = domain.NewMarketPair(p.Base, p.Quote, domain.SourceBinance)
		if p.Base == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func samePairs(a, b []domain.MarketPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

// parseMiniTicker 同时接受 combined 包装和裸 payload。
// 控制帧（订阅回执等）返回 nil, nil。
func parseMiniTicker(b []byte, conv exchange.SymbolConverter, now time.Time) (*domain.PriceTick, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	payload := b
	if env.Stream != "" && len(env.Data) > 0 {
		payload = env.Data
	}

	var mt miniTicker
	if err := json.Unmarshal(payload, &mt); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	if mt.Symbol == "" {
		return nil, nil
	}
	// 换 quote 前旧 stream 的残留帧
	if !strings.HasSuffix(strings.ToUpper(mt.Symbol), conv.SymbolSuffix()) {
		return nil, nil
	}

	price, err := decimal.NewFromString(strings.TrimSpace(mt.Close))
	if err != nil {
		return nil, fmt.Errorf("%w: close %q", domain.ErrInvalidResponse, mt.Close)
	}
	open, err := decimal.NewFromString(strings.TrimSpace(mt.Open))
	if err != nil {
		return nil, fmt.Errorf("%w: open %q", domain.ErrInvalidResponse, mt.Open)
	}

	tick := &domain.PriceTick{
		Pair:      domain.NewMarketPair(conv.Symbol2Coin(mt.Symbol), conv.SymbolSuffix(), domain.SourceBinance),
		Price:     price,
		Timestamp: now,
	}
	if !open.IsZero() {
		change := price.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
		tick.PriceChange24h = decimal.NewNullDecimal(change)
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(mt.Volume)); err == nil {
		tick.Volume24h = decimal.NewNullDecimal(v)
	}
	return tick, nil
}
