package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tokenbar/internal/application/port"
	"tokenbar/internal/application/service"
	"tokenbar/internal/domain"
)

type Config struct {
	WatchdogInterval   time.Duration
	StaleThreshold     time.Duration
	StaleConfirmations int
	SparklineWindow    time.Duration
	SparklineMaxPoints int
	// MaxFXDeviation 稳定币汇率偏离 1.0 超过该值时丢弃，0 表示不校验
	MaxFXDeviation decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		WatchdogInterval:   10 * time.Second,
		StaleThreshold:     30 * time.Second,
		StaleConfirmations: 2,
		SparklineWindow:    domain.DefaultSparklineWindow,
		SparklineMaxPoints: domain.DefaultSparklineMaxPoints,
		MaxFXDeviation:     decimal.RequireFromString("0.1"),
	}
}

type Deps struct {
	NewPrimary func(settings domain.Settings) (port.MarketFeed, error)
	NewFX      func() port.FXFeed
	Governor   *service.Governor
	Now        func() time.Time
}

// Service 价格聚合：一个主行情源 + 一个 FX 汇率源，维护 symbol -> AggregatedPrice 表。
// Start / Stop / UpdateSubscriptions 是仅有的写入口。
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	// lifeMu 串行化 Start / Stop / UpdateSubscriptions
	lifeMu         sync.Mutex
	fx             port.FXFeed
	primary        port.MarketFeed
	primaryStarted bool
	registered     int
	cancel         context.CancelFunc
	group          *errgroup.Group
	pending        sync.WaitGroup

	mu           sync.RWMutex
	settings     domain.Settings
	symbols      []string
	prices       map[string]domain.AggregatedPrice
	sparklines   map[string]*domain.SparklineBuffer
	sparkVersion uint64
	usdtRate     decimal.Decimal
	usdcRate     decimal.Decimal
	lastTickAt   time.Time
	staleCount   int
	disconnected bool
}

func New(cfg Config, deps Deps) *Service {
	def := DefaultConfig()
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	if cfg.StaleConfirmations <= 0 {
		cfg.StaleConfirmations = def.StaleConfirmations
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:        cfg,
		deps:       deps,
		now:        now,
		settings:   domain.DefaultSettings(),
		prices:     make(map[string]domain.AggregatedPrice),
		sparklines: make(map[string]*domain.SparklineBuffer),
		usdtRate:   decimal.NewFromInt(1),
		usdcRate:   decimal.NewFromInt(1),
	}
}

// Start 停掉旧会话后连接 FX 与主行情源并启动消费循环与 watchdog。
// 任何一步失败都会回收已建立的连接并返回错误。
func (s *Service) Start(ctx context.Context, tokens []domain.Token, settings domain.Settings) error {
	s.Stop()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.deps.NewFX == nil || s.deps.NewPrimary == nil {
		return errors.New("aggregator: feed factories not configured")
	}

	symbols := domain.SubscribedSymbols(tokens, settings.Scope)

	s.mu.Lock()
	s.settings = settings
	s.symbols = symbols
	s.sparklines = make(map[string]*domain.SparklineBuffer, len(symbols))
	s.ensureSparklinesLocked(symbols)
	s.lastTickAt = s.now()
	s.staleCount = 0
	s.disconnected = false
	s.mu.Unlock()

	log.Info().
		Int("symbols", len(symbols)).
		Str("source", string(settings.DataSource)).
		Str("quote", settings.QuoteMode.Label()).
		Msg("aggregator starting")

	if err := s.startFeedsLocked(ctx, symbols, settings); err != nil {
		s.teardownLocked()
		s.reportError(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	fx, primary := s.fx, s.primary
	g.Go(func() error { s.consumeFX(gctx, fx.Ticks()); return nil })
	g.Go(func() error { s.consumePrimary(gctx, primary.Ticks()); return nil })
	g.Go(func() error { s.watchdog(gctx, primary); return nil })
	s.cancel = cancel
	s.group = g

	if s.deps.Governor != nil {
		s.deps.Governor.ClearError()
	}
	log.Info().Str("primary", primary.Name()).Msg("aggregator started")
	return nil
}

func (s *Service) startFeedsLocked(ctx context.Context, symbols []string, settings domain.Settings) error {
	fx := s.deps.NewFX()
	if fx == nil {
		return errors.New("aggregator: fx feed factory returned nil")
	}
	if err := s.registerLocked(); err != nil {
		return err
	}
	s.fx = fx
	if err := fx.Connect(ctx); err != nil {
		return fmt.Errorf("connect fx feed: %w", err)
	}
	if err := fx.SubscribeFXRates(ctx); err != nil {
		return fmt.Errorf("subscribe fx rates: %w", err)
	}

	primary, err := s.deps.NewPrimary(settings)
	if err != nil {
		return fmt.Errorf("create %s feed: %w", settings.DataSource, err)
	}
	if primary == nil {
		return fmt.Errorf("create %s feed: factory returned nil", settings.DataSource)
	}
	s.primary = primary

	return s.pushPairsLocked(ctx, PairsFor(symbols, settings))
}

// pushPairsLocked 校验订阅数量、下发 pairs；首次出现非空集合时才真正连接主行情源
func (s *Service) pushPairsLocked(ctx context.Context, pairs []domain.MarketPair) error {
	if g := s.deps.Governor; g != nil && !g.ValidateSubscriptionCount(len(pairs)) {
		return fmt.Errorf("%w: %s", domain.ErrRateLimitExceeded, g.LastError())
	}
	if err := s.primary.UpdatePairs(ctx, pairs); err != nil {
		return fmt.Errorf("update %s pairs: %w", s.primary.Name(), err)
	}
	if len(pairs) == 0 || s.primaryStarted {
		return nil
	}
	if err := s.registerLocked(); err != nil {
		return err
	}
	if err := s.primary.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s feed: %w", s.primary.Name(), err)
	}
	s.primaryStarted = true
	return nil
}

func (s *Service) registerLocked() error {
	g := s.deps.Governor
	if g == nil {
		return nil
	}
	if !g.RegisterConnection() {
		return fmt.Errorf("%w: %s", domain.ErrRateLimitExceeded, g.LastError())
	}
	s.registered++
	return nil
}

func (s *Service) reportError(err error) {
	log.Error().Err(err).Msg("aggregator error")
	if s.deps.Governor != nil {
		s.deps.Governor.ReportError(err.Error())
	}
}

// Stop 取消并等待循环退出，异步断开两个行情源。可重复调用。
func (s *Service) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cancel == nil && s.fx == nil && s.primary == nil {
		return
	}
	s.teardownLocked()
	log.Info().Msg("aggregator stopped")
}

func (s *Service) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		_ = s.group.Wait()
		s.cancel = nil
		s.group = nil
	}

	fx, primary := s.fx, s.primary
	s.fx = nil
	s.primary = nil
	s.primaryStarted = false

	if g := s.deps.Governor; g != nil {
		for ; s.registered > 0; s.registered-- {
			g.UnregisterConnection()
		}
	}
	s.registered = 0

	if fx == nil && primary == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if fx != nil {
			fx.Disconnect()
		}
		if primary != nil {
			primary.Disconnect()
		}
	}()
}

// Wait 等待 Stop 发起的异步断开完成
func (s *Service) Wait() { s.pending.Wait() }

// Running 是否有一个已启动的会话；Start 失败或 Stop 之后为 false
func (s *Service) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.cancel != nil
}

// UpdateSubscriptions 重新计算 pairs 并下发；主行情源启动时没有 symbol 的话此时再连接。
func (s *Service) UpdateSubscriptions(ctx context.Context, tokens []domain.Token, mode domain.QuoteMode) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	s.settings.QuoteMode = mode
	settings := s.settings
	symbols := domain.SubscribedSymbols(tokens, settings.Scope)
	s.symbols = symbols
	s.ensureSparklinesLocked(symbols)
	s.mu.Unlock()

	if s.primary == nil {
		return nil
	}

	pairs := PairsFor(symbols, settings)
	if err := s.pushPairsLocked(ctx, pairs); err != nil {
		s.reportError(err)
		return err
	}
	log.Info().Int("pairs", len(pairs)).Str("quote", mode.Label()).Msg("subscriptions updated")
	return nil
}

func (s *Service) ensureSparklinesLocked(symbols []string) {
	for _, sym := range symbols {
		if _, ok := s.sparklines[sym]; !ok {
			s.sparklines[sym] = domain.NewSparklineBufferWithClock(s.cfg.SparklineWindow, s.cfg.SparklineMaxPoints, s.now)
		}
	}
}

func (s *Service) consumePrimary(ctx context.Context, ticks <-chan domain.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			s.processTick(t)
		}
	}
}

func (s *Service) consumeFX(ctx context.Context, ticks <-chan domain.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			s.applyFXTick(t)
		}
	}
}

var one = decimal.NewFromInt(1)

func (s *Service) applyFXTick(t domain.PriceTick) {
	if t.Pair.Quote != "USD" {
		return
	}
	if t.Pair.Base != "USDT" && t.Pair.Base != "USDC" {
		return
	}
	if s.cfg.MaxFXDeviation.IsPositive() && t.Price.Sub(one).Abs().GreaterThan(s.cfg.MaxFXDeviation) {
		log.Warn().Str("symbol", t.Pair.Base).Str("rate", t.Price.String()).Msg("fx rate off peg, ignored")
		return
	}

	s.mu.Lock()
	if t.Pair.Base == "USDT" {
		s.usdtRate = t.Price
	} else {
		s.usdcRate = t.Price
	}
	s.mu.Unlock()
}

func (s *Service) processTick(t domain.PriceTick) {
	symbol := t.Pair.Base
	if symbol == "" {
		return
	}
	now := s.now()
	ts := t.Timestamp
	if ts.IsZero() {
		ts = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		s.disconnected = false
		log.Info().Str("symbol", symbol).Msg("price feed recovered")
	}
	s.staleCount = 0
	s.lastTickAt = now

	buf, ok := s.sparklines[symbol]
	if !ok {
		buf = domain.NewSparklineBufferWithClock(s.cfg.SparklineWindow, s.cfg.SparklineMaxPoints, s.now)
		s.sparklines[symbol] = buf
	}
	buf.Add(t.Price)
	s.sparkVersion++

	usd := ConvertToUSD(t.Price, t.Pair.Quote, s.usdtRate, s.usdcRate)
	dir := domain.DirectionSame
	if prev, had := s.prices[symbol]; had && !prev.Price.IsZero() {
		dir = domain.DirectionOf(prev.Price, usd)
	}

	s.prices[symbol] = domain.AggregatedPrice{
		Symbol:         symbol,
		Price:          usd,
		DisplayPrice:   FormatPrice(t.Price),
		QuoteMode:      s.settings.QuoteMode,
		PriceChange24h: t.PriceChange24h,
		Direction:      dir,
		LastUpdate:     ts,
		Status:         domain.StatusLive,
	}
}

func (s *Service) watchdog(ctx context.Context, primary port.MarketFeed) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(primary)
		}
	}
}

// checkHealth 重连耗尽 -> disconnected（只转换一次）；否则连续 StaleConfirmations 次超时 -> stale
func (s *Service) checkHealth(primary port.MarketFeed) {
	exhausted := primary != nil && primary.ReconnectExhausted()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exhausted {
		if s.disconnected {
			return
		}
		s.disconnected = true
		for sym, p := range s.prices {
			p.Status = domain.StatusDisconnected
			p.Price = decimal.Zero
			p.DisplayPrice = "--"
			p.Direction = domain.DirectionSame
			s.prices[sym] = p
		}
		s.sparkVersion++
		log.Error().Int("symbols", len(s.prices)).Msg("primary feed exhausted reconnects, prices marked disconnected")
		return
	}

	if s.now().Sub(s.lastTickAt) <= s.cfg.StaleThreshold {
		s.staleCount = 0
		return
	}
	s.staleCount++
	if s.staleCount < s.cfg.StaleConfirmations {
		return
	}

	flipped := 0
	for sym, p := range s.prices {
		if p.Status == domain.StatusLive {
			p.Status = domain.StatusStale
			s.prices[sym] = p
			flipped++
		}
	}
	if flipped > 0 {
		s.sparkVersion++
		log.Warn().Int("symbols", flipped).Dur("since_last_tick", s.now().Sub(s.lastTickAt)).Msg("prices stale")
	}
}

// Prices 当前价格表的拷贝
func (s *Service) Prices() map[string]domain.AggregatedPrice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.AggregatedPrice, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Price 未收到过 tick 的 symbol 返回 unavailable 占位
func (s *Service) Price(symbol string) domain.AggregatedPrice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.prices[symbol]; ok {
		return p
	}
	return domain.Unavailable(symbol, s.settings.QuoteMode)
}

func (s *Service) Sparkline(symbol string) []float64 {
	s.mu.RLock()
	buf, ok := s.sparklines[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.NormalizedPoints()
}

func (s *Service) SparklineVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sparkVersion
}

func (s *Service) IsDisconnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnected
}

// Rates 当前使用的 USDT、USDC 对 USD 汇率
func (s *Service) Rates() (usdt, usdc decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usdtRate, s.usdcRate
}

// Symbols 当前订阅的 symbol，按 token 排序
func (s *Service) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

func (s *Service) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
