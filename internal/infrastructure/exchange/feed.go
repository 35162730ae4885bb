package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/websocket"
)

// TickBufferSize tick 通道容量，满了就丢
const TickBufferSize = 1024

// Options 构造行情源的公共参数
type Options struct {
	WsURL            string
	Conn             websocket.Config
	ThrottleInterval time.Duration
	Now              func() time.Time
}

// DefaultOptions 生产环境默认参数
func DefaultOptions(wsURL string) Options {
	return Options{
		WsURL:            wsURL,
		Conn:             websocket.DefaultConfig(),
		ThrottleInterval: DefaultThrottleInterval,
		Now:              time.Now,
	}
}

// FeedHooks 具体交易所提供的回调
type FeedHooks struct {
	// OnMessage 解析一帧原始消息
	OnMessage func(data []byte)
	// OnConnect 每次(重)连成功后重放订阅
	OnConnect func(ctx context.Context) error
	// URL 重连时使用的地址
	URL func() string
}

// Feed 行情源公共部分：一条持久连接、限流器和只增不关的 tick 通道。
type Feed struct {
	name      string
	source    domain.Source
	conn      *websocket.Conn
	throttler *Throttler
	ticks     chan domain.PriceTick
	exhausted atomic.Bool
	dropped   atomic.Uint64
	now       func() time.Time
	url       func() string
}

func NewFeed(name string, source domain.Source, opts Options, hooks FeedHooks) *Feed {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	f := &Feed{
		name:      name,
		source:    source,
		throttler: NewThrottlerWithClock(opts.ThrottleInterval, now),
		ticks:     make(chan domain.PriceTick, TickBufferSize),
		now:       now,
		url:       hooks.URL,
	}
	f.conn = websocket.NewConn(name, opts.Conn, websocket.Handlers{
		OnMessage:            hooks.OnMessage,
		OnConnect:            hooks.OnConnect,
		OnDisconnect:         f.onDisconnect,
		OnReconnectExhausted: f.onExhausted,
	})
	return f
}

func (f *Feed) Name() string          { return f.name }
func (f *Feed) Source() domain.Source { return f.source }

// Ticks 单一长生命周期通道，重连不会替换，也不会被关闭。
func (f *Feed) Ticks() <-chan domain.PriceTick { return f.ticks }

func (f *Feed) IsConnected() bool { return f.conn.IsConnected() }

func (f *Feed) ReconnectExhausted() bool { return f.exhausted.Load() }

func (f *Feed) Throttler() *Throttler { return f.throttler }

func (f *Feed) Now() time.Time { return f.now() }

// Dropped 因通道已满而丢弃的 tick 数
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Open (重新)建立连接并清除耗尽标记
func (f *Feed) Open(ctx context.Context, url string) error {
	f.exhausted.Store(false)
	return f.conn.Connect(ctx, url)
}

// Reopen 原地重连；已 Close 时返回 false
func (f *Feed) Reopen(url string) bool {
	return f.conn.Reconnect(url)
}

// Close 断开连接并等待内部 goroutine 退出
func (f *Feed) Close() {
	f.conn.Disconnect()
	f.conn.Wait()
}

func (f *Feed) Send(ctx context.Context, v any) error {
	return f.conn.Send(ctx, v)
}

// Emit 非阻塞投递
func (f *Feed) Emit(t domain.PriceTick) {
	select {
	case f.ticks <- t:
	default:
		n := f.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			log.Warn().Str("feed", f.name).Uint64("dropped", n).Msg("tick buffer full, dropping")
		}
	}
}

// EmitThrottled 按 pair.Base 限流后投递，返回是否放行
func (f *Feed) EmitThrottled(t domain.PriceTick) bool {
	if !f.throttler.ShouldEmit(t.Pair.Base) {
		return false
	}
	f.Emit(t)
	return true
}

func (f *Feed) onDisconnect(err error) {
	if f.url == nil {
		return
	}
	url := f.url()
	if url == "" {
		return
	}
	f.conn.ScheduleReconnect(url)
}

func (f *Feed) onExhausted() {
	f.exhausted.Store(true)
	log.Error().Str("feed", f.name).Msg("feed gave up reconnecting")
}
