package websocket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tokenbar/internal/domain"
)

// RetryConfig WebSocket 连接重试配置
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 10,
	InitialDel: 1 * time.Second,
	MaxDelay:   60 * time.Second,
}

// Backoff 返回第 attempt 次重连前的等待时间：min(InitialDel * 2^(attempt-1), MaxDelay)
func (r RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.InitialDel) * math.Pow(2, float64(attempt-1))
	if math.IsInf(d, 1) || d > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// Config 单条连接的参数
type Config struct {
	Retry            RetryConfig
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SettleDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SettleDelay:      1 * time.Second,
	}
}

// State 连接状态机
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
	StateReconnectExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateReconnectExhausted:
		return "reconnect_exhausted"
	default:
		return "unknown"
	}
}

// Handlers 回调。OnMessage 在接收循环内同步调用，不能长时间阻塞；
// OnDisconnect 异步调用；OnConnect 在每次(重)连成功后调用，用于重放订阅。
type Handlers struct {
	OnMessage            func(data []byte)
	OnConnect            func(ctx context.Context) error
	OnDisconnect         func(err error)
	OnReconnectExhausted func()
}

type session struct {
	ws     *gws.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ws.Close()
	})
}

// Conn 维护一条逻辑 WebSocket 连接：接收循环、心跳循环、以及至多一个重连循环。
type Conn struct {
	name   string
	cfg    Config
	h      Handlers
	dialer *gws.Dialer

	mu           sync.Mutex
	state        State
	sess         *session
	attempt      int
	reconnecting bool
	loopGen      uint64
	suppressed   bool
	life         context.Context
	lifeCancel   context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewConn(name string, cfg Config, h Handlers) *Conn {
	life, cancel := context.WithCancel(context.Background())
	return &Conn{
		name:       name,
		cfg:        cfg,
		h:          h,
		dialer:     &gws.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: gws.DefaultDialer.Proxy},
		state:      StateDisconnected,
		life:       life,
		lifeCancel: cancel,
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) IsConnected() bool { return c.State() == StateConnected }

// Attempt 当前连续重连次数
func (c *Conn) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Connect 断开已有连接并重新建立；同时终止进行中的重连循环、清除耗尽状态。
func (c *Conn) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	c.lifeCancel()
	c.life, c.lifeCancel = context.WithCancel(context.Background())
	c.suppressed = false
	c.reconnecting = false
	c.loopGen++
	c.attempt = 0
	c.mu.Unlock()

	return c.connect(ctx, url)
}

func (c *Conn) connect(ctx context.Context, url string) error {
	c.mu.Lock()
	old := c.sess
	c.sess = nil
	c.state = StateConnecting
	life := c.life
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	log.Info().Str("conn", c.name).Str("url", url).Msg("ws connecting")

	dctx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	ws, resp, err := c.dialer.DialContext(dctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setStateIf(StateConnecting, StateDisconnected)
		return fmt.Errorf("%w: %s: %w", domain.ErrConnectionFailed, c.name, err)
	}

	if c.cfg.SettleDelay > 0 {
		t := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = ws.Close()
			c.setStateIf(StateConnecting, StateDisconnected)
			return ctx.Err()
		case <-life.Done():
			t.Stop()
			_ = ws.Close()
			return domain.ErrDisconnected
		case <-t.C:
		}
	}

	c.mu.Lock()
	if c.suppressed || life.Err() != nil {
		c.mu.Unlock()
		_ = ws.Close()
		return domain.ErrDisconnected
	}
	prev := c.sess
	sctx, cancel := context.WithCancel(life)
	s := &session{ws: ws, cancel: cancel}
	c.sess = s
	c.state = StateConnected
	c.attempt = 0
	c.wg.Add(2)
	c.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	go c.receiveLoop(sctx, s)
	go c.pingLoop(sctx, s)

	log.Info().Str("conn", c.name).Msg("ws connected")

	if c.h.OnConnect != nil {
		if err := c.h.OnConnect(ctx); err != nil {
			// 订阅没重放成功的连接不算连上，关掉交给调用方或重连循环处理
			c.mu.Lock()
			if c.sess == s {
				c.sess = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			s.close()
			return err
		}
	}
	return nil
}

// Disconnect 取消所有循环、关闭 socket、抑制自动重连。幂等。
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.suppressed = true
	c.lifeCancel()
	s := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.reconnecting = false
	c.loopGen++
	c.mu.Unlock()

	if s != nil {
		s.close()
		log.Info().Str("conn", c.name).Msg("ws closed")
	}
}

// Wait 等待接收、心跳、重连 goroutine 全部退出（在 Disconnect 之后调用）
func (c *Conn) Wait() { c.wg.Wait() }

// Reconnect 服务端要求时原地重连，失败则进入重连循环。Disconnect 之后调用不做任何事。
func (c *Conn) Reconnect(url string) bool {
	c.mu.Lock()
	if c.suppressed {
		c.mu.Unlock()
		return false
	}
	life := c.life
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		err := c.connect(life, url)
		if err == nil || life.Err() != nil {
			return
		}
		log.Warn().Str("conn", c.name).Err(err).Msg("ws reconnect on request failed")
		c.ScheduleReconnect(url)
	}()
	return true
}

// ScheduleReconnect 启动重连循环；已有循环在运行、已被抑制或已耗尽时不做任何事。
func (c *Conn) ScheduleReconnect(url string) bool {
	c.mu.Lock()
	if c.reconnecting || c.suppressed || c.state == StateReconnectExhausted || c.state == StateConnected {
		c.mu.Unlock()
		return false
	}
	c.reconnecting = true
	c.loopGen++
	gen := c.loopGen
	c.state = StateReconnectPending
	life := c.life
	c.wg.Add(1)
	c.mu.Unlock()

	go c.reconnectLoop(life, gen, url)
	return true
}

// ResetReconnectAttempts 清零计数并退出耗尽状态
func (c *Conn) ResetReconnectAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	if c.state == StateReconnectExhausted {
		c.state = StateDisconnected
	}
}

func (c *Conn) reconnectLoop(ctx context.Context, gen uint64, url string) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.loopGen == gen {
			c.reconnecting = false
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.loopGen != gen {
			c.mu.Unlock()
			return
		}
		if c.attempt >= c.cfg.Retry.MaxRetries {
			c.state = StateReconnectExhausted
			attempts := c.attempt
			c.mu.Unlock()
			log.Error().Str("conn", c.name).Int("attempts", attempts).Msg("ws reconnect exhausted")
			if c.h.OnReconnectExhausted != nil {
				c.h.OnReconnectExhausted()
			}
			return
		}
		c.attempt++
		attempt := c.attempt
		c.state = StateReconnectPending
		c.mu.Unlock()

		delay := c.cfg.Retry.Backoff(attempt)
		log.Warn().
			Str("conn", c.name).
			Int("attempt", attempt).
			Int64("delay_ms", delay.Milliseconds()).
			Msg("ws reconnect scheduled")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err := c.connect(ctx, url)
		if err == nil {
			log.Info().Str("conn", c.name).Int("attempt", attempt).Msg("ws reconnected")
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("conn", c.name).Err(err).Int("attempt", attempt).Msg("ws reconnect failed")
	}
}

// Send 以 JSON 写出 v；没有活跃连接时返回 ErrDisconnected。
func (c *Conn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return domain.ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	} else if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	_ = s.ws.SetWriteDeadline(deadline)
	if err := s.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDisconnected, err)
	}
	return nil
}

func (c *Conn) receiveLoop(ctx context.Context, s *session) {
	defer c.wg.Done()

	ws := s.ws
	extend := func() {
		if c.cfg.ReadTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
	}
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.handleDisconnect(s, err)
			}
			return
		}
		extend()
		if c.h.OnMessage != nil {
			c.h.OnMessage(data)
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, s *session) {
	defer c.wg.Done()
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ws.WriteControl(gws.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				if ctx.Err() == nil {
					c.handleDisconnect(s, err)
				}
				return
			}
		}
	}
}

func (c *Conn) handleDisconnect(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnected
	suppressed := c.suppressed
	c.mu.Unlock()

	s.close()
	log.Warn().Str("conn", c.name).Err(err).Msg("ws disconnected")

	if !suppressed && c.h.OnDisconnect != nil {
		go c.h.OnDisconnect(err)
	}
}

func (c *Conn) setStateIf(from, to State) {
	c.mu.Lock()
	if c.state == from {
		c.state = to
	}
	c.mu.Unlock()
}
