package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConnectionStatus 全局连接状态，仅作记录，不会主动断开或重建连接
type ConnectionStatus string

const (
	StatusConnected        ConnectionStatus = "connected"
	StatusConnecting       ConnectionStatus = "connecting"
	StatusDisconnected     ConnectionStatus = "disconnected"
	StatusError            ConnectionStatus = "error"
	StatusBackgroundPaused ConnectionStatus = "background_paused"
)

const (
	DefaultMaxConnections   = 3
	DefaultMaxSubscriptions = 200
)

// Governor 限制活跃连接数与单连接订阅数，并跟踪前后台切换
type Governor struct {
	mu               sync.Mutex
	maxConnections   int
	maxSubscriptions int
	active           int
	status           ConnectionStatus
	lastError        string
}

func NewGovernor(maxConnections, maxSubscriptions int) *Governor {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if maxSubscriptions <= 0 {
		maxSubscriptions = DefaultMaxSubscriptions
	}
	return &Governor{
		maxConnections:   maxConnections,
		maxSubscriptions: maxSubscriptions,
		status:           StatusDisconnected,
	}
}

// RegisterConnection 达到上限时返回 false 并记录错误
func (g *Governor) RegisterConnection() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active >= g.maxConnections {
		g.lastError = fmt.Sprintf("maximum connections reached (%d)", g.maxConnections)
		log.Warn().Int("max", g.maxConnections).Msg("connection limit reached")
		return false
	}
	g.active++
	g.status = StatusConnected
	return true
}

func (g *Governor) UnregisterConnection() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active > 0 {
		g.active--
	}
	if g.active == 0 {
		g.status = StatusDisconnected
	}
}

// ValidateSubscriptionCount 只校验，不登记
func (g *Governor) ValidateSubscriptionCount(n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n > g.maxSubscriptions {
		g.lastError = fmt.Sprintf("subscription limit exceeded, max: %d, requested: %d", g.maxSubscriptions, n)
		return false
	}
	return true
}

func (g *Governor) ReportError(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastError = msg
	g.status = StatusError
}

func (g *Governor) ClearError() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastError = ""
	if g.active > 0 {
		g.status = StatusConnected
	}
}

// EnterBackground connected -> background_paused，其它状态不变
func (g *Governor) EnterBackground() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusConnected {
		g.status = StatusBackgroundPaused
		log.Info().Msg("connections paused for background")
	}
}

// EnterForeground background_paused -> connected
func (g *Governor) EnterForeground() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusBackgroundPaused {
		g.status = StatusConnected
		log.Info().Msg("connections resumed")
	}
}

func (g *Governor) Status() ConnectionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Governor) LastError() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastError
}

func (g *Governor) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
