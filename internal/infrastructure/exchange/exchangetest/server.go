// Package exchangetest 提供本地 WebSocket 行情服务器，供各交易所适配器测试使用。
package exchangetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"tokenbar/internal/infrastructure/websocket"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	queries  []string
	conns    []*gws.Conn
	received []string
}

func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{}
	up := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.RawQuery)
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		for {
			_, b, err := c.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(b))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// WsURL ws:// 形式的地址
func (s *Server) WsURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// Queries 每次握手的 RawQuery
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received 客户端发来的所有文本帧
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Push 向最近一条连接推送一帧
func (s *Server) Push(t *testing.T, msg string) {
	t.Helper()
	s.mu.Lock()
	conns := append([]*gws.Conn(nil), s.conns...)
	s.mu.Unlock()
	require.NotEmpty(t, conns, "no client connected")
	c := conns[len(conns)-1]
	require.NoError(t, c.WriteMessage(gws.TextMessage, []byte(msg)))
}

// DropAll 服务端主动断开所有连接
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// ConnConfig 测试用连接参数：无 settle、无 ping、毫秒级退避
func ConnConfig() websocket.Config {
	return websocket.Config{
		Retry:            websocket.RetryConfig{MaxRetries: 3, InitialDel: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		ReadTimeout:      5 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
	}
}
