package monitor

import (
	"strings"
	"sync"

	"tokenbar/internal/application/service"
)

// State 记录上一次渲染时看到的版本，避免没有变化时重复输出
type State struct {
	mu sync.Mutex

	version      uint64
	disconnected bool
	status       service.ConnectionStatus
	symbols      string
	rendered     bool
}

func NewState() *State { return &State{} }

// Changed 版本号、断线标记、连接状态或 symbol 列表任一变化即需要重画
func (s *State) Changed(version uint64, disconnected bool, status service.ConnectionStatus, symbols []string) bool {
	key := strings.Join(symbols, ",")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rendered && s.version == version && s.disconnected == disconnected && s.status == status && s.symbols == key {
		return false
	}
	s.rendered = true
	s.version = version
	s.disconnected = disconnected
	s.status = status
	s.symbols = key
	return true
}

// Reset 下一次 Changed 必定返回 true
func (s *State) Reset() {
	s.mu.Lock()
	s.rendered = false
	s.mu.Unlock()
}
