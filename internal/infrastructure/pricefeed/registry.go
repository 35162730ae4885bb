package pricefeed

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
	"tokenbar/internal/infrastructure/exchange"
)

// Factory 根据公共参数构造主行情源
type Factory func(opts exchange.Options) port.MarketFeed

var (
	mu       sync.RWMutex
	registry = make(map[domain.Source]Factory)
)

// Register 由各交易所包的 init() 调用
func Register(source domain.Source, factory Factory) {
	if factory == nil {
		log.Warn().Str("source", string(source)).Msg("invalid price feed factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[source]; exists {
		log.Warn().Str("source", string(source)).Msg("price feed factory already registered, overwriting")
	}
	registry[source] = factory
}

func Get(source domain.Source) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := registry[source]
	return factory, ok
}

// Sources 已注册的数据源，排序后返回
func Sources() []domain.Source {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]domain.Source, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
