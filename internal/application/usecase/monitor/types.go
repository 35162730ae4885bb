package monitor

import (
	"tokenbar/internal/application/service"
	"tokenbar/internal/domain"
)

// PriceSource 聚合器对外只读的部分
type PriceSource interface {
	Symbols() []string
	Prices() map[string]domain.AggregatedPrice
	Sparkline(symbol string) []float64
	SparklineVersion() uint64
	IsDisconnected() bool
	Settings() domain.Settings
}

// StatusSource 连接状态，一般是 service.Governor
type StatusSource interface {
	Status() service.ConnectionStatus
}
