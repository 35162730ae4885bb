package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"tokenbar/internal/application/port"
	"tokenbar/internal/application/service"
)

const (
	DefaultRenderEvery  = time.Second
	DefaultPersistEvery = 5 * time.Second
)

type ServiceDeps struct {
	Source PriceSource
	Status StatusSource
	Sink   port.Sink
	// Prices 为空时写入 noop repo
	Prices *service.PriceService

	RenderEvery   time.Duration
	PersistEvery  time.Duration
	SnapshotEvery time.Duration // 0 关闭快照行
	Color         bool
}

// Service 定时把价格表画到 sink 上，并周期性落库
type Service struct {
	deps ServiceDeps
	st   *State
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	if deps.RenderEvery <= 0 {
		deps.RenderEvery = DefaultRenderEvery
	}
	if deps.PersistEvery <= 0 {
		deps.PersistEvery = DefaultPersistEvery
	}
	if deps.Prices == nil {
		deps.Prices = service.NewPriceService(NewNoopRepo())
	}
	return &Service{
		deps: deps,
		st:   NewState(),
		fmt:  NewFormatter(deps.Color),
	}
}

// Frame 读取聚合器当前状态
func (s *Service) Frame() Frame {
	src := s.deps.Source
	symbols := src.Symbols()
	sparks := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		sparks[sym] = src.Sparkline(sym)
	}
	fr := Frame{
		Symbols:      symbols,
		Prices:       src.Prices(),
		Sparklines:   sparks,
		QuoteMode:    src.Settings().QuoteMode,
		Disconnected: src.IsDisconnected(),
	}
	if s.deps.Status != nil {
		fr.Status = s.deps.Status.Status()
	}
	return fr
}

// renderLive 只有在状态变化时才写 sink
func (s *Service) renderLive() {
	src := s.deps.Source
	var status service.ConnectionStatus
	if s.deps.Status != nil {
		status = s.deps.Status.Status()
	}
	if !s.st.Changed(src.SparklineVersion(), src.IsDisconnected(), status, src.Symbols()) {
		return
	}
	if err := s.deps.Sink.WriteLive(s.fmt.Render(s.Frame(), RenderLive)); err != nil {
		log.Debug().Err(err).Msg("write live line")
	}
}

func (s *Service) persist(ctx context.Context, now time.Time) {
	if err := s.deps.Prices.Record(ctx, s.deps.Source.Prices(), now); err != nil {
		log.Warn().Err(err).Msg("persist prices")
	}
}

func (s *Service) Run(ctx context.Context) error {
	if s.deps.Source == nil {
		return errors.New("monitor: no price source")
	}
	if s.deps.Sink == nil {
		return errors.New("monitor: no sink")
	}

	renderTicker := time.NewTicker(s.deps.RenderEvery)
	defer renderTicker.Stop()
	persistTicker := time.NewTicker(s.deps.PersistEvery)
	defer persistTicker.Stop()

	var snapC <-chan time.Time
	if s.deps.SnapshotEvery > 0 {
		snapTicker := time.NewTicker(s.deps.SnapshotEvery)
		defer snapTicker.Stop()
		snapC = snapTicker.C
	}

	s.renderLive()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.persist(flushCtx, time.Now())
			cancel()
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case <-renderTicker.C:
			s.renderLive()

		case now := <-persistTicker.C:
			s.persist(ctx, now)

		case now := <-snapC:
			line := s.fmt.Render(s.Frame(), RenderSnapshot)
			if err := s.deps.Sink.WriteSnapshot(now, line); err != nil {
				log.Debug().Err(err).Msg("write snapshot line")
			}
			s.st.Reset()
		}
	}
}
