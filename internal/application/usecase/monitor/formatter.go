package monitor

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"tokenbar/internal/application/service"
	"tokenbar/internal/domain"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

var sparkGlyphs = []rune("▁▂▃▄▅▆▇█")

func colorize(s, c string) string { return c + s + ansiReset }

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

// Frame 一次渲染需要的全部输入
type Frame struct {
	Symbols      []string
	Prices       map[string]domain.AggregatedPrice
	Sparklines   map[string][]float64
	QuoteMode    domain.QuoteMode
	Disconnected bool
	Status       service.ConnectionStatus
}

type Formatter struct {
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

func (f *Formatter) Render(fr Frame, mode RenderMode) string {
	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}

	sb.WriteString(f.paint("[TOKENBAR "+fr.QuoteMode.Label()+"] ", ansiDim))
	if badge := statusBadge(fr); badge != "" {
		sb.WriteString(f.paint(badge+" ", ansiRed))
	}

	for i, sym := range fr.Symbols {
		if i > 0 {
			sb.WriteString(f.paint("  |  ", ansiDim))
		}
		p, ok := fr.Prices[sym]
		if !ok {
			p = domain.Unavailable(sym, fr.QuoteMode)
		}
		sb.WriteString(sym)
		sb.WriteString(" ")
		sb.WriteString(f.priceCell(p))
		if spark := Sparkline(fr.Sparklines[sym]); spark != "" {
			sb.WriteString(" ")
			sb.WriteString(f.paint(spark, ansiDim))
		}
		if p.Status == domain.StatusLive || p.Status == domain.StatusStale {
			if ch := FormatChange(p.PriceChange24h); ch != "" {
				sb.WriteString(" ")
				sb.WriteString(f.paint(ch, changeColor(p)))
			}
		}
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

func (f *Formatter) priceCell(p domain.AggregatedPrice) string {
	switch p.Status {
	case domain.StatusLive:
		c := ansiYellow
		switch p.Direction {
		case domain.DirectionUp:
			c = ansiGreen
		case domain.DirectionDown:
			c = ansiRed
		}
		return f.paint(p.DisplayPrice, c)
	case domain.StatusStale:
		return f.paint(p.DisplayPrice+"?", ansiDim)
	default:
		return f.paint("--", ansiDim)
	}
}

func statusBadge(fr Frame) string {
	switch {
	case fr.Disconnected:
		return "OFFLINE"
	case fr.Status == service.StatusBackgroundPaused:
		return "PAUSED"
	case fr.Status == service.StatusError:
		return "ERROR"
	default:
		return ""
	}
}

func changeColor(p domain.AggregatedPrice) string {
	switch p.PriceChange24h.Decimal.Sign() {
	case 1:
		return ansiGreen
	case -1:
		return ansiRed
	default:
		return ansiYellow
	}
}

// FormatChange +1.56% / -0.20%，无数据时为空
func FormatChange(ch decimal.NullDecimal) string {
	if !ch.Valid {
		return ""
	}
	s := ch.Decimal.StringFixed(2) + "%"
	if ch.Decimal.Sign() >= 0 {
		s = "+" + s
	}
	return s
}

// Sparkline 把 [0,1] 的点映射到八级方块字符
func Sparkline(points []float64) string {
	if len(points) < 2 {
		return ""
	}
	top := len(sparkGlyphs) - 1
	out := make([]rune, len(points))
	for i, v := range points {
		if math.IsNaN(v) {
			v = 0.5
		}
		idx := int(math.Round(math.Max(0, math.Min(1, v)) * float64(top)))
		out[i] = sparkGlyphs[idx]
	}
	return string(out)
}
