package aggregator

import (
	"strings"

	"github.com/shopspring/decimal"

	"tokenbar/internal/domain"
)

// FormatPrice $65,000.00；小于 1 时保留 6 位小数
func FormatPrice(price decimal.Decimal) string {
	places := int32(2)
	if price.Abs().LessThan(one) {
		places = 6
	}

	intPart, frac, _ := strings.Cut(price.Abs().StringFixed(places), ".")
	out := "$" + groupThousands(intPart)
	if frac != "" {
		out += "." + frac
	}
	if price.IsNegative() {
		out = "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// ConvertToUSD USDT/USDC 按缓存汇率换算，USD 与未知 quote 原样返回
func ConvertToUSD(price decimal.Decimal, quote string, usdtRate, usdcRate decimal.Decimal) decimal.Decimal {
	switch strings.ToUpper(quote) {
	case "USDT":
		return price.Mul(usdtRate)
	case "USDC":
		return price.Mul(usdcRate)
	default:
		return price
	}
}

// QuoteFor 不同数据源下 quote mode 对应的实际 quote。
// binance 合约只有 USDT/USDC 本位；其它交易所的 USD≈ 直接用 USD 市场。
func QuoteFor(source domain.Source, mode domain.QuoteMode) string {
	if source != domain.SourceBinance && mode == domain.QuoteUSDApprox {
		return "USD"
	}
	return mode.Quote()
}

// PairsFor symbol 列表转为主行情源的交易对，跳过 base 与 quote 相同的币
func PairsFor(symbols []string, settings domain.Settings) []domain.MarketPair {
	quote := QuoteFor(settings.DataSource, settings.QuoteMode)
	out := make([]domain.MarketPair, 0, len(symbols))
	for _, sym := range symbols {
		p := domain.NewMarketPair(sym, quote, settings.DataSource)
		if p.Base == "" || p.Base == p.Quote {
			continue
		}
		out = append(out, p)
	}
	return out
}
