package exchange

import (
	"strings"
)

// SymbolConverter 符号转换接口
// 各交易所可以实现此接口来提供符号转换功能
type SymbolConverter interface {
	// Symbol2Coin 将交易对转换为币种
	// 例: BTCUSDT -> BTC
	Symbol2Coin(symbol string) string

	// Coin2Symbol 将币种转换为交易对
	// 例: BTC -> BTCUSDT
	Coin2Symbol(coin string) string

	// SymbolSuffix 返回符号后缀，例: USDT, USDC
	SymbolSuffix() string
}

// CommonSymbolConverter 通用符号转换器
type CommonSymbolConverter struct {
	suffix string
}

func NewCommonSymbolConverter(suffix string) *CommonSymbolConverter {
	return &CommonSymbolConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *CommonSymbolConverter) SymbolSuffix() string {
	return c.suffix
}

// Symbol2Coin 只去掉末尾的 quote，USDTUSDT -> USDT
func (c *CommonSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	if c.suffix != "" && sym != c.suffix {
		sym = strings.TrimSuffix(sym, c.suffix)
	}
	return sym
}

// Coin2Symbol 将币种转换为交易对
// 例: BTC -> BTCUSDT, BTCUSDT -> BTCUSDT
func (c *CommonSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if c.suffix != "" && strings.HasSuffix(coin, c.suffix) && coin != c.suffix {
		return coin
	}
	return coin + c.suffix
}

// SplitQuote 按已知 quote 列表切分拼接符号（最长后缀优先），
// 例: btcusdt -> BTC, USDT。无匹配时 ok=false。
func SplitQuote(symbol string, quotes []string) (base, quote string, ok bool) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	best := ""
	for _, q := range quotes {
		q = strings.ToUpper(q)
		if len(q) > len(best) && len(sym) > len(q) && strings.HasSuffix(sym, q) {
			best = q
		}
	}
	if best == "" {
		return "", "", false
	}
	return strings.TrimSuffix(sym, best), best, true
}
