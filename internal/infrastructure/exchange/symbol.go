package exchange

import (
	"strings"

	"pricehub/internal/domain"
)

// SymbolConverter 符号转换接口
// 各交易所可以实现此接口，在规范符号 (BTCUSDT) 与交易所格式之间转换
type SymbolConverter interface {
	// ToVenue 例: BTCUSDT -> BTC-USDT
	ToVenue(symbol string) string
	// FromVenue 例: BTC-USDT -> BTCUSDT, BTC-USDT-SWAP -> BTCUSDT
	FromVenue(instID string) string
}

// longest first so FDUSD wins over USD-like suffixes
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "TUSD", "BUSD", "DAI", "EUR", "TRY", "BRL", "BTC", "ETH", "BNB"}

// SplitQuote splits a canonical symbol into base and quote using the known quote assets.
// 例: BTCUSDT -> BTC, USDT
func SplitQuote(symbol string) (base, quote string, ok bool) {
	sym := domain.CanonicalSymbol(symbol)
	for _, q := range knownQuotes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			return sym[:len(sym)-len(q)], q, true
		}
	}
	return sym, "", false
}

// PlainConverter is for venues that already use the canonical form (Binance, Bybit, Bitget).
type PlainConverter struct{}

func (PlainConverter) ToVenue(symbol string) string   { return domain.CanonicalSymbol(symbol) }
func (PlainConverter) FromVenue(instID string) string { return domain.CanonicalSymbol(instID) }

// DashedConverter 通用 "BASE-QUOTE[-SUFFIX]" 转换器 (OKX)
type DashedConverter struct {
	suffix string // e.g. "SWAP"; empty for spot
}

func NewDashedConverter(suffix string) *DashedConverter {
	return &DashedConverter{suffix: strings.ToUpper(strings.Trim(strings.TrimSpace(suffix), "-"))}
}

func (c *DashedConverter) ToVenue(symbol string) string {
	base, quote, ok := SplitQuote(symbol)
	if !ok {
		// unknown quote: pass through, the venue will reject it
		return base
	}
	if c.suffix != "" {
		return base + "-" + quote + "-" + c.suffix
	}
	return base + "-" + quote
}

func (c *DashedConverter) FromVenue(instID string) string {
	id := strings.ToUpper(strings.TrimSpace(instID))
	if c.suffix != "" {
		id = strings.TrimSuffix(id, "-"+c.suffix)
	}
	return strings.ReplaceAll(id, "-", "")
}
