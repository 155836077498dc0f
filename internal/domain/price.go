package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is one normalized price update for a symbol. Treat it as an immutable value.
type PriceTick struct {
	Symbol        string           // canonical upper-case, e.g. "BTCUSDT"
	Price         decimal.Decimal  // last traded price
	ChangePercent *decimal.Decimal // 24h change in percent, nil when the venue did not send it
	ReceivedAt    time.Time        // local receive time (wall + monotonic)
	Source        string           // upstream venue name
}

// NewPriceTick stamps the tick with the local receive time.
func NewPriceTick(symbol string, price decimal.Decimal, changePct *decimal.Decimal, source string) PriceTick {
	return PriceTick{
		Symbol:        CanonicalSymbol(symbol),
		Price:         price,
		ChangePercent: changePct,
		ReceivedAt:    time.Now(),
		Source:        source,
	}
}

// NewerThan reports whether t was received after other.
func (t PriceTick) NewerThan(other PriceTick) bool {
	return t.ReceivedAt.After(other.ReceivedAt)
}

// CanonicalSymbol trims and upper-cases a symbol.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidSymbol accepts 2..30 upper-case letters or digits.
func ValidSymbol(symbol string) bool {
	if len(symbol) < 2 || len(symbol) > 30 {
		return false
	}
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// CanonicalSymbols canonicalizes and de-duplicates, dropping empty entries.
func CanonicalSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		u := CanonicalSymbol(s)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
