package exchange

import (
	"fmt"
	"strings"
)

// Symbol - разобранный унифицированный символ бессрочного контракта BASE/QUOTE:SETTLE
type Symbol struct {
	Base   string
	Quote  string
	Settle string
}

// ParseSymbol разбирает "BTC/USDT:USDT". Settle по умолчанию равен Quote.
func ParseSymbol(s string) (Symbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	pair, settle, _ := strings.Cut(s, ":")
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	if settle == "" {
		settle = quote
	}
	return Symbol{Base: base, Quote: quote, Settle: settle}, nil
}

// String возвращает унифицированную запись
func (s Symbol) String() string {
	return s.Base + "/" + s.Quote + ":" + s.Settle
}

// Joined склеивает base и quote через разделитель: BTCUSDT, BTC-USDT, BTC_USDT
func (s Symbol) Joined(sep string) string {
	return s.Base + sep + s.Quote
}

// UnifiedSymbol собирает унифицированный символ линейного контракта
func UnifiedSymbol(base, quote string) string {
	return Symbol{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote), Settle: strings.ToUpper(quote)}.String()
}

// venueSymbol конвертирует унифицированный символ в формат биржи
func venueSymbol(symbol, sep string) (string, error) {
	s, err := ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return s.Joined(sep), nil
}

// splitVenueSymbol разбирает символ биржи с разделителем (BTC-USDT, BTC_USDT)
func splitVenueSymbol(raw, sep string) (string, bool) {
	base, quote, ok := strings.Cut(raw, sep)
	if !ok || base == "" || quote == "" {
		return "", false
	}
	return UnifiedSymbol(base, quote), true
}

// ============================================================
// Таймфреймы свечей
// ============================================================

// unifiedTimeframes - общий набор таймфреймов; конкретная биржа сопоставляет им свои коды
var unifiedTimeframes = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h", "1d", "1w", "1M"}

func timeframeKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, tf := range unifiedTimeframes {
		if _, ok := m[tf]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// IsTimeframeSupported проверяет таймфрейм по списку биржи
func IsTimeframeSupported(ex Exchange, timeframe string) bool {
	for _, tf := range ex.Timeframes() {
		if tf == timeframe {
			return true
		}
	}
	return false
}
