package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported - биржа не поддерживает операцию (например, торговлю)
	ErrNotSupported = errors.New("operation not supported by exchange")

	// ErrUnsupportedTimeframe - таймфрейм свечей отсутствует в списке биржи
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

	// ErrSymbolNotFound - биржа не вернула данных по символу
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrOrderNotFound - ордер ещё не виден в API биржи
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidSymbol - символ не в унифицированном формате BASE/QUOTE:SETTLE
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Exchange, e.Code, e.Message)
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

func newError(exchange, code, msg string, original error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: code, Message: msg, Original: original}
}

func notSupported(exchange, op string) error {
	return newError(exchange, "", op+" is not supported", ErrNotSupported)
}
