package exchange

import (
	"fmt"
	"strings"
)

// TradingExchanges - биржи, на которых бот может торговать
var TradingExchanges = []string{
	"okx",
	"bybit",
	"bingx",
}

// SupportedExchanges - все биржи, доступные агрегатору фандинга
var SupportedExchanges = []string{
	"bybit",
	"gate",
	"okx",
	"bingx",
	"hyperliquid",
}

// NewExchange создает торговый шлюз по имени биржи
func NewExchange(name string, opts ...Option) (Exchange, error) {
	switch strings.ToLower(name) {
	case "okx":
		return NewOKX(opts...), nil
	case "bybit":
		return NewBybit(opts...), nil
	case "bingx":
		return NewBingX(opts...), nil
	case "gate", "hyperliquid":
		return nil, notSupported(strings.ToLower(name), "trading")
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// NewMarketData создает источник рыночных данных по имени биржи
func NewMarketData(name string, opts ...Option) (MarketData, error) {
	switch strings.ToLower(name) {
	case "gate":
		return NewGate(opts...), nil
	case "hyperliquid":
		return NewHyperliquid(opts...), nil
	default:
		return NewExchange(name, opts...)
	}
}

// IsSupported проверяет, поддерживается ли биржа агрегатором
func IsSupported(name string) bool {
	return contains(SupportedExchanges, name)
}

// IsTradingSupported проверяет, можно ли торговать на бирже
func IsTradingSupported(name string) bool {
	return contains(TradingExchanges, name)
}

func contains(list []string, name string) bool {
	name = strings.ToLower(name)
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}
