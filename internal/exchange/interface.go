package exchange

import (
	"context"
	"time"
)

// MarketData - публичные рыночные данные бессрочных контрактов.
//
// Используется агрегатором фандинга: биржи, на которых бот не торгует,
// реализуют только эту часть (gate, hyperliquid).
type MarketData interface {
	// GetName возвращает имя биржи
	GetName() string

	// ListSwapSymbols возвращает унифицированные символы бессрочных контрактов (BTC/USDT:USDT)
	ListSwapSymbols(ctx context.Context) ([]string, error)

	// GetFundingRate получает текущую ставку фандинга и время следующего расчёта
	GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error)

	// GetTicker получает последнюю цену, лучшие bid/ask и суточный объём в базовой валюте
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetOrderBook получает стакан ордеров с заданной глубиной
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}

// Exchange - полный торговый шлюз биржи (одна биржа, один символ на инстанс бота)
type Exchange interface {
	MarketData

	// Connect сохраняет ключи и проверяет их запросом баланса
	Connect(apiKey, secret, passphrase string) error

	// Timeframes возвращает поддерживаемые таймфреймы свечей (1m, 5m, 1h ...)
	Timeframes() []string

	// GetBalance получает баланс фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (*Balance, error)

	// GetCandles получает последние limit свечей, от старых к новым
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// SetLeverage устанавливает кредитное плечо для символа
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder размещает рыночный ордер.
	// Возвращённый ордер может не содержать цену исполнения: её читают через GetOrder.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// GetOrder получает состояние ордера по ID
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// GetOpenPositions получает открытые позиции (все, если symbols пуст)
	GetOpenPositions(ctx context.Context, symbols ...string) ([]*Position, error)

	// SubscribeTicker подписывается на обновления цены через WebSocket
	SubscribeTicker(symbol string, callback func(*Ticker)) error

	// Close закрывает соединения с биржей
	Close() error
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol     string    `json:"symbol"`
	BidPrice   float64   `json:"bid_price"`   // лучшая цена покупки
	AskPrice   float64   `json:"ask_price"`   // лучшая цена продажи
	LastPrice  float64   `json:"last_price"`  // последняя сделка
	BaseVolume float64   `json:"base_volume"` // объём за 24ч в базовой валюте
	Timestamp  time.Time `json:"timestamp"`
}

// OrderBook представляет стакан ордеров
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // по убыванию цены
	Asks      []PriceLevel `json:"asks"` // по возрастанию цены
	Timestamp time.Time    `json:"timestamp"`
}

// PriceLevel представляет уровень цены в стакане
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// TopAskSize возвращает объём лучшего ask (0 если стакан пуст)
func (ob *OrderBook) TopAskSize() float64 {
	if ob == nil || len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Volume
}

// TopBidSize возвращает объём лучшего bid (0 если стакан пуст)
func (ob *OrderBook) TopBidSize() float64 {
	if ob == nil || len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Volume
}

// Candle - одна OHLCV свеча
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// FundingRate - ставка фандинга по бессрочному контракту
type FundingRate struct {
	Symbol      string     `json:"symbol"`
	Rate        float64    `json:"rate"`
	FundingTime *time.Time `json:"funding_time,omitempty"` // nil, если биржа не сообщила
}

// Balance - баланс в валюте расчётов
type Balance struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Free     float64 `json:"free"`
	Used     float64 `json:"used"`
}

// OrderRequest - параметры рыночного ордера
type OrderRequest struct {
	Symbol        string
	Side          string  // SideBuy / SideSell
	Amount        float64 // в контрактах/монетах биржи
	ReduceOnly    bool
	PositionSide  string // SideLong / SideShort для hedge-режима, пусто для one-way
	ClientOrderID string
}

// Order представляет ордер
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Quantity      float64   `json:"quantity"`
	FilledQty     float64   `json:"filled_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price"` // средняя цена исполнения, 0 если ещё неизвестна
	Price         float64   `json:"price"`          // цена ордера, если биржа её сообщает
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// FillPrice возвращает среднюю цену исполнения, а если её нет - цену ордера.
// 0 означает, что цена пока неизвестна.
func (o *Order) FillPrice() float64 {
	if o == nil {
		return 0
	}
	if o.AvgFillPrice > 0 {
		return o.AvgFillPrice
	}
	return o.Price
}

// Position представляет открытую позицию на стороне биржи
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "long" или "short"
	Size          float64   `json:"size"` // в контрактах
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Side constants for positions
const (
	SideLong  = "long"
	SideShort = "short"
)

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)
