package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"alphawave/internal/exchange"
	"alphawave/internal/strategy"
)

// ============ Mock Exchange ============

// MockExchange мок для exchange.Exchange
type MockExchange struct {
	mu sync.Mutex

	timeframes []string
	candles    []exchange.Candle
	candlesErr error
	lastPrice  float64
	tickerErr  error
	fillPrice  float64
	balance    *exchange.Balance
	venuePos   []*exchange.Position

	// placeFn переопределяет PlaceMarketOrder, getOrderFn - GetOrder
	placeFn    func(req exchange.OrderRequest) (*exchange.Order, error)
	getOrderFn func(id string, call int) (*exchange.Order, error)

	orders        []exchange.OrderRequest
	getOrderCalls int
	leverage      int
	tickerCb      func(*exchange.Ticker)
	nextID        int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		timeframes: []string{"1m", "5m", "1h"},
		lastPrice:  100,
		fillPrice:  100,
		balance:    &exchange.Balance{Currency: "USDT", Total: 1000, Free: 800, Used: 200},
	}
}

func (m *MockExchange) GetName() string { return "mock" }

func (m *MockExchange) ListSwapSymbols(ctx context.Context) ([]string, error) {
	return []string{"BTC/USDT:USDT"}, nil
}

func (m *MockExchange) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error) {
	return &exchange.FundingRate{Symbol: symbol, Rate: 0.0001}, nil
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerErr != nil {
		return nil, m.tickerErr
	}
	return &exchange.Ticker{Symbol: symbol, LastPrice: m.lastPrice, Timestamp: time.Now()}, nil
}

func (m *MockExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{Symbol: symbol}, nil
}

func (m *MockExchange) Connect(apiKey, secret, passphrase string) error { return nil }

func (m *MockExchange) Timeframes() []string { return m.timeframes }

func (m *MockExchange) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	if m.balance == nil {
		return nil, errors.New("balance unavailable")
	}
	return m.balance, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candlesErr != nil {
		return nil, m.candlesErr
	}
	if len(m.candles) > limit {
		return m.candles[len(m.candles)-limit:], nil
	}
	return m.candles, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	m.leverage = leverage
	m.mu.Unlock()
	return nil
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders = append(m.orders, req)
	if m.placeFn != nil {
		return m.placeFn(req)
	}
	m.nextID++
	return &exchange.Order{
		ID:            fmt.Sprintf("ord-%d", m.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Amount,
		FilledQty:     req.Amount,
		AvgFillPrice:  m.fillPrice,
		Status:        exchange.OrderStatusFilled,
	}, nil
}

func (m *MockExchange) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrderCalls++
	if m.getOrderFn != nil {
		return m.getOrderFn(orderID, m.getOrderCalls)
	}
	return &exchange.Order{ID: orderID, AvgFillPrice: m.fillPrice, Status: exchange.OrderStatusFilled}, nil
}

func (m *MockExchange) GetOpenPositions(ctx context.Context, symbols ...string) ([]*exchange.Position, error) {
	return m.venuePos, nil
}

func (m *MockExchange) SubscribeTicker(symbol string, callback func(*exchange.Ticker)) error {
	m.mu.Lock()
	m.tickerCb = callback
	m.mu.Unlock()
	return nil
}

func (m *MockExchange) Close() error { return nil }

// Orders возвращает копию отправленных ордеров
func (m *MockExchange) Orders() []exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]exchange.OrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MockExchange) setLastPrice(p float64) {
	m.mu.Lock()
	m.lastPrice = p
	m.mu.Unlock()
}

func (m *MockExchange) setFillPrice(p float64) {
	m.mu.Lock()
	m.fillPrice = p
	m.mu.Unlock()
}

// candlesFrom строит свечи по ценам закрытия
func candlesFrom(closes ...float64) []exchange.Candle {
	out := make([]exchange.Candle, len(closes))
	start := time.Now().Add(-time.Duration(len(closes)) * time.Minute)
	for i, c := range closes {
		out[i] = exchange.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

// ============ Mock Strategy ============

// scriptedStrategy отдаёт сигналы по очереди, последний повторяется
type scriptedStrategy struct {
	mu      sync.Mutex
	signals []strategy.Signal
	calls   int
}

func newScripted(signals ...strategy.Signal) *scriptedStrategy {
	return &scriptedStrategy{signals: signals}
}

func (s *scriptedStrategy) GenerateSignal(prices []float64) strategy.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.signals) {
		i = len(s.signals) - 1
	}
	s.calls++
	return s.signals[i]
}

func (s *scriptedStrategy) Period() int         { return 3 }
func (s *scriptedStrategy) Name() strategy.Type { return "scripted" }

// ============ Mock Notifier ============

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []TradeEvent
}

func (s *recordingSink) PublishTrade(ev TradeEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func testFillConfig() FillConfig {
	return FillConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxTries:        4,
		OrderTimeout:    time.Second,
	}
}
