package bot

import (
	"context"
	"sync"
	"time"

	"alphawave/internal/exchange"
	"alphawave/pkg/utils"

	"go.uber.org/zap"
)

// RiskConfig - пороги тейк-профита и стоп-лосса в процентах от цены входа
type RiskConfig struct {
	TakeProfit float64 // 0 = выключен
	StopLoss   float64 // 0 = выключен, задаётся положительным
	Interval   time.Duration
}

// Enabled - задан ли хотя бы один порог
func (c RiskConfig) Enabled() bool {
	return c.TakeProfit > 0 || c.StopLoss > 0
}

// Evaluate возвращает причину выхода для позиции при цене current или "".
//
// profit = (current-entry)/entry*100, для Sell со знаком минус.
// TP проверяется первым.
func (c RiskConfig) Evaluate(p Position, current float64) string {
	entry := p.EntryPrice.InexactFloat64()
	if entry <= 0 {
		return ""
	}
	profit := utils.ProfitPercent(p.Side == Sell, entry, current)

	switch {
	case c.TakeProfit > 0 && profit >= c.TakeProfit:
		return ReasonTakeProfit
	case c.StopLoss > 0 && profit <= -c.StopLoss:
		return ReasonStopLoss
	}
	return ""
}

// closeFunc закрывает позицию; вызывается под общим мьютексом книги
type closeFunc func(ctx context.Context, p Position, reason string) error

// RiskMonitor - периодическая проверка TP/SL открытых позиций.
//
// Работает параллельно с торговым циклом и делит с ним мьютекс книги:
// проверка и закрытие никогда не пересекаются с входом или разворотом.
type RiskMonitor struct {
	cfg     RiskConfig
	gw      exchange.Exchange
	symbol  string
	book    *PositionBook
	lock    sync.Locker
	closeFn closeFunc
	feed    *PriceFeed // nil = цена всегда по REST
	logger  *zap.Logger
}

func NewRiskMonitor(
	cfg RiskConfig,
	gw exchange.Exchange,
	symbol string,
	book *PositionBook,
	lock sync.Locker,
	closeFn closeFunc,
	feed *PriceFeed,
	logger *zap.Logger,
) *RiskMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &RiskMonitor{
		cfg:     cfg,
		gw:      gw,
		symbol:  symbol,
		book:    book,
		lock:    lock,
		closeFn: closeFn,
		feed:    feed,
		logger:  logger.Named("risk").With(zap.String("symbol", symbol)),
	}
}

// Start подписывает ценовой поток, если он включён
func (rm *RiskMonitor) Start(ctx context.Context) error {
	if rm.feed == nil || !rm.cfg.Enabled() {
		return nil
	}
	return rm.gw.SubscribeTicker(rm.symbol, rm.feed.Update)
}

// Run проверяет позиции каждые Interval до отмены ctx
func (rm *RiskMonitor) Run(ctx context.Context) {
	if !rm.cfg.Enabled() {
		rm.logger.Debug("TP/SL не заданы, мониторинг выключен")
		return
	}

	ticker := time.NewTicker(rm.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.Check(ctx)
		}
	}
}

// Check выполняет одну проверку: одна цена на все позиции книги
func (rm *RiskMonitor) Check(ctx context.Context) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if rm.book.Len() == 0 {
		return
	}

	price, err := rm.currentPrice(ctx)
	if err != nil {
		rm.logger.Warn("не удалось получить цену", zap.Error(err))
		return
	}

	for _, p := range rm.book.Snapshot() {
		reason := rm.cfg.Evaluate(p, price)
		if reason == "" {
			continue
		}
		RecordRiskTrigger(reason)
		rm.logger.Info("сработал порог выхода",
			zap.String("reason", reason),
			zap.String("position", p.ID),
			zap.String("entry", p.EntryPrice.String()),
			zap.Float64("price", price),
		)
		if err := rm.closeFn(ctx, p, reason); err != nil {
			rm.logger.Error("закрытие по порогу не выполнено", zap.String("position", p.ID), zap.Error(err))
		}
	}
}

func (rm *RiskMonitor) currentPrice(ctx context.Context) (float64, error) {
	if rm.feed != nil {
		if p, ok := rm.feed.Price(); ok {
			return p, nil
		}
	}
	tk, err := rm.gw.GetTicker(ctx, rm.symbol)
	if err != nil {
		return 0, &TransientFetchError{Op: "ticker", Exchange: rm.gw.GetName(), Symbol: rm.symbol, Err: err}
	}
	return tk.LastPrice, nil
}

// PriceFeed хранит последнюю цену из WebSocket тикера
type PriceFeed struct {
	mu     sync.RWMutex
	price  float64
	at     time.Time
	maxAge time.Duration
}

func NewPriceFeed(maxAge time.Duration) *PriceFeed {
	return &PriceFeed{maxAge: maxAge}
}

// Update - callback для SubscribeTicker
func (f *PriceFeed) Update(t *exchange.Ticker) {
	if t == nil || t.LastPrice <= 0 {
		return
	}
	// свежесть по локальным часам: время биржи может расходиться с нашим
	f.mu.Lock()
	f.price = t.LastPrice
	f.at = time.Now()
	f.mu.Unlock()
}

// Price возвращает последнюю цену, если она не старше maxAge
func (f *PriceFeed) Price() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price <= 0 || time.Since(f.at) > f.maxAge {
		return 0, false
	}
	return f.price, true
}
