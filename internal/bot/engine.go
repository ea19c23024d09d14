package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"alphawave/internal/exchange"
	"alphawave/internal/strategy"
	"alphawave/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAlreadyRunning - повторный Run на работающем движке
var ErrAlreadyRunning = errors.New("trading engine already running")

const notifyTimeout = 10 * time.Second

// Config - параметры торговой сессии одного символа на одной бирже
type Config struct {
	Symbol         string
	Amount         decimal.Decimal
	Timeframe      string
	MaxPositions   int
	TakeProfit     float64 // %, 0 = выключен
	StopLoss       float64 // %, 0 = выключен
	SignalInterval time.Duration
	RiskInterval   time.Duration
	TimeLimit      time.Duration // 0 = без ограничения
	Leverage       int           // 0 = не менять
	HedgeMode      bool
	UsePriceFeed   bool // цена для TP/SL из WebSocket тикера вместо REST
	Fill           FillConfig
}

// Notifier - канал пользовательских сообщений (Telegram, WebSocket)
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// EventSink получает структурированные торговые события.
//
// Реализуется пакетом internal/websocket/Hub.
type EventSink interface {
	PublishTrade(ev TradeEvent)
}

// TradeEvent - событие торгового цикла для стрима
type TradeEvent struct {
	Type   string          `json:"type"` // signal, open, close
	Symbol string          `json:"symbol"`
	Side   string          `json:"side,omitempty"`
	Signal string          `json:"signal,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	PnL    decimal.Decimal `json:"pnl,omitempty"`
	Time   time.Time       `json:"time"`
}

// Типы событий
const (
	EventSignal = "signal"
	EventOpen   = "open"
	EventClose  = "close"
)

// Exit reasons
const (
	ReasonFlip       = "flip"
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonShutdown   = "shutdown"
)

// Engine - торговый цикл одного символа.
//
// Поток управления:
// ticker(signal_interval) -> cycle -> candles -> strategy -> orders -> PositionBook
//
// Цикл и RiskMonitor мутируют книгу только под e.mu. Ордера отправляются
// с отвязанным от родителя контекстом: отмена сессии не обрывает ордер на полпути.
type Engine struct {
	cfg      Config
	gw       exchange.Exchange
	strat    strategy.Strategy
	exec     *OrderExecutor
	book     *PositionBook
	risk     *RiskMonitor
	notifier Notifier
	events   EventSink
	logger   *zap.Logger

	// mu сериализует изменения книги и ордера между циклом и риск-монитором
	mu sync.Mutex

	// pnlMu не удерживается во время ордеров: RealizedPnL не ждёт биржу
	pnlMu    sync.Mutex
	realized decimal.Decimal

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine создаёт движок. notifier и events могут быть nil.
func NewEngine(cfg Config, gw exchange.Exchange, strat strategy.Strategy, notifier Notifier, events EventSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Fill.MaxTries == 0 {
		cfg.Fill = DefaultFillConfig()
	}
	if cfg.Fill.OrderTimeout <= 0 {
		cfg.Fill.OrderTimeout = DefaultFillConfig().OrderTimeout
	}
	if cfg.RiskInterval <= 0 {
		cfg.RiskInterval = time.Second
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = time.Minute
	}

	e := &Engine{
		cfg:      cfg,
		gw:       gw,
		strat:    strat,
		book:     NewPositionBook(),
		notifier: notifier,
		events:   events,
		logger:   logger.Named("engine").With(zap.String("symbol", cfg.Symbol)),
		stopCh:   make(chan struct{}),
	}
	e.exec = NewOrderExecutor(gw, cfg.Symbol, cfg.HedgeMode, cfg.Fill, e.logger)

	var feed *PriceFeed
	if cfg.UsePriceFeed {
		feed = NewPriceFeed(3 * cfg.RiskInterval)
	}
	e.risk = NewRiskMonitor(RiskConfig{
		TakeProfit: cfg.TakeProfit,
		StopLoss:   cfg.StopLoss,
		Interval:   cfg.RiskInterval,
	}, gw, cfg.Symbol, e.book, &e.mu, e.closePosition, feed, logger)

	return e
}

// Run исполняет торговую сессию до /exit, отмены ctx или истечения TimeLimit.
// После выхода из цикла все позиции закрываются безусловно.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("торговая сессия запущена",
		zap.String("strategy", string(e.strat.Name())),
		zap.String("timeframe", e.cfg.Timeframe),
		zap.String("amount", e.cfg.Amount.String()),
		zap.Int("max_positions", e.cfg.MaxPositions),
		zap.Duration("time_limit", e.cfg.TimeLimit),
	)

	if e.cfg.Leverage > 0 {
		if err := e.gw.SetLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage); err != nil {
			e.logger.Warn("не удалось установить плечо", zap.Int("leverage", e.cfg.Leverage), zap.Error(err))
		}
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.cfg.TimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.TimeLimit)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := e.risk.Start(runCtx); err != nil {
		e.logger.Warn("ценовой поток недоступен, TP/SL по REST", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.risk.Run(runCtx)
	}()

	e.loop(runCtx)

	cancel()
	wg.Wait()
	e.logger.Info("торговая сессия завершена")

	// ctx может быть уже отменён сигналом: закрытие идёт на отвязанном контексте
	if err := e.Flatten(context.WithoutCancel(ctx), ReasonShutdown); err != nil {
		return fmt.Errorf("flatten on shutdown: %w", err)
	}
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SignalInterval)
	defer ticker.Stop()

	for {
		if err := e.cycle(ctx); err != nil {
			RecordCycle("error")
			e.logger.Warn("цикл пропущен", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// cycle - один проход: свечи -> сигнал -> ордера
func (e *Engine) cycle(ctx context.Context) error {
	if !exchange.IsTimeframeSupported(e.gw, e.cfg.Timeframe) {
		return fmt.Errorf("%s on %s: %w", e.cfg.Timeframe, e.gw.GetName(), exchange.ErrUnsupportedTimeframe)
	}

	period := e.strat.Period()
	candles, err := e.gw.GetCandles(ctx, e.cfg.Symbol, e.cfg.Timeframe, period)
	if err != nil {
		return &TransientFetchError{Op: "candles", Exchange: e.gw.GetName(), Symbol: e.cfg.Symbol, Err: err}
	}
	if len(candles) < period {
		RecordCycle("skipped")
		e.logger.Warn("недостаточно данных для сигнала", zap.Int("candles", len(candles)), zap.Int("period", period))
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// /exit мог прийти, пока грузились свечи
	if e.stopped() {
		return nil
	}

	signal := e.strat.GenerateSignal(closes)
	price := closes[len(closes)-1]
	RecordSignal(signal.String())
	RecordCycle("ok")

	e.logger.Info("сигнал", zap.String("signal", signal.String()), zap.Float64("price", price))
	e.notify(ctx, fmt.Sprintf("Generated signal: %s, Current price: %s", signal, utils.FormatNumber(price)))
	e.publish(TradeEvent{Type: EventSignal, Symbol: e.cfg.Symbol, Signal: signal.String(), Price: decimal.NewFromFloat(price)})

	side, ok := SideFromSignal(signal)
	if !ok {
		e.logger.Debug("сигнал hold, позиция без изменений")
		return nil
	}

	if existing, has := e.book.Side(); has && existing != side {
		if failed := e.closeAll(ctx, ReasonFlip); failed > 0 {
			// не допускаем книгу со смешанными направлениями
			e.logger.Warn("разворот не завершён, вход пропущен", zap.Int("failed", failed))
			return nil
		}
	}

	if e.book.Len() >= e.cfg.MaxPositions {
		e.logger.Info("достигнут лимит позиций, удерживаем", zap.Int("positions", e.book.Len()))
		return nil
	}

	e.open(ctx, side)
	return nil
}

// open выполняет вход; вызывается под e.mu
func (e *Engine) open(ctx context.Context, side Side) {
	octx, cancel := e.orderContext(ctx)
	defer cancel()

	fill, err := e.exec.Open(octx, side, e.cfg.Amount)
	if err != nil {
		e.logger.Error("вход не выполнен", zap.String("side", string(side)), zap.Error(err))
		return
	}

	e.book.Add(Position{
		ID:         fill.ClientOrderID,
		OrderID:    fill.OrderID,
		Side:       side,
		EntryPrice: fill.Price,
		Amount:     fill.Amount,
		OpenedAt:   fill.Time,
	})

	e.notify(ctx, fmt.Sprintf("Executed %s order for %s %s at %s.", side.Upper(), fill.Amount, e.cfg.Symbol, fill.Price))
	e.publish(TradeEvent{Type: EventOpen, Symbol: e.cfg.Symbol, Side: string(side), Price: fill.Price, Amount: fill.Amount, Time: fill.Time})
}

// closePosition закрывает одну позицию; вызывается под e.mu.
// При ошибке книга не меняется.
func (e *Engine) closePosition(ctx context.Context, p Position, reason string) error {
	octx, cancel := e.orderContext(ctx)
	defer cancel()

	fill, err := e.exec.Close(octx, p)
	if err != nil {
		e.logger.Error("закрытие не выполнено", zap.String("position", p.ID), zap.String("reason", reason), zap.Error(err))
		return err
	}

	e.book.Remove(p.ID)
	pnl := p.PnL(fill.Price)
	e.addRealized(pnl)

	e.logger.Info("позиция закрыта",
		zap.String("position", p.ID),
		zap.String("reason", reason),
		zap.String("exit", fill.Price.String()),
		zap.String("pnl", pnl.String()),
	)
	e.notify(ctx, fmt.Sprintf("Closed position: %s %s %s at %s. P/L: %s",
		fill.Side.Upper(), p.Amount, e.cfg.Symbol, fill.Price, pnl))
	e.publish(TradeEvent{Type: EventClose, Symbol: e.cfg.Symbol, Side: string(fill.Side), Reason: reason, Price: fill.Price, Amount: p.Amount, PnL: pnl, Time: fill.Time})
	return nil
}

// closeAll закрывает все позиции по порядку; возвращает число неудач
func (e *Engine) closeAll(ctx context.Context, reason string) int {
	failed := 0
	for _, p := range e.book.Snapshot() {
		if err := e.closePosition(ctx, p, reason); err != nil {
			failed++
		}
	}
	return failed
}

// Flatten закрывает все позиции книги
func (e *Engine) Flatten(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book.Len() == 0 {
		return nil
	}
	e.logger.Info("закрытие оставшихся позиций", zap.Int("positions", e.book.Len()), zap.String("reason", reason))
	if failed := e.closeAll(ctx, reason); failed > 0 {
		return fmt.Errorf("%d positions not closed", failed)
	}
	return nil
}

// Stop прекращает новые циклы. Идемпотентен.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Exit - обработка /exit: остановить циклы и закрыть все позиции
func (e *Engine) Exit(ctx context.Context) error {
	e.Stop()
	return e.Flatten(ctx, ReasonShutdown)
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Running сообщает, идёт ли торговая сессия
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Positions возвращает снимок книги
func (e *Engine) Positions() []Position {
	return e.book.Snapshot()
}

// RealizedPnL - накопленный реализованный результат
func (e *Engine) RealizedPnL() decimal.Decimal {
	e.pnlMu.Lock()
	defer e.pnlMu.Unlock()
	return e.realized
}

func (e *Engine) addRealized(pnl decimal.Decimal) {
	e.pnlMu.Lock()
	defer e.pnlMu.Unlock()
	e.realized = e.realized.Add(pnl)
	RealizedPnl.Set(e.realized.InexactFloat64())
}

// Symbol торгуемого инструмента
func (e *Engine) Symbol() string {
	return e.cfg.Symbol
}

// Gateway биржи, на которой торгует движок
func (e *Engine) Gateway() exchange.Exchange {
	return e.gw
}

func (e *Engine) orderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Fill.OrderTimeout)
}

func (e *Engine) notify(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.Send(nctx, text); err != nil {
		e.logger.Warn("уведомление не отправлено", zap.Error(err))
	}
}

func (e *Engine) publish(ev TradeEvent) {
	if e.events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.events.PublishTrade(ev)
}
