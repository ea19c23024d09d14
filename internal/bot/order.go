package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alphawave/internal/exchange"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FillConfig - опрос исполнения после размещения рыночного ордера
type FillConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxTries        uint          `mapstructure:"max_tries"`
	OrderTimeout    time.Duration `mapstructure:"order_timeout"` // на весь протокол place -> fill
}

// DefaultFillConfig: 200ms, 400ms, 800ms ... до 2s, не более 8 попыток
func DefaultFillConfig() FillConfig {
	return FillConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxTries:        8,
		OrderTimeout:    30 * time.Second,
	}
}

// Fill - подтверждённое исполнение рыночного ордера
type Fill struct {
	OrderID       string
	ClientOrderID string
	Side          Side
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Time          time.Time
}

// OrderExecutor размещает рыночные ордера и дочитывает цену исполнения.
//
// Часть бирж не возвращает среднюю цену в ответе на размещение, поэтому после
// place ордер опрашивается через GetOrder с экспоненциальной задержкой.
type OrderExecutor struct {
	gw        exchange.Exchange
	symbol    string
	hedgeMode bool
	cfg       FillConfig
	logger    *zap.Logger
}

func NewOrderExecutor(gw exchange.Exchange, symbol string, hedgeMode bool, cfg FillConfig, logger *zap.Logger) *OrderExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderExecutor{
		gw:        gw,
		symbol:    symbol,
		hedgeMode: hedgeMode,
		cfg:       cfg,
		logger:    logger,
	}
}

// Open открывает позицию в направлении side
func (oe *OrderExecutor) Open(ctx context.Context, side Side, amount decimal.Decimal) (*Fill, error) {
	req := exchange.OrderRequest{
		Symbol: oe.symbol,
		Side:   string(side),
		Amount: amount.InexactFloat64(),
	}
	if oe.hedgeMode {
		req.PositionSide = side.PositionSide()
	}
	return oe.execute(ctx, "open", side, req)
}

// Close закрывает позицию встречным reduce-only ордером.
// В hedge-режиме positionSide - сторона самой позиции, а не закрывающего ордера.
func (oe *OrderExecutor) Close(ctx context.Context, p Position) (*Fill, error) {
	side := p.Side.Opposite()
	req := exchange.OrderRequest{
		Symbol:     oe.symbol,
		Side:       string(side),
		Amount:     p.Amount.InexactFloat64(),
		ReduceOnly: true,
	}
	if oe.hedgeMode {
		req.PositionSide = p.Side.PositionSide()
	}
	return oe.execute(ctx, "close", side, req)
}

func (oe *OrderExecutor) execute(ctx context.Context, action string, side Side, req exchange.OrderRequest) (*Fill, error) {
	start := time.Now()
	req.ClientOrderID = uuid.NewString()

	order, err := oe.gw.PlaceMarketOrder(ctx, req)
	if err != nil {
		RecordOrder(action, StagePlacement, false, time.Since(start))
		return nil, &OrderError{Stage: StagePlacement, Side: side, Symbol: oe.symbol, Err: err}
	}

	if order.FillPrice() <= 0 {
		order, err = oe.waitFill(ctx, order.ID)
		if err != nil {
			RecordOrder(action, StageFillLookup, false, time.Since(start))
			return nil, &OrderError{Stage: StageFillLookup, Side: side, Symbol: oe.symbol, OrderID: order.ID, Err: err}
		}
	}
	RecordOrder(action, StageFillLookup, true, time.Since(start))

	amount := decimal.NewFromFloat(req.Amount)
	if order.FilledQty > 0 {
		amount = decimal.NewFromFloat(order.FilledQty)
	}

	// время исполнения по бирже, если она его сообщила (пустое поле даёт эпоху)
	filledAt := order.CreatedAt
	if filledAt.UnixMilli() <= 0 {
		filledAt = time.Now()
	}

	fill := &Fill{
		OrderID:       order.ID,
		ClientOrderID: req.ClientOrderID,
		Side:          side,
		Price:         decimal.NewFromFloat(order.FillPrice()),
		Amount:        amount,
		Time:          filledAt,
	}

	oe.logger.Info("ордер исполнен",
		zap.String("action", action),
		zap.String("side", string(side)),
		zap.String("order_id", fill.OrderID),
		zap.String("client_order_id", fill.ClientOrderID),
		zap.String("price", fill.Price.String()),
		zap.String("amount", fill.Amount.String()),
		zap.Duration("latency", time.Since(start)),
	)
	return fill, nil
}

// waitFill опрашивает ордер, пока биржа не сообщит цену исполнения.
// При ошибке возвращает ордер-заглушку с ID, чтобы вызывающий мог его залогировать.
func (oe *OrderExecutor) waitFill(ctx context.Context, orderID string) (*exchange.Order, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = oe.cfg.InitialInterval
	policy.MaxInterval = oe.cfg.MaxInterval

	op := func() (*exchange.Order, error) {
		o, err := oe.gw.GetOrder(ctx, oe.symbol, orderID)
		if err != nil {
			return nil, err
		}
		if o.FillPrice() > 0 {
			return o, nil
		}
		switch o.Status {
		case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
			return nil, backoff.Permanent(fmt.Errorf("order %s %s: %w", orderID, o.Status, ErrFillNotAvailable))
		}
		return nil, ErrFillNotAvailable
	}

	notify := func(err error, d time.Duration) {
		oe.logger.Debug("цена исполнения ещё неизвестна", zap.String("order_id", orderID), zap.Duration("retry_in", d), zap.Error(err))
	}

	order, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(oe.cfg.MaxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if !errors.Is(err, ErrFillNotAvailable) {
			err = fmt.Errorf("%w: %w", ErrFillNotAvailable, err)
		}
		return &exchange.Order{ID: orderID}, err
	}
	return order, nil
}
