package bot

import (
	"errors"
	"fmt"
)

// ErrFillNotAvailable - ордер размещён, но биржа так и не сообщила цену исполнения
var ErrFillNotAvailable = errors.New("fill price not available")

// TransientFetchError - сбой получения данных (свечи, тикер); цикл пропускается
type TransientFetchError struct {
	Op       string
	Exchange string
	Symbol   string
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Exchange, e.Op, e.Symbol, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// OrderStage - на каком шаге протокола place -> read fill произошёл сбой
type OrderStage string

const (
	StagePlacement  OrderStage = "placement"
	StageFillLookup OrderStage = "fill_lookup"
)

// OrderError - ордер не исполнен или исполнение не подтверждено; книга позиций не меняется
type OrderError struct {
	Stage   OrderStage
	Side    Side
	Symbol  string
	OrderID string // пусто для StagePlacement
	Err     error
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("order %s %s %s (%s): %v", e.Stage, e.Side, e.Symbol, e.OrderID, e.Err)
	}
	return fmt.Sprintf("order %s %s %s: %v", e.Stage, e.Side, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}
