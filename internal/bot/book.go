package bot

import (
	"strings"
	"sync"
	"time"

	"alphawave/internal/exchange"
	"alphawave/internal/strategy"

	"github.com/shopspring/decimal"
)

// Side - направление позиции
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// SideFromSignal переводит сигнал стратегии в направление; ok=false для Hold
func SideFromSignal(s strategy.Signal) (Side, bool) {
	switch s {
	case strategy.Buy:
		return Buy, true
	case strategy.Sell:
		return Sell, true
	default:
		return "", false
	}
}

// Opposite возвращает сторону закрывающего ордера
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide - сторона позиции в hedge-режиме биржи
func (s Side) PositionSide() string {
	if s == Buy {
		return exchange.SideLong
	}
	return exchange.SideShort
}

// Upper - BUY / SELL для сообщений
func (s Side) Upper() string {
	return strings.ToUpper(string(s))
}

// Position - открытая позиция бота. EntryPrice всегда из фактического исполнения.
type Position struct {
	ID         string          `json:"id"` // client order id входного ордера
	OrderID    string          `json:"order_id"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Amount     decimal.Decimal `json:"amount"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// PnL возвращает результат закрытия по цене exit: (exit-entry)*amount, со знаком минус для Sell
func (p Position) PnL(exit decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(p.EntryPrice).Mul(p.Amount)
	if p.Side == Sell {
		return pnl.Neg()
	}
	return pnl
}

// PositionBook - упорядоченный список позиций одного символа.
//
// Последовательность изменений (вход, выход, flatten) сериализует мьютекс движка;
// внутренний RWMutex нужен только для согласованных снимков со стороны
// HTTP API и команд.
type PositionBook struct {
	mu        sync.RWMutex
	positions []Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{}
}

// Add добавляет позицию в конец
func (b *PositionBook) Add(p Position) {
	b.mu.Lock()
	b.positions = append(b.positions, p)
	b.mu.Unlock()
	OpenPositions.Set(float64(b.Len()))
}

// Remove удаляет позицию по ID
func (b *PositionBook) Remove(id string) bool {
	b.mu.Lock()
	removed := false
	for i, p := range b.positions {
		if p.ID == id {
			b.positions = append(b.positions[:i], b.positions[i+1:]...)
			removed = true
			break
		}
	}
	n := len(b.positions)
	b.mu.Unlock()

	OpenPositions.Set(float64(n))
	return removed
}

// Side возвращает направление первой позиции
func (b *PositionBook) Side() (Side, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.positions) == 0 {
		return "", false
	}
	return b.positions[0].Side, true
}

func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Snapshot возвращает копию позиций
func (b *PositionBook) Snapshot() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, len(b.positions))
	copy(out, b.positions)
	return out
}
