package handlers

import (
	"context"
	"net/http"
	"time"

	"alphawave/internal/bot"
	"alphawave/internal/exchange"

	"github.com/shopspring/decimal"
)

// TradingStatus - состояние торговой сессии (bot.Engine)
type TradingStatus interface {
	Symbol() string
	Running() bool
	Positions() []bot.Position
	RealizedPnL() decimal.Decimal
	Balance(ctx context.Context) (*exchange.Balance, error)
}

// TradingHandler отдаёт состояние торгового движка.
//
// Endpoints:
// - GET /api/v1/positions - позиции книги бота
// - GET /api/v1/balance - баланс фьючерсного аккаунта
type TradingHandler struct {
	trading TradingStatus
	timeout time.Duration
}

func NewTradingHandler(trading TradingStatus) *TradingHandler {
	return &TradingHandler{trading: trading, timeout: 10 * time.Second}
}

// PositionsResponse - ответ GET /api/v1/positions
type PositionsResponse struct {
	Symbol      string         `json:"symbol"`
	Running     bool           `json:"running"`
	RealizedPnL string         `json:"realized_pnl"`
	Positions   []bot.Position `json:"positions"`
}

// GetPositions возвращает снимок книги.
//
// GET /api/v1/positions
//
// Response 200 OK:
//
//	{
//	  "symbol": "BTC/USDT:USDT",
//	  "running": true,
//	  "realized_pnl": "12.5",
//	  "positions": [{"id": "...", "side": "buy", "entry_price": "100", "amount": "1", ...}]
//	}
func (h *TradingHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if h.trading == nil {
		writeError(w, http.StatusServiceUnavailable, "TRADING_DISABLED", "trading engine not running", nil)
		return
	}

	positions := h.trading.Positions()
	if positions == nil {
		positions = []bot.Position{}
	}
	writeJSON(w, http.StatusOK, PositionsResponse{
		Symbol:      h.trading.Symbol(),
		Running:     h.trading.Running(),
		RealizedPnL: h.trading.RealizedPnL().String(),
		Positions:   positions,
	})
}

// GetBalance возвращает баланс аккаунта.
//
// GET /api/v1/balance
//
// Response 502 Bad Gateway при ошибке биржи.
func (h *TradingHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if h.trading == nil {
		writeError(w, http.StatusServiceUnavailable, "TRADING_DISABLED", "trading engine not running", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bal, err := h.trading.Balance(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "EXCHANGE_ERROR", "failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}
