package bot

import (
	"context"
	"fmt"
	"strings"

	"alphawave/internal/exchange"
	"alphawave/pkg/utils"

	"go.uber.org/zap"
)

// BalanceText - ответ на /balance
func (e *Engine) BalanceText(ctx context.Context) string {
	bal, err := e.gw.GetBalance(ctx)
	if err != nil {
		e.logger.Warn("не удалось получить баланс", zap.Error(err))
		return "Failed to retrieve balance."
	}
	return fmt.Sprintf("Balance:\nTotal: %s\nFree: %s\nUsed: %s",
		utils.FormatNumber(bal.Total), utils.FormatNumber(bal.Free), utils.FormatNumber(bal.Used))
}

// PositionsText - ответ на /positions: книга бота и позиции на стороне биржи
func (e *Engine) PositionsText(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("Open Positions:\n")

	positions := e.book.Snapshot()
	if len(positions) == 0 {
		sb.WriteString("No open positions.")
	}
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s %s %s at %s\n", p.Side.Upper(), p.Amount, e.cfg.Symbol, p.EntryPrice)
	}

	venue, err := e.gw.GetOpenPositions(ctx, e.cfg.Symbol)
	if err != nil {
		e.logger.Debug("позиции биржи недоступны", zap.Error(err))
		return sb.String()
	}
	if len(venue) == 0 {
		return sb.String()
	}

	if len(positions) == 0 {
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n%s positions:\n", strings.ToUpper(e.gw.GetName()))
	for _, vp := range venue {
		fmt.Fprintf(&sb, "%s %s %s at %s (x%d, uPnL %s)\n",
			strings.ToUpper(vp.Side), utils.FormatNumber(vp.Size), vp.Symbol,
			utils.FormatNumber(vp.EntryPrice), vp.Leverage, utils.FormatNumber(utils.RoundTo(vp.UnrealizedPnl, 4)))
	}
	return sb.String()
}

// Balance баланса аккаунта для HTTP API
func (e *Engine) Balance(ctx context.Context) (*exchange.Balance, error) {
	return e.gw.GetBalance(ctx)
}
