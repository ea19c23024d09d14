package command

import (
	"context"
	"errors"
	"fmt"

	"alphawave/internal/funding"

	"go.uber.org/zap"
)

const (
	msgCancelled    = "Action cancelled."
	msgRunning      = "Trading bot is running."
	msgExiting      = "Exiting all positions and stopping trading."
	msgExited       = "All positions have been closed as per your request."
	msgExitFailed   = "Failed to close all positions: %v"
	msgNoPrevious   = "No previous data available. Please try /on to get the latest data."
	msgNoData       = "No funding rate data available. Please run /on or wait for the 30-minute cycle."
	msgAskSymbol    = "Which symbol would you like to check?"
	msgNoSymbol     = "No data found for symbol: %s"
	msgSymbolError  = "Error fetching data for symbol: %s"
	msgSymbolsError = "Error while fetching symbol list!"
)

const infoText = "Command Manual:\n\n" +
	"/on - Fetches the latest funding rate data and updates the stored data.\n" +
	"/prev - Shows the most recent funding rate data previously fetched.\n" +
	"/symbol - Lets you input a symbol to get detailed funding rate information for that specific symbol.\n" +
	"/symbol_list - Displays a list of symbols for which funding rate data is available.\n\n" +
	"Notes:\n" +
	"- The funding rate data updates every 30 minutes (at half-past and on the hour).\n" +
	"- You can use /prev to view the previously fetched data.\n" +
	"- If you want to fetch new data immediately, use /on to trigger a manual update.\n" +
	"- If the server was just started or if it's before the next 30-minute update, use /on to get the latest data.\n"

// Trading - то, что командам нужно от торгового движка (bot.Engine)
type Trading interface {
	BalanceText(ctx context.Context) string
	PositionsText(ctx context.Context) string
	Exit(ctx context.Context) error
}

// Funding - то, что командам нужно от планировщика (funding.Scheduler)
type Funding interface {
	Publish(ctx context.Context) error
	Latest() (*funding.Snapshot, bool)
	SymbolDetail(symbol string) (string, error)
	SymbolList() (string, error)
}

// RegisterTrading подключает /start /balance /positions /exit
func RegisterTrading(r *Router, t Trading) {
	r.Register("start", func(ctx context.Context, req Request) string {
		return msgRunning
	})
	r.Register("balance", func(ctx context.Context, req Request) string {
		return t.BalanceText(ctx)
	})
	r.Register("positions", func(ctx context.Context, req Request) string {
		return t.PositionsText(ctx)
	})
	r.Register("exit", func(ctx context.Context, req Request) string {
		r.reply(ctx, req.ChatID, msgExiting)
		if err := t.Exit(ctx); err != nil {
			r.logger.Error("позиции закрыты не полностью", zap.Error(err))
			return fmt.Sprintf(msgExitFailed, err)
		}
		return msgExited
	})
}

// RegisterFunding подключает /on /prev /symbol /symbol_list /info
func RegisterFunding(r *Router, f Funding) {
	r.Register("on", func(ctx context.Context, req Request) string {
		// отчёт или сообщение об ошибке рассылает сам планировщик
		if err := f.Publish(ctx); err != nil {
			r.logger.Warn("ручное обновление фандинга не удалось", zap.Error(err))
		}
		return ""
	})

	r.Register("prev", func(ctx context.Context, req Request) string {
		snap, ok := f.Latest()
		if !ok {
			return msgNoPrevious
		}
		return snap.Report
	})

	detail := func(ctx context.Context, req Request) string {
		text, err := f.SymbolDetail(req.Args)
		switch {
		case err == nil:
			return text
		case errors.Is(err, funding.ErrNoData):
			return msgNoData
		case errors.Is(err, funding.ErrSymbolNotFound):
			return fmt.Sprintf(msgNoSymbol, req.Args)
		default:
			r.logger.Error("ошибка данных по символу", zap.String("symbol", req.Args), zap.Error(err))
			return fmt.Sprintf(msgSymbolError, req.Args)
		}
	}
	r.Register("symbol", func(ctx context.Context, req Request) string {
		if _, ok := f.Latest(); !ok {
			return msgNoData
		}
		if req.Args != "" {
			return detail(ctx, req)
		}
		r.Prompt(req.ChatID, detail)
		return msgAskSymbol
	})

	r.Register("symbol_list", func(ctx context.Context, req Request) string {
		list, err := f.SymbolList()
		switch {
		case errors.Is(err, funding.ErrNoData):
			return msgNoData
		case err != nil:
			r.logger.Error("ошибка списка символов", zap.Error(err))
			return msgSymbolsError
		}
		return list
	})

	r.Register("info", func(ctx context.Context, req Request) string {
		return infoText
	})
}

func (r *Router) reply(ctx context.Context, chatID, text string) {
	if r.replier == nil {
		return
	}
	if err := r.replier.SendTo(ctx, chatID, text); err != nil {
		r.logger.Error("ответ не отправлен", zap.String("chat_id", chatID), zap.Error(err))
	}
}
