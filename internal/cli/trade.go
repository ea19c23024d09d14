package cli

import (
	"context"
	"fmt"
	"time"

	"alphawave/internal/api"
	"alphawave/internal/bot"
	"alphawave/internal/command"
	"alphawave/internal/config"
	"alphawave/internal/exchange"
	"alphawave/internal/notify"
	"alphawave/internal/strategy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tradeFlags - флаг командной строки и ключ конфигурации, который он переопределяет
var tradeFlags = map[string]string{
	"exchange":        "trade.exchange",
	"symbol":          "trade.symbol",
	"amount":          "trade.amount",
	"time_limit":      "trade.time_limit",
	"timeframe":       "trade.timeframe",
	"strategy":        "trade.strategy",
	"max_positions":   "trade.max_positions",
	"take_profit":     "trade.take_profit",
	"stop_loss":       "trade.stop_loss",
	"signal_interval": "trade.signal_interval",
	"leverage":        "trade.leverage",
	"use_telegram":    "trade.use_telegram",
}

func newTradeCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Запустить торговую сессию по одному символу",
		Long: `Запускает торговый цикл: свечи -> сигнал стратегии -> вход/разворот,
параллельно монитор тейк-профита и стоп-лосса. По истечении time_limit,
по /exit или по Ctrl+C все позиции закрываются.
Пример: alphawave trade --symbol APE/USDT:USDT --amount 1 --time_limit 1800 \
  --timeframe 1m --strategy KaufmanAMA --take_profit 0.5 --stop_loss 0.3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return runTrade(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("exchange", "okx", "Биржа (okx, bybit, bingx)")
	f.String("symbol", "ALPHA/USDT:USDT", "Символ бессрочного контракта")
	f.String("amount", "1", "Объём одного входа в базовой валюте")
	f.Var(newSecondsValue(time.Hour), "time_limit", "Длительность сессии (секунды или 30m)")
	f.String("timeframe", "5m", "Таймфрейм свечей")
	f.String("strategy", string(strategy.TypeKaufmanAMA), fmt.Sprintf("Стратегия (%v)", strategy.Available()))
	f.Int("max_positions", 5, "Максимум одновременных позиций")
	f.Float64("take_profit", 0, "Тейк-профит, % (0 = выключен)")
	f.Float64("stop_loss", 0, "Стоп-лосс, % (0 = выключен)")
	f.Var(newSecondsValue(time.Minute), "signal_interval", "Период опроса сигнала (секунды или 1m)")
	f.Int("leverage", 0, "Кредитное плечо (0 = не менять)")
	f.Bool("use_telegram", false, "Уведомления и команды через Telegram")

	bindFlags(v, cmd, tradeFlags)

	return cmd
}

func runTrade(parent context.Context, cfg *config.Config) error {
	if err := cfg.ValidateTrade(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()
	logger := log.Logger

	ctx, stop := signalContext(parent)
	defer stop()

	creds := cfg.Credentials(cfg.Trade.Exchange)
	gw, err := exchange.NewExchange(cfg.Trade.Exchange, exchangeOptions(creds, logger)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("ошибка закрытия соединений биржи", zap.Error(err))
		}
	}()
	if err := gw.Connect(creds.APIKey, creds.Secret, creds.Passphrase); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Trade.Exchange, err)
	}

	st, err := strategy.ParseType(cfg.Trade.Strategy)
	if err != nil {
		return err
	}
	strat, err := strategy.New(st, cfg.Trade.Params)
	if err != nil {
		return err
	}

	botCfg, err := engineConfig(cfg.Trade)
	if err != nil {
		return err
	}

	notifier := notify.NewNotifier(logger)
	var tg *notify.TelegramSender
	if cfg.Trade.UseTelegram {
		tg = newTelegram(cfg, logger)
		notifier.Add(tg)
	} else {
		notifier.Add(notify.NewLogSender(logger))
	}

	hub := newHub(cfg, logger)
	var events bot.EventSink
	if hub != nil {
		notifier.Add(hub)
		events = hub
	}

	engine := bot.NewEngine(botCfg, gw, strat, notifier, events, log.WithSymbol(cfg.Trade.Symbol).Logger)

	g, gctx := errgroup.WithContext(ctx)
	// остальные задачи живут, пока идёт сессия
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return engine.Run(runCtx)
	})

	if tg != nil {
		router := command.NewRouter(tg, logger)
		command.RegisterTrading(router, engine)
		g.Go(func() error {
			return ignoreCanceled(tg.Poll(runCtx, router.Handle))
		})
	}

	if hub != nil {
		g.Go(func() error {
			hub.Run(runCtx)
			return nil
		})
		srv := newServer(cfg, &api.Dependencies{Trading: engine, Hub: hub, Logger: logger})
		g.Go(func() error { return srv.Run(runCtx) })
	}

	err = g.Wait()
	log.Sugar().Infof("итоги сессии %s: реализованный PnL %s", cfg.Trade.Symbol, engine.RealizedPnL())
	return err
}

func engineConfig(t config.TradeConfig) (bot.Config, error) {
	amount, err := t.AmountDecimal()
	if err != nil {
		return bot.Config{}, &config.ConfigError{Field: "trade.amount", Reason: err.Error()}
	}
	return bot.Config{
		Symbol:         t.Symbol,
		Amount:         amount,
		Timeframe:      t.Timeframe,
		MaxPositions:   t.MaxPositions,
		TakeProfit:     t.TakeProfit,
		StopLoss:       t.StopLoss,
		SignalInterval: t.SignalInterval,
		RiskInterval:   t.RiskInterval,
		TimeLimit:      t.TimeLimit,
		Leverage:       t.Leverage,
		HedgeMode:      t.HedgeMode,
		UsePriceFeed:   t.UsePriceFeed,
		Fill: bot.FillConfig{
			InitialInterval: t.Fill.InitialInterval,
			MaxInterval:     t.Fill.MaxInterval,
			MaxTries:        t.Fill.MaxTries,
			OrderTimeout:    t.Fill.OrderTimeout,
		},
	}, nil
}
