package cli

import (
	"context"
	"fmt"

	"alphawave/internal/api"
	"alphawave/internal/command"
	"alphawave/internal/config"
	"alphawave/internal/exchange"
	"alphawave/internal/funding"
	"alphawave/internal/notify"
	"alphawave/pkg/ratelimit"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newFundingCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "funding",
		Short: "Запустить Telegram-бот ставок фандинга",
		Long: `Собирает ставки фандинга со всех бирж из funding.exchanges, выбирает
символы с максимальной |ставкой| и публикует отчёт в Telegram на каждой
границе получаса (KST). Команды бота: /on /prev /symbol /symbol_list /info.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return runFunding(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringSlice("exchanges", nil, "Биржи агрегатора (по умолчанию bybit,gate,okx,bingx)")
	f.Int("top_n", 10, "Размер отчёта")
	f.Bool("schedule", true, "Публиковать отчёт каждые 30 минут")
	bindFlags(v, cmd, map[string]string{
		"exchanges": "funding.exchanges",
		"top_n":     "funding.top_n",
		"schedule":  "funding.schedule",
	})

	return cmd
}

// bindFlags привязывает флаги к ключам конфигурации; флаг, заданный явно,
// перекрывает файл и окружение
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(name))
	}
}

func runFunding(parent context.Context, cfg *config.Config) error {
	if err := cfg.ValidateFunding(); err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()
	logger := log.Logger

	ctx, stop := signalContext(parent)
	defer stop()

	markets, err := fundingMarkets(cfg, logger)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewExchangeLimiter(cfg.Funding.RateLimit)
	for name, rate := range cfg.Funding.RateLimits {
		limiter.Set(name, rate)
	}

	agg := funding.NewAggregator(markets, funding.Config{
		TopN:           cfg.Funding.TopN,
		Workers:        cfg.Funding.Workers,
		RequestTimeout: cfg.Funding.RequestTimeout,
	}, limiter, logger)

	tg := newTelegram(cfg, logger)
	notifier := notify.NewNotifier(logger, tg)
	hub := newHub(cfg, logger)
	if hub != nil {
		notifier.Add(hub)
	}

	sched := funding.NewScheduler(agg, notifier, logger)
	router := command.NewRouter(tg, logger)
	command.RegisterFunding(router, sched)

	logger.Info("бот фандинга запущен",
		zap.Strings("exchanges", cfg.Funding.Exchanges),
		zap.Int("top_n", cfg.Funding.TopN),
		zap.Bool("schedule", cfg.Funding.Schedule),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(tg.Poll(gctx, router.Handle))
	})
	if cfg.Funding.Schedule {
		g.Go(func() error {
			return ignoreCanceled(sched.Run(gctx))
		})
	}
	if hub != nil {
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		srv := newServer(cfg, &api.Dependencies{Funding: sched, Hub: hub, Logger: logger})
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

// fundingMarkets создаёт публичные клиенты бирж агрегатора
func fundingMarkets(cfg *config.Config, logger *zap.Logger) ([]exchange.MarketData, error) {
	markets := make([]exchange.MarketData, 0, len(cfg.Funding.Exchanges))
	for _, name := range cfg.Funding.Exchanges {
		m, err := exchange.NewMarketData(name, exchangeOptions(cfg.Credentials(name), logger)...)
		if err != nil {
			return nil, fmt.Errorf("funding exchange %s: %w", name, err)
		}
		markets = append(markets, m)
	}
	return markets, nil
}
