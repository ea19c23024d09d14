// Package cli - командная строка alphawave: торговая сессия и агрегатор фандинга.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"alphawave/internal/api"
	"alphawave/internal/config"
	"alphawave/internal/exchange"
	"alphawave/internal/notify"
	"alphawave/internal/websocket"
	"alphawave/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version проставляется при сборке через -ldflags
var Version = "dev"

// NewRootCmd создаёт корневую команду
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alphawave",
		Short: "alphawave - торговый бот бессрочных фьючерсов и монитор фандинга",
		Long: `alphawave торгует одним бессрочным контрактом по сигналам стратегии
(KaufmanAMA, MovingAverageCross) с тейк-профитом и стоп-лоссом, либо собирает ставки
фандинга с нескольких бирж и публикует отчёт в Telegram каждые 30 минут.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newTradeCmd())
	rootCmd.AddCommand(newFundingCmd())
	rootCmd.AddCommand(newSecretCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().String("config", "", "Путь к файлу конфигурации (yaml/json/toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Уровень логирования (debug, info, warn, error)")

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alphawave %s\n", Version)
		},
	}
}

// loadConfig читает конфигурацию с учётом привязанных к v флагов команды
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if f := cmd.Flags().Lookup("log-level"); f != nil {
		if err := v.BindPFlag("logging.level", f); err != nil {
			return nil, err
		}
	}
	path, _ := cmd.Flags().GetString("config")
	return config.LoadViper(v, path)
}

func newLogger(cfg *config.Config) *utils.Logger {
	return utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.File,
	})
}

// signalContext отменяется по SIGINT/SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func exchangeOptions(creds config.ExchangeCredentials, logger *zap.Logger) []exchange.Option {
	opts := []exchange.Option{
		exchange.WithTestnet(creds.Testnet),
		exchange.WithLogger(logger),
	}
	if creds.BaseURL != "" {
		opts = append(opts, exchange.WithBaseURL(creds.BaseURL))
	}
	return opts
}

func newTelegram(cfg *config.Config, logger *zap.Logger) *notify.TelegramSender {
	return notify.NewTelegramSender(notify.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		BaseURL:     cfg.Telegram.BaseURL,
		PollTimeout: cfg.Telegram.PollTimeout,
	}, logger)
}

// newHub возвращает стрим событий, если HTTP API включён
func newHub(cfg *config.Config, logger *zap.Logger) *websocket.Hub {
	if !cfg.Server.Enabled {
		return nil
	}
	return websocket.NewHub(logger)
}

func newServer(cfg *config.Config, deps *api.Dependencies) *api.Server {
	deps.Origins = cfg.Server.Origins
	deps.TokenHash = cfg.Server.TokenHash
	return api.NewServer(cfg.Server.Addr(), api.SetupRoutes(deps), deps.Logger)
}

// ignoreCanceled - штатная остановка по контексту не считается ошибкой
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
