package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"alphawave/internal/exchange"
	"alphawave/internal/strategy"
	"alphawave/pkg/crypto"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix - префикс переменных окружения (ALPHAWAVE_TRADE_SYMBOL ...)
const EnvPrefix = "ALPHAWAVE"

// Config содержит всю конфигурацию приложения
type Config struct {
	Trade     TradeConfig                    `mapstructure:"trade"`
	Funding   FundingConfig                  `mapstructure:"funding"`
	Telegram  TelegramConfig                 `mapstructure:"telegram"`
	Exchanges map[string]ExchangeCredentials `mapstructure:"exchanges"`
	Server    ServerConfig                   `mapstructure:"server"`
	Logging   LoggingConfig                  `mapstructure:"logging"`
	Security  SecurityConfig                 `mapstructure:"security"`
}

// TradeConfig - параметры торговой сессии
type TradeConfig struct {
	Exchange       string          `mapstructure:"exchange"`
	Symbol         string          `mapstructure:"symbol"`
	Amount         string          `mapstructure:"amount"` // строкой, чтобы не терять точность
	Timeframe      string          `mapstructure:"timeframe"`
	Strategy       string          `mapstructure:"strategy"`
	Params         strategy.Params `mapstructure:"params"`
	MaxPositions   int             `mapstructure:"max_positions"`
	TakeProfit     float64         `mapstructure:"take_profit"` // %, 0 = выключен
	StopLoss       float64         `mapstructure:"stop_loss"`   // %, 0 = выключен
	SignalInterval time.Duration   `mapstructure:"signal_interval"`
	RiskInterval   time.Duration   `mapstructure:"risk_interval"`
	TimeLimit      time.Duration   `mapstructure:"time_limit"`
	Leverage       int             `mapstructure:"leverage"`
	HedgeMode      bool            `mapstructure:"hedge_mode"`
	UsePriceFeed   bool            `mapstructure:"use_price_feed"`
	UseTelegram    bool            `mapstructure:"use_telegram"`
	Fill           FillConfig      `mapstructure:"fill"`
}

// FillConfig - ожидание цены исполнения после размещения ордера
type FillConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxTries        uint          `mapstructure:"max_tries"`
	OrderTimeout    time.Duration `mapstructure:"order_timeout"`
}

// FundingConfig - агрегатор ставок фандинга
type FundingConfig struct {
	Exchanges      []string           `mapstructure:"exchanges"`
	TopN           int                `mapstructure:"top_n"`
	Workers        int                `mapstructure:"workers"`
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	RateLimit      float64            `mapstructure:"rate_limit"`  // запросов в секунду по умолчанию
	RateLimits     map[string]float64 `mapstructure:"rate_limits"` // переопределения по биржам
	Schedule       bool               `mapstructure:"schedule"`    // публикация на границах получаса
}

// TelegramConfig - бот для уведомлений и команд
type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	ChatID      string        `mapstructure:"chat_id"`
	BaseURL     string        `mapstructure:"base_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// ExchangeCredentials - ключи API биржи
type ExchangeCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
	Testnet    bool   `mapstructure:"testnet"`
	BaseURL    string `mapstructure:"base_url"`
}

// ServerConfig - HTTP API статуса
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// TokenHash - bcrypt-хеш токена доступа; пусто = API открыт
	TokenHash string   `mapstructure:"token_hash"`
	Origins   []string `mapstructure:"origins"`
}

// Addr адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig - ключ расшифровки значений "enc:..." (hex или base64 от 32 байт)
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ConfigError - недопустимое значение параметра; запуск невозможен
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func newError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// credentialExchanges - биржи, ключи которых читаются из окружения
var credentialExchanges = []string{"okx", "bybit", "bingx", "gate", "hyperliquid"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trade.exchange", "okx")
	v.SetDefault("trade.symbol", "ALPHA/USDT:USDT")
	v.SetDefault("trade.amount", "1")
	v.SetDefault("trade.timeframe", "5m")
	v.SetDefault("trade.strategy", string(strategy.TypeKaufmanAMA))
	p := strategy.DefaultParams()
	v.SetDefault("trade.params.period", p.Period)
	v.SetDefault("trade.params.fast_period", p.FastPeriod)
	v.SetDefault("trade.params.slow_period", p.SlowPeriod)
	v.SetDefault("trade.params.short_window", p.ShortWindow)
	v.SetDefault("trade.params.long_window", p.LongWindow)
	v.SetDefault("trade.max_positions", 5)
	v.SetDefault("trade.take_profit", 0.0)
	v.SetDefault("trade.stop_loss", 0.0)
	v.SetDefault("trade.signal_interval", time.Minute)
	v.SetDefault("trade.risk_interval", time.Second)
	v.SetDefault("trade.time_limit", time.Hour)
	v.SetDefault("trade.leverage", 0)
	v.SetDefault("trade.hedge_mode", true)
	v.SetDefault("trade.use_price_feed", false)
	v.SetDefault("trade.use_telegram", false)
	v.SetDefault("trade.fill.initial_interval", 200*time.Millisecond)
	v.SetDefault("trade.fill.max_interval", 2*time.Second)
	v.SetDefault("trade.fill.max_tries", 8)
	v.SetDefault("trade.fill.order_timeout", 30*time.Second)

	v.SetDefault("funding.exchanges", []string{"bybit", "gate", "okx", "bingx"})
	v.SetDefault("funding.top_n", 10)
	v.SetDefault("funding.workers", 10)
	v.SetDefault("funding.request_timeout", 10*time.Second)
	v.SetDefault("funding.rate_limit", 10.0)
	v.SetDefault("funding.schedule", true)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token_hash", "")
	v.SetDefault("server.origins", []string{})

	v.SetDefault("security.encryption_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "alphawave.log")
}

// Load читает конфигурацию: значения по умолчанию, затем файл path
// (JSON/YAML/TOML по расширению, необязателен), затем .env и переменные
// ALPHAWAVE_*. Результат не проверен, вызывающий делает Validate*.
func Load(path string) (*Config, error) {
	return LoadViper(New(), path)
}

// LoadViper - Load поверх готового viper (с привязанными флагами cobra)
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return Decode(v)
}

// New возвращает viper с умолчаниями и привязкой к окружению. Флаги cobra
// привязываются к нему до Decode.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range credentialExchanges {
		for _, key := range []string{"api_key", "secret", "passphrase", "testnet"} {
			_ = v.BindEnv("exchanges." + name + "." + key)
		}
	}
	return v
}

// Decode собирает Config из viper
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Exchanges == nil {
		cfg.Exchanges = map[string]ExchangeCredentials{}
	}
	if err := cfg.revealSecrets(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// revealSecrets расшифровывает ключи бирж и токен телеграма, заданные как "enc:..."
func (c *Config) revealSecrets() error {
	var key []byte
	if c.Security.EncryptionKey != "" {
		k, err := crypto.ParseKey(c.Security.EncryptionKey)
		if err != nil {
			return newError("security.encryption_key", "%v", err)
		}
		key = k
	}

	reveal := func(field string, value *string) error {
		plain, err := crypto.Reveal(*value, key)
		if err != nil {
			return newError(field, "%v", err)
		}
		*value = plain
		return nil
	}

	for name, creds := range c.Exchanges {
		prefix := "exchanges." + name + "."
		if err := reveal(prefix+"api_key", &creds.APIKey); err != nil {
			return err
		}
		if err := reveal(prefix+"secret", &creds.Secret); err != nil {
			return err
		}
		if err := reveal(prefix+"passphrase", &creds.Passphrase); err != nil {
			return err
		}
		c.Exchanges[name] = creds
	}
	return reveal("telegram.token", &c.Telegram.Token)
}

// AmountDecimal - объём сделки
func (t TradeConfig) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(t.Amount))
}

// Credentials ключей биржи; отсутствие ключей даёт пустую структуру
func (c *Config) Credentials(name string) ExchangeCredentials {
	return c.Exchanges[strings.ToLower(name)]
}

// ValidateTrade проверяет всё, что нужно торговой сессии
func (c *Config) ValidateTrade() error {
	t := c.Trade

	if !exchange.IsTradingSupported(t.Exchange) {
		return newError("trade.exchange", "trading not supported on %q (available: %s)",
			t.Exchange, strings.Join(exchange.TradingExchanges, ", "))
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return newError("trade.symbol", "must not be empty")
	}
	amount, err := t.AmountDecimal()
	if err != nil {
		return newError("trade.amount", "not a number: %q", t.Amount)
	}
	if !amount.IsPositive() {
		return newError("trade.amount", "must be positive, got %s", amount)
	}
	if t.Timeframe == "" {
		return newError("trade.timeframe", "must not be empty")
	}
	if _, err := strategy.ParseType(t.Strategy); err != nil {
		return newError("trade.strategy", "%v", err)
	}
	if t.MaxPositions < 1 {
		return newError("trade.max_positions", "must be at least 1, got %d", t.MaxPositions)
	}
	if t.TakeProfit < 0 {
		return newError("trade.take_profit", "cannot be negative, got %v", t.TakeProfit)
	}
	if t.StopLoss < 0 {
		return newError("trade.stop_loss", "cannot be negative, got %v", t.StopLoss)
	}
	if t.SignalInterval <= 0 {
		return newError("trade.signal_interval", "must be positive, got %v", t.SignalInterval)
	}
	if t.RiskInterval <= 0 {
		return newError("trade.risk_interval", "must be positive, got %v", t.RiskInterval)
	}
	if t.TimeLimit < 0 {
		return newError("trade.time_limit", "cannot be negative, got %v", t.TimeLimit)
	}
	if t.Leverage < 0 || t.Leverage > 125 {
		return newError("trade.leverage", "must be between 0 and 125, got %d", t.Leverage)
	}
	if t.Fill.MaxTries == 0 {
		return newError("trade.fill.max_tries", "must be at least 1")
	}
	if t.Fill.OrderTimeout <= 0 {
		return newError("trade.fill.order_timeout", "must be positive, got %v", t.Fill.OrderTimeout)
	}

	creds := c.Credentials(t.Exchange)
	if creds.APIKey == "" || creds.Secret == "" {
		return newError("exchanges."+strings.ToLower(t.Exchange), "api_key and secret are required for trading")
	}
	if strings.EqualFold(t.Exchange, "okx") && creds.Passphrase == "" {
		return newError("exchanges.okx.passphrase", "required by OKX")
	}

	if t.UseTelegram {
		if err := c.validateTelegram(); err != nil {
			return err
		}
	}
	return c.validateCommon()
}

// ValidateFunding проверяет настройки агрегатора. Telegram обязателен:
// отчёты и команды идут через него.
func (c *Config) ValidateFunding() error {
	f := c.Funding

	if len(f.Exchanges) == 0 {
		return newError("funding.exchanges", "at least one exchange required")
	}
	for _, name := range f.Exchanges {
		if !exchange.IsSupported(name) {
			return newError("funding.exchanges", "unsupported exchange %q", name)
		}
	}
	if f.TopN < 1 {
		return newError("funding.top_n", "must be at least 1, got %d", f.TopN)
	}
	if f.Workers < 1 {
		return newError("funding.workers", "must be at least 1, got %d", f.Workers)
	}
	if f.RequestTimeout <= 0 {
		return newError("funding.request_timeout", "must be positive, got %v", f.RequestTimeout)
	}
	if f.RateLimit <= 0 {
		return newError("funding.rate_limit", "must be positive, got %v", f.RateLimit)
	}
	for name, rate := range f.RateLimits {
		if rate <= 0 {
			return newError("funding.rate_limits."+name, "must be positive, got %v", rate)
		}
	}

	if err := c.validateTelegram(); err != nil {
		return err
	}
	return c.validateCommon()
}

func (c *Config) validateTelegram() error {
	if c.Telegram.Token == "" {
		return newError("telegram.token", "required when telegram is enabled")
	}
	if c.Telegram.ChatID == "" {
		return newError("telegram.chat_id", "required when telegram is enabled")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return newError("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.TokenHash != "" && !crypto.ValidHash(c.Server.TokenHash) {
		return newError("server.token_hash", "not a bcrypt hash (use `alphawave secret hash-token`)")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		return newError("logging.format", "must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
