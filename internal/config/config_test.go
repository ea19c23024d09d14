package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alphawave/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validTrade(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Exchanges["okx"] = ExchangeCredentials{APIKey: "k", Secret: "s", Passphrase: "p"}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ALPHA/USDT:USDT", cfg.Trade.Symbol)
	assert.Equal(t, "5m", cfg.Trade.Timeframe)
	assert.Equal(t, "KaufmanAMA", cfg.Trade.Strategy)
	assert.Equal(t, 5, cfg.Trade.MaxPositions)
	assert.Equal(t, time.Hour, cfg.Trade.TimeLimit)
	assert.Equal(t, time.Minute, cfg.Trade.SignalInterval)
	assert.Equal(t, 10, cfg.Trade.Params.Period)
	assert.Equal(t, uint(8), cfg.Trade.Fill.MaxTries)
	assert.Equal(t, []string{"bybit", "gate", "okx", "bingx"}, cfg.Funding.Exchanges)
	assert.Equal(t, 10, cfg.Funding.TopN)
	assert.Equal(t, "alphawave.log", cfg.Logging.File)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "alphawave.yaml", `
trade:
  exchange: bybit
  symbol: BTC/USDT:USDT
  amount: 0.01
  take_profit: 2.5
  signal_interval: 30s
funding:
  top_n: 5
  rate_limits:
    gate: 50
`)
	t.Setenv("ALPHAWAVE_TRADE_MAX_POSITIONS", "3")
	t.Setenv("ALPHAWAVE_EXCHANGES_BYBIT_API_KEY", "key")
	t.Setenv("ALPHAWAVE_EXCHANGES_BYBIT_SECRET", "secret")
	t.Setenv("ALPHAWAVE_TELEGRAM_TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Trade.Exchange)
	assert.Equal(t, "BTC/USDT:USDT", cfg.Trade.Symbol)
	amount, err := cfg.Trade.AmountDecimal()
	require.NoError(t, err)
	assert.Equal(t, "0.01", amount.String())
	assert.Equal(t, 2.5, cfg.Trade.TakeProfit)
	assert.Equal(t, 30*time.Second, cfg.Trade.SignalInterval)
	assert.Equal(t, 3, cfg.Trade.MaxPositions)
	assert.Equal(t, 5, cfg.Funding.TopN)
	assert.Equal(t, 50.0, cfg.Funding.RateLimits["gate"])
	assert.Equal(t, "tok", cfg.Telegram.Token)

	creds := cfg.Credentials("Bybit")
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.Secret)
	require.NoError(t, cfg.ValidateTrade())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateTrade(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"exchange without trading", func(c *Config) { c.Trade.Exchange = "gate" }, "trade.exchange"},
		{"empty symbol", func(c *Config) { c.Trade.Symbol = " " }, "trade.symbol"},
		{"bad amount", func(c *Config) { c.Trade.Amount = "abc" }, "trade.amount"},
		{"zero amount", func(c *Config) { c.Trade.Amount = "0" }, "trade.amount"},
		{"unknown strategy", func(c *Config) { c.Trade.Strategy = "RSI" }, "trade.strategy"},
		{"max positions", func(c *Config) { c.Trade.MaxPositions = 0 }, "trade.max_positions"},
		{"negative stop loss", func(c *Config) { c.Trade.StopLoss = -1 }, "trade.stop_loss"},
		{"leverage", func(c *Config) { c.Trade.Leverage = 200 }, "trade.leverage"},
		{"missing keys", func(c *Config) { delete(c.Exchanges, "okx") }, "exchanges.okx"},
		{"okx passphrase", func(c *Config) {
			c.Exchanges["okx"] = ExchangeCredentials{APIKey: "k", Secret: "s"}
		}, "exchanges.okx.passphrase"},
		{"telegram without token", func(c *Config) { c.Trade.UseTelegram = true }, "telegram.token"},
		{"logging format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"token hash", func(c *Config) { c.Server.TokenHash = "plain-token" }, "server.token_hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTrade(t)
			tt.mutate(cfg)
			err := cfg.ValidateTrade()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "ожидалась ConfigError, получено %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestValidateFunding(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, cfg.ValidateFunding(), &cerr)
	assert.Equal(t, "telegram.token", cerr.Field)

	cfg.Telegram.Token = "t"
	cfg.Telegram.ChatID = "42"
	require.NoError(t, cfg.ValidateFunding())

	cfg.Funding.Exchanges = []string{"okx", "kraken"}
	require.ErrorAs(t, cfg.ValidateFunding(), &cerr)
	assert.Equal(t, "funding.exchanges", cerr.Field)

	cfg.Funding.Exchanges = []string{"okx"}
	cfg.Funding.TopN = 0
	require.ErrorAs(t, cfg.ValidateFunding(), &cerr)
	assert.Contains(t, cerr.Error(), "config: funding.top_n")
}

func TestLoad_SealedSecrets(t *testing.T) {
	hexKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	key, err := crypto.ParseKey(hexKey)
	require.NoError(t, err)
	sealed, err := crypto.Seal("real-secret", key)
	require.NoError(t, err)

	t.Setenv("ALPHAWAVE_EXCHANGES_OKX_SECRET", sealed)
	t.Setenv("ALPHAWAVE_EXCHANGES_OKX_API_KEY", "plain-key")

	// без ключа расшифровки запуск невозможен
	_, err = Load("")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "exchanges.okx.secret", cerr.Field)

	t.Setenv("ALPHAWAVE_SECURITY_ENCRYPTION_KEY", hexKey)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "real-secret", cfg.Credentials("okx").Secret)
	assert.Equal(t, "plain-key", cfg.Credentials("okx").APIKey)

	t.Setenv("ALPHAWAVE_SECURITY_ENCRYPTION_KEY", "short")
	_, err = Load("")
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "security.encryption_key", cerr.Field)
}
