package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alphawave/internal/config"
	"alphawave/pkg/crypto"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func configError(t *testing.T, err error) *config.ConfigError {
	t.Helper()
	require.Error(t, err)
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr), "ожидалась ConfigError, получено %v", err)
	return cfgErr
}

func TestSecondsValue(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1800", 30 * time.Minute, false},
		{"60.5", 60*time.Second + 500*time.Millisecond, false},
		{"1m", time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v := newSecondsValue(0)
			err := v.Set(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(*v))
			assert.Equal(t, tt.want.String(), v.String())
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "alphawave dev\n", out)
}

func TestTrade_FlagOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alphawave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trade:\n  exchange: okx\n  amount: 2\n"), 0o600))

	_, err := execute(t, "--config", path, "trade", "--exchange", "gate")
	cfgErr := configError(t, err)
	assert.Equal(t, "trade.exchange", cfgErr.Field)
	assert.Contains(t, cfgErr.Reason, `"gate"`)
}

func TestTrade_DurationFlagInSeconds(t *testing.T) {
	_, err := execute(t, "trade", "--exchange", "bybit", "--time_limit=-30")
	cfgErr := configError(t, err)
	assert.Equal(t, "trade.time_limit", cfgErr.Field)
	assert.Contains(t, cfgErr.Reason, "-30s")
}

func TestTrade_AmountFlag(t *testing.T) {
	_, err := execute(t, "trade", "--amount", "0")
	cfgErr := configError(t, err)
	assert.Equal(t, "trade.amount", cfgErr.Field)
}

func TestTrade_RequiresCredentials(t *testing.T) {
	t.Setenv("ALPHAWAVE_EXCHANGES_BINGX_API_KEY", "")
	_, err := execute(t, "trade", "--exchange", "bingx", "--symbol", "APE/USDT:USDT", "--max_positions", "1")
	cfgErr := configError(t, err)
	assert.Equal(t, "exchanges.bingx", cfgErr.Field)
}

func TestTrade_TelegramRequiresToken(t *testing.T) {
	t.Setenv("ALPHAWAVE_EXCHANGES_BYBIT_API_KEY", "k")
	t.Setenv("ALPHAWAVE_EXCHANGES_BYBIT_SECRET", "s")
	t.Setenv("ALPHAWAVE_TELEGRAM_TOKEN", "")
	_, err := execute(t, "trade", "--exchange", "bybit", "--use_telegram")
	cfgErr := configError(t, err)
	assert.Equal(t, "telegram.token", cfgErr.Field)
}

func TestFunding_UnsupportedExchange(t *testing.T) {
	_, err := execute(t, "funding", "--exchanges", "okx,ftx")
	cfgErr := configError(t, err)
	assert.Equal(t, "funding.exchanges", cfgErr.Field)
	assert.Contains(t, cfgErr.Reason, "ftx")
}

func TestFunding_TopNFlag(t *testing.T) {
	_, err := execute(t, "funding", "--top_n", "0")
	cfgErr := configError(t, err)
	assert.Equal(t, "funding.top_n", cfgErr.Field)
}

func TestEngineConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Trade.Amount = "0.25"
	cfg.Trade.TakeProfit = 0.5

	bc, err := engineConfig(cfg.Trade)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.25").Equal(bc.Amount))
	assert.Equal(t, 0.5, bc.TakeProfit)
	assert.Equal(t, cfg.Trade.Fill.MaxTries, bc.Fill.MaxTries)
	assert.True(t, bc.HedgeMode)

	cfg.Trade.Amount = "lots"
	_, err = engineConfig(cfg.Trade)
	assert.Equal(t, "trade.amount", configError(t, err).Field)
}

func TestSecret_EncryptRoundTrip(t *testing.T) {
	key, err := execute(t, "secret", "keygen")
	require.NoError(t, err)
	key = strings.TrimSpace(key)
	t.Setenv("ALPHAWAVE_SECURITY_ENCRYPTION_KEY", key)

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"secret", "encrypt"})
	root.SetIn(strings.NewReader("exchange-secret\n"))
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	sealed := strings.TrimSpace(out.String())
	require.True(t, crypto.IsSealed(sealed))

	t.Setenv("ALPHAWAVE_EXCHANGES_BYBIT_SECRET", sealed)
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "exchange-secret", cfg.Credentials("bybit").Secret)
}

func TestSecret_EncryptWithoutKey(t *testing.T) {
	t.Setenv("ALPHAWAVE_SECURITY_ENCRYPTION_KEY", "")
	_, err := execute(t, "secret", "encrypt", "value")
	assert.ErrorContains(t, err, "encryption key not set")
}

func TestSecret_HashToken(t *testing.T) {
	out, err := execute(t, "secret", "hash-token", "api-token")
	require.NoError(t, err)
	assert.True(t, crypto.VerifyToken("api-token", strings.TrimSpace(out)))
}
