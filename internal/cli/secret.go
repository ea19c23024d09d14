package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"alphawave/internal/config"
	"alphawave/pkg/crypto"

	"github.com/spf13/cobra"
)

// newSecretCmd - утилиты для значений "enc:..." и токена HTTP API
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Шифрование ключей бирж и хеширование токена API",
	}
	cmd.AddCommand(newKeygenCmd(), newEncryptCmd(), newHashTokenCmd())
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Сгенерировать ключ шифрования (ALPHAWAVE_SECURITY_ENCRYPTION_KEY)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [VALUE]",
		Short: "Зашифровать значение для конфигурации (из аргумента или stdin)",
		Long: `Шифрует значение ключом из ALPHAWAVE_SECURITY_ENCRYPTION_KEY.
Результат "enc:..." подставляется
в exchanges.<биржа>.secret, api_key, passphrase или telegram.token.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hexKey := os.Getenv(config.EnvPrefix + "_SECURITY_ENCRYPTION_KEY")
			if hexKey == "" {
				return errors.New("encryption key not set: run `alphawave secret keygen` and export " +
					config.EnvPrefix + "_SECURITY_ENCRYPTION_KEY")
			}
			key, err := crypto.ParseKey(hexKey)
			if err != nil {
				return err
			}
			value, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			sealed, err := crypto.Seal(value, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [TOKEN]",
		Short: "Получить bcrypt-хеш токена для server.token_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := crypto.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// argOrStdin - значение из аргумента или первая строка stdin
// (чтобы секрет не попадал в историю shell)
func argOrStdin(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty value")
	}
	return line, nil
}
