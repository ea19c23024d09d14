package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTelegramURL = "https://api.telegram.org"

// TelegramConfig - параметры бота
type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	ChatID      string        `mapstructure:"chat_id"`
	BaseURL     string        `mapstructure:"base_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"` // long-poll getUpdates
}

// Update - входящее обновление Bot API (только сообщения)
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message - текстовое сообщение чата
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

// ChatID чата сообщения строкой
func (m *Message) ChatID() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

type apiResponse struct {
	OK          bool                `json:"ok"`
	Description string              `json:"description"`
	ErrorCode   int                 `json:"error_code"`
	Result      jsoniter.RawMessage `json:"result"`
}

// APIError - отказ Bot API
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api %d: %s", e.Code, e.Description)
}

// TelegramSender отправляет сообщения в чат и читает команды через getUpdates
type TelegramSender struct {
	cfg    TelegramConfig
	rest   *resty.Client
	logger *zap.Logger
}

func NewTelegramSender(cfg TelegramConfig, logger *zap.Logger) *TelegramSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.PollTimeout+10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &TelegramSender{
		cfg:    cfg,
		rest:   rest,
		logger: logger.Named("telegram"),
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

// Send отправляет текст в настроенный чат
func (t *TelegramSender) Send(ctx context.Context, text string) error {
	return t.SendTo(ctx, t.cfg.ChatID, text)
}

// SendTo отправляет текст в чат chatID частями по MaxMessageLength
func (t *TelegramSender) SendTo(ctx context.Context, chatID, text string) error {
	for _, part := range Chunk(text, MaxMessageLength) {
		if err := t.sendMessage(ctx, chatID, part); err != nil {
			return err
		}
	}
	return nil
}

// sendMessage отправляет Markdown; если Telegram не разобрал разметку
// (блок ``` разрезан по частям), повторяет без parse_mode
func (t *TelegramSender) sendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	err := t.call(ctx, "sendMessage", payload, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == 400 && strings.Contains(apiErr.Description, "can't parse entities") {
		t.logger.Debug("разметка отклонена, отправка простым текстом")
		delete(payload, "parse_mode")
		err = t.call(ctx, "sendMessage", payload, nil)
	}
	return err
}

// GetUpdates - один long-poll запрос
func (t *TelegramSender) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	payload := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(t.cfg.PollTimeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := t.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Poll читает входящие сообщения до отмены ctx и передаёт их handler.
// Сообщения из чужих чатов отбрасываются. Сетевые ошибки переживаются с
// экспоненциальной паузой.
func (t *TelegramSender) Poll(ctx context.Context, handler func(ctx context.Context, msg *Message)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute

	var offset int64
	for {
		updates, err := t.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			t.logger.Warn("ошибка getUpdates", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if t.cfg.ChatID != "" && u.Message.ChatID() != t.cfg.ChatID {
				t.logger.Warn("сообщение из неизвестного чата", zap.String("chat_id", u.Message.ChatID()))
				continue
			}
			handler(ctx, u.Message)
		}
	}
}

func (t *TelegramSender) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/bot" + t.cfg.Token + "/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(resp.Body(), &ar); err != nil {
		return fmt.Errorf("telegram %s: status %d: %w", method, resp.StatusCode(), err)
	}
	if !ar.OK {
		code := ar.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		return &APIError{Code: code, Description: ar.Description}
	}
	if out != nil {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
