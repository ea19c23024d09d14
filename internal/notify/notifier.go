// Package notify доставляет текстовые сообщения во внешние каналы
// (Telegram, WebSocket-стрим) и принимает команды из Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Sender - один канал доставки
type Sender interface {
	// Send доставляет текст; длинный текст канал режет сам
	Send(ctx context.Context, text string) error
	// Name - идентификатор канала (telegram, websocket)
	Name() string
}

// Notifier рассылает сообщение во все каналы.
// Ошибка одного канала не мешает доставке в остальные.
type Notifier struct {
	senders []Sender
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger, senders ...Sender) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		senders: senders,
		logger:  logger.Named("notifier"),
	}
}

// Add регистрирует канал; вызывается до начала рассылки
func (n *Notifier) Add(s Sender) {
	n.senders = append(n.senders, s)
}

// Send рассылает текст по всем каналам
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, text); err != nil {
			n.logger.Error("канал не доставил сообщение", zap.String("sender", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("сообщение доставлено", zap.String("sender", s.Name()), zap.Int("length", len(text)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// LogSender пишет сообщения в лог; используется, когда Telegram выключен
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("messages")}
}

func (l *LogSender) Send(ctx context.Context, text string) error {
	l.logger.Info(text)
	return nil
}

func (l *LogSender) Name() string { return "log" }
