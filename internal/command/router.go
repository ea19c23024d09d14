// Package command разбирает команды чата и вызывает торговый движок или
// планировщик фандинга.
package command

import (
	"context"
	"strings"
	"sync"

	"alphawave/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var commandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "command",
		Name:      "handled_total",
		Help:      "Обработанные команды чата",
	},
	[]string{"command"},
)

// Replier отвечает в чат
type Replier interface {
	SendTo(ctx context.Context, chatID, text string) error
}

// Request - разобранная команда
type Request struct {
	ChatID  string
	Command string // без ведущего "/" и суффикса @bot
	Args    string
	Text    string
}

// HandlerFunc обрабатывает команду и возвращает ответ; пустой ответ не отправляется
type HandlerFunc func(ctx context.Context, req Request) string

type entry struct {
	handler HandlerFunc
	listed  bool
}

// Router - реестр команд с состоянием диалога /symbol
type Router struct {
	replier Replier
	logger  *zap.Logger

	mu       sync.Mutex
	order    []string
	handlers map[string]entry
	// чат -> обработчик следующего текстового сообщения
	pending map[string]HandlerFunc
}

func NewRouter(replier Replier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		replier:  replier,
		logger:   logger.Named("commands"),
		handlers: make(map[string]entry),
		pending:  make(map[string]HandlerFunc),
	}
	r.register("cancel", r.cancel, false)
	return r
}

// Register добавляет команду в список доступных
func (r *Router) Register(name string, h HandlerFunc) {
	r.register(name, h, true)
}

func (r *Router) register(name string, h HandlerFunc, listed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; !ok && listed {
		r.order = append(r.order, name)
	}
	r.handlers[name] = entry{handler: h, listed: listed}
	r.logger.Debug("команда зарегистрирована", zap.String("command", name))
}

// Commands - зарегистрированные команды в порядке регистрации
func (r *Router) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	for i, name := range r.order {
		out[i] = "/" + name
	}
	return out
}

// Handle обрабатывает одно входящее сообщение; подходит как обработчик
// notify.TelegramSender.Poll
func (r *Router) Handle(ctx context.Context, msg *notify.Message) {
	if reply := r.Dispatch(ctx, msg.ChatID(), msg.Text); reply != "" {
		r.reply(ctx, msg.ChatID(), reply)
	}
}

// Dispatch выполняет команду и возвращает текст ответа
func (r *Router) Dispatch(ctx context.Context, chatID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if !strings.HasPrefix(text, "/") {
		r.mu.Lock()
		next, ok := r.pending[chatID]
		delete(r.pending, chatID)
		r.mu.Unlock()
		if !ok {
			return ""
		}
		return next(ctx, Request{ChatID: chatID, Args: text, Text: text})
	}

	req := parse(chatID, text)
	r.mu.Lock()
	e, ok := r.handlers[req.Command]
	r.mu.Unlock()
	if !ok {
		r.logger.Info("неизвестная команда", zap.String("command", req.Command))
		commandsTotal.WithLabelValues("unknown").Inc()
		return unknownText(r.Commands())
	}

	r.logger.Info("выполнение команды", zap.String("command", req.Command), zap.String("chat_id", chatID))
	commandsTotal.WithLabelValues(req.Command).Inc()
	return e.handler(ctx, req)
}

// Prompt ждёт следующее текстовое сообщение чата и передаёт его next
func (r *Router) Prompt(chatID string, next HandlerFunc) {
	r.mu.Lock()
	r.pending[chatID] = next
	r.mu.Unlock()
}

func (r *Router) cancel(ctx context.Context, req Request) string {
	r.mu.Lock()
	delete(r.pending, req.ChatID)
	r.mu.Unlock()
	return msgCancelled
}

func parse(chatID, text string) Request {
	head, args, _ := strings.Cut(text, " ")
	name := strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return Request{
		ChatID:  chatID,
		Command: strings.ToLower(name),
		Args:    strings.TrimSpace(args),
		Text:    text,
	}
}

func unknownText(commands []string) string {
	return "Unknown command. Available commands: " + strings.Join(commands, ", ") + "."
}
