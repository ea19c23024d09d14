package websocket

import (
	"time"

	"alphawave/internal/bot"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

const (
	// MessageTypeTrade - сигнал, открытие или закрытие позиции
	MessageTypeTrade MessageType = "trade"

	// MessageTypeNotification - текст, отправленный в чат (отчёт фандинга,
	// сообщение о сделке, ошибка)
	MessageTypeNotification MessageType = "notification"

	// MessageTypeWelcome - первое сообщение после подключения
	MessageTypeWelcome MessageType = "welcome"
)

// BaseMessage - общие поля всех сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradeMessage - событие торгового движка
type TradeMessage struct {
	BaseMessage
	Data *TradeData `json:"data"`
}

// TradeData - событие в виде для клиента; decimal передаются строками
type TradeData struct {
	Event  string `json:"event"` // signal, open, close
	Symbol string `json:"symbol"`
	Side   string `json:"side,omitempty"`
	Signal string `json:"signal,omitempty"`
	Reason string `json:"reason,omitempty"`
	Price  string `json:"price,omitempty"`
	Amount string `json:"amount,omitempty"`
	PnL    string `json:"pnl,omitempty"`
}

// NotificationMessage - текстовое уведомление
type NotificationMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// WelcomeMessage сообщает клиенту его идентификатор
type WelcomeMessage struct {
	BaseMessage
	ClientID string `json:"client_id"`
}

// NewTradeMessage переводит событие движка в сообщение
func NewTradeMessage(ev bot.TradeEvent) *TradeMessage {
	data := &TradeData{
		Event:  ev.Type,
		Symbol: ev.Symbol,
		Side:   ev.Side,
		Signal: ev.Signal,
		Reason: ev.Reason,
	}
	if !ev.Price.IsZero() {
		data.Price = ev.Price.String()
	}
	if !ev.Amount.IsZero() {
		data.Amount = ev.Amount.String()
	}
	if ev.Type == bot.EventClose {
		data.PnL = ev.PnL.String()
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &TradeMessage{
		BaseMessage: BaseMessage{Type: MessageTypeTrade, Timestamp: ts},
		Data:        data,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(text string) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Text:        text,
	}
}

func newWelcomeMessage(clientID string) *WelcomeMessage {
	return &WelcomeMessage{
		BaseMessage: BaseMessage{Type: MessageTypeWelcome, Timestamp: time.Now()},
		ClientID:    clientID,
	}
}
