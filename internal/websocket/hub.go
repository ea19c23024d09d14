package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"alphawave/internal/bot"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sync.Pool для JSON буферов: Broadcast вызывается на каждое событие цикла
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBuffer = 256

// Hub раздаёт события всем подключенным клиентам /ws/stream.
//
// Реализует notify.Sender (текст уведомлений) и bot.EventSink (торговые
// события). Broadcast не блокирует вызывающего: при переполненной очереди
// сообщение отбрасывается и учитывается в DroppedMessages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	dropped atomic.Int64
	done    chan struct{}
	logger  *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws_hub"),
	}
}

// Run - главный цикл Hub; завершается с отменой ctx и закрывает всех клиентов
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("клиент подключён", zap.String("client_id", client.id), zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("клиент отключён", zap.String("client_id", client.id), zap.Int("clients", n))

		case message := <-h.broadcast:
			// копируем список под коротким RLock, рассылаем без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("медленные клиенты отключены", zap.Int("removed", len(slow)), zap.Int("clients", n))
			}
		}
	}
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("ошибка сериализации сообщения", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// Send - notify.Sender: текст уведомления уходит всем клиентам
func (h *Hub) Send(ctx context.Context, text string) error {
	h.Broadcast(NewNotificationMessage(text))
	return nil
}

func (h *Hub) Name() string { return "websocket" }

// PublishTrade - bot.EventSink
func (h *Hub) PublishTrade(ev bot.TradeEvent) {
	h.Broadcast(NewTradeMessage(ev))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, не попавшие в очередь
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
