package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал ping (меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Клиент только читает стрим; входящие сообщения - управляющие кадры
	maxMessageSize = 4096

	clientSendBufferSize = 256
)

// OriginChecker проверяет Origin за O(1)
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker: пустой список или "*" разрешает всё
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			oc.allowAll = true
		default:
			oc.allowedOrigins[o] = struct{}{}
		}
	}
	if len(oc.allowedOrigins) == 0 {
		oc.allowAll = true
	}
	return oc
}

// Check разрешает клиентов без Origin (curl, скрипты)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client - одно WebSocket соединение.
//
// readPump следит за живостью соединения, writePump пишет очередь send.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ошибка чтения websocket", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// одно сообщение - один кадр: клиент разбирает каждый кадр как JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler возвращает http.Handler для /ws/stream
func (h *Hub) Handler(origins *OriginChecker) http.Handler {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origins.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("ошибка upgrade websocket", zap.Error(err))
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			hub:  h,
			send: make(chan []byte, clientSendBufferSize),
		}
		if welcome, err := json.Marshal(newWelcomeMessage(client.id)); err == nil {
			client.send <- welcome
		}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	})
}
