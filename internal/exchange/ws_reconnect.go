package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSReconnectConfig - параметры переподключения публичного WebSocket
type WSReconnectConfig struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	MaxRetries     int // 0 = бесконечно
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// DefaultWSReconnectConfig: задержки 2s, 4s, 8s, 16s (с джиттером), 10 попыток
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager держит WebSocket соединение с биржей для тикер-фида.
//
// После разрыва переподключается с экспоненциальной задержкой и повторяет
// все сохранённые подписки. Сообщения отдаются в onMessage из одной горутины чтения.
type WSReconnectManager struct {
	name   string
	wsURL  string
	config WSReconnectConfig
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex
	// gorilla допускает только одного писателя
	writeMu sync.Mutex

	state      int32 // WSConnectionState
	retryCount int32

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage  func([]byte)
	onConnect  func()
	callbackMu sync.RWMutex

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	// pingPayload - текстовый ping уровня приложения (OKX ждёт "ping"), nil = control ping
	pingPayload []byte
}

// NewWSReconnectManager создаёт менеджер; logger может быть nil
func NewWSReconnectManager(name, wsURL string, config WSReconnectConfig, logger *zap.Logger) *WSReconnectManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSReconnectManager{
		name:      name,
		wsURL:     wsURL,
		config:    config,
		logger:    logger.With(zap.String("ws", name)),
		closeChan: make(chan struct{}),
	}
}

// SetOnMessage устанавливает обработчик входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback на (пере)подключение
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetTextPing включает текстовый ping вместо control-фрейма
func (m *WSReconnectManager) SetTextPing(payload string) {
	m.pingPayload = []byte(payload)
}

// AddSubscription запоминает подписку для восстановления после переподключения
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// Connect устанавливает соединение и запускает горутины чтения и ping
func (m *WSReconnectManager) Connect() error {
	select {
	case <-m.closeChan:
		return errors.New("ws manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))
	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}
	m.markConnected()
	return nil
}

func (m *WSReconnectManager) markConnected() {
	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()

	m.logger.Info("WebSocket подключён", zap.String("url", m.wsURL))
}

func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.wsURL, err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(); err != nil {
		m.logger.Warn("не удалось восстановить подписки", zap.Error(err))
	}
	return nil
}

func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	for _, sub := range subs {
		if err := m.writeJSON(sub); err != nil {
			return err
		}
	}
	return nil
}

func (m *WSReconnectManager) readPump() {
	for {
		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (m *WSReconnectManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			if m.GetState() != WSStateConnected {
				return
			}
			if err := m.ping(); err != nil {
				m.handleDisconnect(err)
				return
			}
		}
	}
}

func (m *WSReconnectManager) ping() error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return errors.New("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if m.pingPayload != nil {
		return conn.WriteMessage(websocket.TextMessage, m.pingPayload)
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

func (m *WSReconnectManager) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// переподключением занимается только первая сработавшая горутина
	if !atomic.CompareAndSwapInt32(&m.state, int32(WSStateConnected), int32(WSStateReconnecting)) {
		return
	}

	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.logger.Warn("WebSocket отключён", zap.Error(err))
	go m.reconnectLoop()
}

func (m *WSReconnectManager) reconnectLoop() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.config.InitialDelay
	policy.MaxInterval = m.config.MaxDelay
	policy.Multiplier = 2

	for {
		retry := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(retry) > m.config.MaxRetries {
			m.logger.Error("исчерпаны попытки переподключения", zap.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
			return
		}

		delay := policy.NextBackOff()
		m.logger.Info("переподключение", zap.Duration("delay", delay), zap.Int32("attempt", retry))

		timer := time.NewTimer(delay)
		select {
		case <-m.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := m.dial(); err != nil {
			m.logger.Warn("переподключение не удалось", zap.Error(err))
			continue
		}
		m.markConnected()
		return
	}
}

// Send отправляет JSON-сообщение
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("ws %s not connected (state: %s)", m.name, m.GetState())
	}
	return m.writeJSON(msg)
}

// SendText отправляет текстовый фрейм как есть (ответы на ping уровня приложения)
func (m *WSReconnectManager) SendText(payload string) error {
	return m.writeRaw([]byte(payload))
}

func (m *WSReconnectManager) writeJSON(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.writeRaw(data)
}

func (m *WSReconnectManager) writeRaw(data []byte) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return errors.New("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close закрывает соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(WSStateClosed))

		m.connMu.Lock()
		defer m.connMu.Unlock()
		if m.conn != nil {
			err = m.conn.Close()
			m.conn = nil
		}
	})
	return err
}
