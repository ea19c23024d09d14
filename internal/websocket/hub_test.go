package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alphawave/internal/bot"

	gorillaws "github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler(nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *gorillaws.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, checker.Check(tt.origin), tt.origin)
	}

	assert.True(t, NewOriginChecker(nil).Check("https://any.example.org"))
	assert.True(t, NewOriginChecker([]string{"*"}).Check("https://any.example.org"))
}

func TestNewTradeMessage(t *testing.T) {
	ev := bot.TradeEvent{
		Type:   bot.EventClose,
		Symbol: "BTC/USDT:USDT",
		Side:   "sell",
		Reason: bot.ReasonTakeProfit,
		Price:  decimal.NewFromInt(110),
		Amount: decimal.NewFromInt(1),
		PnL:    decimal.NewFromInt(10),
	}
	msg := NewTradeMessage(ev)

	assert.Equal(t, MessageTypeTrade, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "close", msg.Data.Event)
	assert.Equal(t, "110", msg.Data.Price)
	assert.Equal(t, "10", msg.Data.PnL)

	signal := NewTradeMessage(bot.TradeEvent{Type: bot.EventSignal, Symbol: "X", Signal: "hold"})
	assert.Empty(t, signal.Data.PnL)
	assert.Empty(t, signal.Data.Price)
}

func TestHub_StreamsEvents(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	welcome := readJSON(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
	assert.NotEmpty(t, welcome["client_id"])
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishTrade(bot.TradeEvent{Type: bot.EventOpen, Symbol: "BTC/USDT:USDT", Side: "buy", Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1)})
	trade := readJSON(t, conn)
	assert.Equal(t, "trade", trade["type"])
	data := trade["data"].(map[string]interface{})
	assert.Equal(t, "open", data["event"])
	assert.Equal(t, "100", data["price"])

	require.NoError(t, hub.Send(context.Background(), "Generated signal: buy, Current price: 100.0"))
	note := readJSON(t, conn)
	assert.Equal(t, "notification", note["type"])
	assert.Equal(t, "Generated signal: buy, Current price: 100.0", note["text"])
	assert.Equal(t, "websocket", hub.Name())
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil) // Run не запущен: очередь переполнится

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.Broadcast(map[string]int{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast заблокировался")
	}
	assert.Equal(t, int64(10), hub.DroppedMessages())
}

func TestHub_StopOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hub.Run не завершился после отмены")
	}
	// после остановки Broadcast не блокируется
	hub.Broadcast(map[string]string{"a": "b"})
}
