package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBybitTestServer(t *testing.T, handler http.HandlerFunc) *Bybit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := NewBybit(WithBaseURL(srv.URL))
	b.apiKey, b.secretKey = "key", "secret"
	return b
}

func TestBybit_ListSwapSymbolsPaginates(t *testing.T) {
	var calls int32
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("cursor") == "" {
			_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[
				{"symbol":"BTCUSDT","contractType":"LinearPerpetual","status":"Trading","baseCoin":"BTC","quoteCoin":"USDT","settleCoin":"USDT"},
				{"symbol":"BTCUSDT-27DEC","contractType":"LinearFutures","status":"Trading","baseCoin":"BTC","quoteCoin":"USDT","settleCoin":"USDT"}
			],"nextPageCursor":"page2"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[
			{"symbol":"ETHUSDT","contractType":"LinearPerpetual","status":"Trading","baseCoin":"ETH","quoteCoin":"USDT","settleCoin":"USDT"},
			{"symbol":"OLDUSDT","contractType":"LinearPerpetual","status":"Closed","baseCoin":"OLD","quoteCoin":"USDT","settleCoin":"USDT"}
		],"nextPageCursor":""}}`)
	})

	symbols, err := b.ListSwapSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}, symbols)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBybit_GetFundingRate(t *testing.T) {
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","fundingRate":"0.0001","nextFundingTime":"1700006400000","volume24h":"5000","bid1Price":"99","ask1Price":"101","lastPrice":"100"}]}}`)
	})

	fr, err := b.GetFundingRate(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0001, fr.Rate)
	require.NotNil(t, fr.FundingTime)

	tk, err := b.GetTicker(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, tk.BaseVolume)
	assert.Equal(t, 100.0, tk.LastPrice)
}

func TestBybit_ErrorEnvelope(t *testing.T) {
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":10001,"retMsg":"params error","result":{}}`)
	})

	_, err := b.GetTicker(context.Background(), "BTC/USDT:USDT")
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "10001", exErr.Code)
	assert.Equal(t, "params error", exErr.Message)
}

func TestBybit_SetLeverageNotModifiedIsOK(t *testing.T) {
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		_, _ = io.WriteString(w, `{"retCode":110043,"retMsg":"leverage not modified","result":{}}`)
	})

	assert.NoError(t, b.SetLeverage(context.Background(), "BTC/USDT:USDT", 3))
}

func TestBybit_PlaceOrderAndLookupHistory(t *testing.T) {
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			body, _ := io.ReadAll(r.Body)
			ts := r.Header.Get("X-BAPI-TIMESTAMP")
			mac := hmac.New(sha256.New, []byte("secret"))
			mac.Write([]byte(ts + "key" + r.Header.Get("X-BAPI-RECV-WINDOW") + string(body)))
			assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-BAPI-SIGN"))
			var req map[string]interface{}
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "Buy", req["side"])
			assert.Equal(t, "Market", req["orderType"])
			assert.Equal(t, false, req["reduceOnly"])
			assert.Equal(t, float64(1), req["positionIdx"])
			_, _ = io.WriteString(w, `{"retCode":0,"result":{"orderId":"o-1","orderLinkId":"cid"}}`)
		case "/v5/order/realtime":
			_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[]}}`)
		case "/v5/order/history":
			ts := r.Header.Get("X-BAPI-TIMESTAMP")
			mac := hmac.New(sha256.New, []byte("secret"))
			mac.Write([]byte(ts + "key" + bybitRecvWindow + r.URL.Query().Encode()))
			assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-BAPI-SIGN"))
			_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderId":"o-1","side":"Buy","qty":"1","price":"0","avgPrice":"100.5","cumExecQty":"1","orderStatus":"Filled","createdTime":"1700000000000"}]}}`)
		default:
			http.NotFound(w, r)
		}
	})

	order, err := b.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT", Side: SideBuy, Amount: 1, PositionSide: SideLong, ClientOrderID: "cid",
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.ID)

	filled, err := b.GetOrder(context.Background(), "BTC/USDT:USDT", "o-1")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, filled.Status)
	assert.Equal(t, 100.5, filled.FillPrice())
}

func TestBybit_GetCandlesReversed(t *testing.T) {
	b := newBybitTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("interval"))
		_, _ = io.WriteString(w, `{"retCode":0,"result":{"list":[
			["1700000600000","2","2","2","2","1","0"],
			["1700000300000","1","1","1","1","1","0"]
		]}}`)
	})

	candles, err := b.GetCandles(context.Background(), "BTC/USDT:USDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, 2.0, candles[1].Close)
}

func TestBybit_HandlePublicMessageSkipsPartialDelta(t *testing.T) {
	b := NewBybit()
	var calls int
	b.tickerCallbacks["BTCUSDT"] = func(*Ticker) { calls++ }
	b.venueToUnified["BTCUSDT"] = "BTC/USDT:USDT"

	b.handlePublicMessage([]byte(`{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT","bid1Price":"99"}}`))
	assert.Equal(t, 0, calls)

	b.handlePublicMessage([]byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"100"}}`))
	assert.Equal(t, 1, calls)
}
