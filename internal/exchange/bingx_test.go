package exchange

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBingXTestServer(t *testing.T, handler http.HandlerFunc) *BingX {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := NewBingX(WithBaseURL(srv.URL))
	b.apiKey, b.secretKey = "key", "secret"
	return b
}

func TestBingX_SignedRequest(t *testing.T) {
	b := newBingXTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-BX-APIKEY"))

		// подписана отсортированная строка параметров без signature
		q := r.URL.Query()
		sig := q.Get("signature")
		q.Del("signature")
		assert.NotEmpty(t, q.Get("timestamp"))
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(q.Encode()))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)

		_, _ = io.WriteString(w, `{"code":0,"msg":"","data":{"balance":{"asset":"USDT","equity":"150.5","availableMargin":"100.5","usedMargin":"50"}}}`)
	})

	bal, err := b.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 150.5, bal.Total)
	assert.Equal(t, 100.5, bal.Free)
	assert.Equal(t, 50.0, bal.Used)
}

func TestBingX_FundingAndContracts(t *testing.T) {
	b := newBingXTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openApi/swap/v2/quote/contracts":
			_, _ = io.WriteString(w, `{"code":0,"data":[{"symbol":"BTC-USDT","status":1},{"symbol":"OFF-USDT","status":0}]}`)
		case "/openApi/swap/v2/quote/premiumIndex":
			_, _ = io.WriteString(w, `{"code":0,"data":{"symbol":"BTC-USDT","lastFundingRate":"0.0002","nextFundingTime":1700006400000}}`)
		default:
			http.NotFound(w, r)
		}
	})

	symbols, err := b.ListSwapSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT:USDT"}, symbols)

	fr, err := b.GetFundingRate(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0002, fr.Rate)
}

func TestBingX_PlaceOrderHedgeClose(t *testing.T) {
	b := newBingXTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		assert.Equal(t, "SELL", r.PostForm.Get("side"))
		assert.Equal(t, "LONG", r.PostForm.Get("positionSide"))
		assert.Empty(t, r.PostForm.Get("reduceOnly"))
		_, _ = io.WriteString(w, `{"code":0,"data":{"order":{"orderId":1736011869418901234,"clientOrderID":"cid"}}}`)
	})

	order, err := b.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT", Side: SideSell, Amount: 0.01, ReduceOnly: true, PositionSide: SideLong, ClientOrderID: "cid",
	})
	require.NoError(t, err)
	assert.Equal(t, "1736011869418901234", order.ID)
}

func TestBingX_HandleGzipTicker(t *testing.T) {
	b := NewBingX()
	var got *Ticker
	b.tickerCallbacks["BTC-USDT"] = func(tk *Ticker) { got = tk }

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"dataType":"BTC-USDT@ticker","data":{"s":"BTC-USDT","c":"100","b":"99","a":"101"}}`))
	require.NoError(t, zw.Close())

	b.handleMessage(buf.Bytes())
	require.NotNil(t, got)
	assert.Equal(t, "BTC/USDT:USDT", got.Symbol)
	assert.Equal(t, 100.0, got.LastPrice)
}
