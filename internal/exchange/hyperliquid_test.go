package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperliquid_TickerAndBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		var req map[string]string
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &req))

		switch req["type"] {
		case "metaAndAssetCtxs":
			_, _ = io.WriteString(w, `[{"universe":[{"name":"ETH"},{"name":"BTC"}]},
				[{"midPx":"2000","dayBaseVlm":"10"},{"midPx":"60000.5","dayBaseVlm":"1234.5"}]]`)
		case "l2Book":
			assert.Equal(t, "BTC", req["coin"])
			_, _ = io.WriteString(w, `{"coin":"BTC","time":1700000000000,"levels":[
				[{"px":"60000","sz":"1.5","n":3},{"px":"59999","sz":"2","n":1}],
				[{"px":"60001","sz":"0.7","n":2}]
			]}`)
		default:
			http.Error(w, "unknown", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	h := NewHyperliquid(WithBaseURL(srv.URL))
	ctx := context.Background()

	tk, err := h.GetTicker(ctx, "BTC/USDC:USDC")
	require.NoError(t, err)
	assert.Equal(t, 60000.5, tk.LastPrice)
	assert.Equal(t, 1234.5, tk.BaseVolume)
	assert.Equal(t, 60000.0, tk.BidPrice)
	assert.Equal(t, 60001.0, tk.AskPrice)

	ob, err := h.GetOrderBook(ctx, "BTC/USDC:USDC", 1)
	require.NoError(t, err)
	require.Len(t, ob.Bids, 1)
	assert.Equal(t, 1.5, ob.TopBidSize())
	assert.Equal(t, 0.7, ob.TopAskSize())

	_, err = h.GetTicker(ctx, "DOGE/USDC:USDC")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestHyperliquid_ListSwapSymbolsSorted(t *testing.T) {
	h := NewHyperliquid()
	// свежий снимок отдаётся без обращения к сети
	h.fundings = map[string]float64{"SOL": 0.0001, "BTC": 0.00002, "ETH": -0.00005, "APE": 0}
	h.snapshotAt = time.Now()

	for i := 0; i < 5; i++ {
		symbols, err := h.ListSwapSymbols(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"APE/USDC:USDC", "BTC/USDC:USDC", "ETH/USDC:USDC", "SOL/USDC:USDC"}, symbols)
	}
}
