package exchange

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"alphawave/pkg/utils"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	bingxBaseURL = "https://open-api.bingx.com"
	bingxWSURL   = "wss://open-api-swap.bingx.com/swap-market"
	bingxVSTURL  = "https://open-api-vst.bingx.com"
)

var bingxTimeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "12h": "12h",
	"1d": "1d", "1w": "1w", "1M": "1M",
}

// BingX реализует Exchange для perpetual swap v2
type BingX struct {
	apiKey    string
	secretKey string

	rest   *resty.Client
	opts   options
	logger *zap.Logger

	// WebSocket manager с автоматическим переподключением
	wsManager *WSReconnectManager
	wsMu      sync.Mutex

	tickerCallbacks map[string]func(*Ticker) // по символу биржи (BTC-USDT)
	callbackMu      sync.RWMutex
}

// NewBingX создаёт новый экземпляр BingX поверх общего пула соединений
func NewBingX(opts ...Option) *BingX {
	o := buildOptions("bingx", bingxBaseURL, bingxWSURL, opts)
	if o.testnet && o.baseURL == bingxBaseURL {
		o.baseURL = bingxVSTURL
	}
	return &BingX{
		rest:            newRestClient(o.baseURL),
		opts:            o,
		logger:          o.logger,
		tickerCallbacks: make(map[string]func(*Ticker)),
	}
}

// sign создает подпись для BingX API
func (b *BingX) sign(params string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(params))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest отправляет запрос и возвращает поле data
func (b *BingX) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) (jsoniter.RawMessage, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	payload := ""
	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		payload = query.Encode()
		payload += "&signature=" + b.sign(payload)
	} else {
		payload = query.Encode()
	}

	req := b.rest.R().SetContext(ctx)
	if b.apiKey != "" {
		req.SetHeader("X-BX-APIKEY", b.apiKey)
	}
	if method == http.MethodGet {
		req.SetQueryString(payload)
	} else {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(payload)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, newError("bingx", "", "request "+endpoint+" failed", err)
	}

	var baseResp struct {
		Code int                 `json:"code"`
		Msg  string              `json:"msg"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &baseResp); err != nil {
		return nil, newError("bingx", strconv.Itoa(resp.StatusCode()), "invalid response: "+resp.String(), err)
	}
	if baseResp.Code != 0 {
		return nil, newError("bingx", strconv.Itoa(baseResp.Code), baseResp.Msg, nil)
	}

	return baseResp.Data, nil
}

func (b *BingX) Connect(apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to BingX: %w", err)
	}
	return nil
}

func (b *BingX) GetName() string {
	return "bingx"
}

func (b *BingX) Timeframes() []string {
	return timeframeKeys(bingxTimeframes)
}

func (b *BingX) ListSwapSymbols(ctx context.Context) ([]string, error) {
	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/contracts", nil, false)
	if err != nil {
		return nil, err
	}

	var contracts []struct {
		Symbol string `json:"symbol"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(contracts))
	for _, c := range contracts {
		if c.Status != 1 {
			continue
		}
		if unified, ok := splitVenueSymbol(c.Symbol, "-"); ok {
			symbols = append(symbols, unified)
		}
	}
	return symbols, nil
}

func (b *BingX) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return nil, err
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/premiumIndex",
		map[string]string{"symbol": bingxSymbol}, false)
	if err != nil {
		return nil, err
	}

	var premium struct {
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(data, &premium); err != nil {
		return nil, err
	}
	if premium.LastFundingRate == "" {
		return nil, fmt.Errorf("bingx funding %s: %w", symbol, ErrSymbolNotFound)
	}

	return &FundingRate{
		Symbol:      symbol,
		Rate:        parseFloat(premium.LastFundingRate),
		FundingTime: utils.MillisPtr(premium.NextFundingTime),
	}, nil
}

func (b *BingX) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return nil, err
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/ticker",
		map[string]string{"symbol": bingxSymbol}, false)
	if err != nil {
		return nil, err
	}

	var t struct {
		LastPrice string `json:"lastPrice"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}

	return &Ticker{
		Symbol:     symbol,
		BidPrice:   parseFloat(t.BidPrice),
		AskPrice:   parseFloat(t.AskPrice),
		LastPrice:  parseFloat(t.LastPrice),
		BaseVolume: parseFloat(t.Volume),
		Timestamp:  time.Now(),
	}, nil
}

func (b *BingX) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 {
		depth = 5
	}
	if depth > 1000 {
		depth = 1000
	}

	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return nil, err
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/quote/depth", map[string]string{
		"symbol": bingxSymbol,
		"limit":  strconv.Itoa(depth),
	}, false)
	if err != nil {
		return nil, err
	}

	var book struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		T    int64      `json:"T"`
	}
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, err
	}

	orderBook := &OrderBook{
		Symbol:    symbol,
		Bids:      levelsFromStrings(book.Bids),
		Asks:      levelsFromStrings(book.Asks),
		Timestamp: time.UnixMilli(book.T),
	}
	sortBook(orderBook)
	return orderBook, nil
}

func (b *BingX) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	interval, ok := bingxTimeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("bingx %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return nil, err
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v3/quote/klines", map[string]string{
		"symbol":   bingxSymbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}, false)
	if err != nil {
		return nil, err
	}

	var klines []struct {
		Open   string `json:"open"`
		Close  string `json:"close"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Volume string `json:"volume"`
		Time   int64  `json:"time"`
	}
	if err := json.Unmarshal(data, &klines); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(k.Time),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	// порядок выдачи у BingX не задокументирован, сортируем явно
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

func (b *BingX) GetBalance(ctx context.Context) (*Balance, error) {
	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/balance", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balance struct {
			Asset           string `json:"asset"`
			Equity          string `json:"equity"`
			AvailableMargin string `json:"availableMargin"`
			UsedMargin      string `json:"usedMargin"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	return &Balance{
		Currency: "USDT",
		Total:    parseFloat(resp.Balance.Equity),
		Free:     parseFloat(resp.Balance.AvailableMargin),
		Used:     parseFloat(resp.Balance.UsedMargin),
	}, nil
}

// SetLeverage выставляет плечо для обеих сторон hedge-режима
func (b *BingX) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return err
	}

	for _, side := range []string{"LONG", "SHORT"} {
		_, err := b.doRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/leverage", map[string]string{
			"symbol":   bingxSymbol,
			"side":     side,
			"leverage": strconv.Itoa(leverage),
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *BingX) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	bingxSymbol, err := venueSymbol(req.Symbol, "-")
	if err != nil {
		return nil, err
	}

	bingxSide := "BUY"
	if req.Side == SideSell {
		bingxSide = "SELL"
	}

	params := map[string]string{
		"symbol":   bingxSymbol,
		"side":     bingxSide,
		"type":     "MARKET",
		"quantity": formatFloat(req.Amount),
	}
	// в hedge-режиме закрытие задаётся противоположной стороной и positionSide, reduceOnly не передаётся
	switch req.PositionSide {
	case SideLong:
		params["positionSide"] = "LONG"
	case SideShort:
		params["positionSide"] = "SHORT"
	default:
		params["positionSide"] = "BOTH"
		if req.ReduceOnly {
			params["reduceOnly"] = "true"
		}
	}
	if req.ClientOrderID != "" {
		params["clientOrderID"] = req.ClientOrderID
	}

	data, err := b.doRequest(ctx, http.MethodPost, "/openApi/swap/v2/trade/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order struct {
			OrderID       jsoniter.Number `json:"orderId"`
			ClientOrderID string          `json:"clientOrderID"`
		} `json:"order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	return &Order{
		ID:            resp.Order.OrderID.String(),
		ClientOrderID: resp.Order.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          "market",
		Quantity:      req.Amount,
		Status:        OrderStatusNew,
		CreatedAt:     time.Now(),
	}, nil
}

func (b *BingX) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return nil, err
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/trade/order", map[string]string{
		"symbol":  bingxSymbol,
		"orderId": orderID,
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order *struct {
			OrderID       jsoniter.Number `json:"orderId"`
			ClientOrderID string          `json:"clientOrderId"`
			Side          string          `json:"side"`
			OrigQty       string          `json:"origQty"`
			ExecutedQty   string          `json:"executedQty"`
			AvgPrice      string          `json:"avgPrice"`
			Price         string          `json:"price"`
			Status        string          `json:"status"`
			Time          int64           `json:"time"`
		} `json:"order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("bingx order %s: %w", orderID, ErrOrderNotFound)
	}

	o := resp.Order
	return &Order{
		ID:            o.OrderID.String(),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          strings.ToLower(o.Side),
		Type:          "market",
		Quantity:      parseFloat(o.OrigQty),
		FilledQty:     parseFloat(o.ExecutedQty),
		AvgFillPrice:  parseFloat(o.AvgPrice),
		Price:         parseFloat(o.Price),
		Status:        bingxOrderStatus(o.Status),
		CreatedAt:     time.UnixMilli(o.Time),
	}, nil
}

func bingxOrderStatus(s string) string {
	switch s {
	case "FILLED":
		return OrderStatusFilled
	case "PARTIALLY_FILLED":
		return OrderStatusPartial
	case "CANCELED", "CANCELLED", "EXPIRED":
		return OrderStatusCancelled
	case "FAILED":
		return OrderStatusRejected
	default:
		return OrderStatusNew
	}
}

func (b *BingX) GetOpenPositions(ctx context.Context, symbols ...string) ([]*Position, error) {
	params := map[string]string{}
	if len(symbols) == 1 {
		s, err := venueSymbol(symbols[0], "-")
		if err != nil {
			return nil, err
		}
		params["symbol"] = s
	}

	data, err := b.doRequest(ctx, http.MethodGet, "/openApi/swap/v2/user/positions", params, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionSide     string `json:"positionSide"`
		PositionAmt      string `json:"positionAmt"`
		AvgPrice         string `json:"avgPrice"`
		MarkPrice        string `json:"markPrice"`
		Leverage         int    `json:"leverage"`
		UnrealizedProfit string `json:"unrealizedProfit"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if u, err := ParseSymbol(s); err == nil {
			wanted[u.String()] = true
		}
	}

	positions := make([]*Position, 0, len(raw))
	for _, p := range raw {
		posAmt := parseFloat(p.PositionAmt)
		if posAmt == 0 {
			continue
		}
		unified, ok := splitVenueSymbol(p.Symbol, "-")
		if !ok {
			unified = p.Symbol
		}
		if len(wanted) > 0 && !wanted[unified] {
			continue
		}

		side := SideLong
		size := posAmt
		if p.PositionSide == "SHORT" || posAmt < 0 {
			side = SideShort
			if size < 0 {
				size = -size
			}
		}

		positions = append(positions, &Position{
			Symbol:        unified,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      p.Leverage,
			UnrealizedPnl: parseFloat(p.UnrealizedProfit),
			UpdatedAt:     time.UnixMilli(p.UpdateTime),
		})
	}

	return positions, nil
}

func (b *BingX) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	bingxSymbol, err := venueSymbol(symbol, "-")
	if err != nil {
		return err
	}

	b.callbackMu.Lock()
	b.tickerCallbacks[bingxSymbol] = callback
	b.callbackMu.Unlock()

	b.wsMu.Lock()
	if b.wsManager == nil {
		b.wsManager = NewWSReconnectManager("bingx", b.opts.wsURL, DefaultWSReconnectConfig(), b.logger)
		b.wsManager.SetOnMessage(b.handleMessage)

		if err := b.wsManager.Connect(); err != nil {
			b.wsManager = nil
			b.wsMu.Unlock()
			return fmt.Errorf("failed to connect to WebSocket: %w", err)
		}
	}
	wsManager := b.wsManager
	b.wsMu.Unlock()

	subMsg := map[string]interface{}{
		"id":       "ticker_" + bingxSymbol,
		"reqType":  "sub",
		"dataType": bingxSymbol + "@ticker",
	}

	wsManager.AddSubscription(subMsg)
	return wsManager.Send(subMsg)
}

// handleMessage обрабатывает одно сообщение из WebSocket.
// BingX сжимает все фреймы gzip и ждёт "Pong" в ответ на "Ping".
func (b *BingX) handleMessage(message []byte) {
	payload, err := gunzip(message)
	if err != nil {
		payload = message
	}

	if string(payload) == "Ping" {
		b.wsMu.Lock()
		ws := b.wsManager
		b.wsMu.Unlock()
		if ws != nil {
			_ = ws.SendText("Pong")
		}
		return
	}

	var msg struct {
		DataType string `json:"dataType"`
		Data     struct {
			Symbol    string `json:"s"`
			LastPrice string `json:"c"`
			BidPrice  string `json:"b"`
			AskPrice  string `json:"a"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if !strings.Contains(msg.DataType, "@ticker") {
		return
	}

	b.callbackMu.RLock()
	callback, ok := b.tickerCallbacks[msg.Data.Symbol]
	b.callbackMu.RUnlock()
	if !ok || callback == nil {
		return
	}

	unified, _ := splitVenueSymbol(msg.Data.Symbol, "-")
	callback(&Ticker{
		Symbol:    unified,
		BidPrice:  parseFloat(msg.Data.BidPrice),
		AskPrice:  parseFloat(msg.Data.AskPrice),
		LastPrice: parseFloat(msg.Data.LastPrice),
		Timestamp: time.Now(),
	})
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *BingX) Close() error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsManager != nil {
		err := b.wsManager.Close()
		b.wsManager = nil
		return err
	}
	return nil
}
