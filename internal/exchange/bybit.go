package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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
	bybitBaseURL    = "https://api.bybit.com"
	bybitWSPublic   = "wss://stream.bybit.com/v5/public/linear"
	bybitTestnetURL = "https://api-testnet.bybit.com"
	bybitTestnetWS  = "wss://stream-testnet.bybit.com/v5/public/linear"
	bybitRecvWindow = "5000"

	// bybitLeverageNotModified - плечо уже установлено в запрошенное значение
	bybitLeverageNotModified = 110043
)

var bybitTimeframes = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

// Bybit реализует Exchange для USDT-перпетуалов Bybit (API v5, category=linear)
type Bybit struct {
	apiKey    string
	secretKey string

	rest   *resty.Client
	opts   options
	logger *zap.Logger

	wsPublic        *WSReconnectManager
	tickerCallbacks map[string]func(*Ticker) // по символу биржи
	venueToUnified  map[string]string
	callbackMu      sync.RWMutex
}

// NewBybit создаёт клиент Bybit
func NewBybit(opts ...Option) *Bybit {
	o := buildOptions("bybit", bybitBaseURL, bybitWSPublic, opts)
	if o.testnet && o.baseURL == bybitBaseURL {
		o.baseURL, o.wsURL = bybitTestnetURL, bybitTestnetWS
	}
	return &Bybit{
		rest:            newRestClient(o.baseURL),
		opts:            o,
		logger:          o.logger,
		tickerCallbacks: make(map[string]func(*Ticker)),
		venueToUnified:  make(map[string]string),
	}
}

// sign: timestamp + apiKey + recvWindow + (query | body)
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет запрос и возвращает содержимое поля result
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, query url.Values, body map[string]interface{}, signed bool) (jsoniter.RawMessage, error) {
	req := b.rest.R().SetContext(ctx)

	var payload string
	if method == http.MethodGet {
		payload = query.Encode()
		req.SetQueryString(payload)
	} else if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
		req.SetBody(payload)
	}

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.SetHeaders(map[string]string{
			"X-BAPI-API-KEY":     b.apiKey,
			"X-BAPI-SIGN":        b.sign(ts, payload),
			"X-BAPI-TIMESTAMP":   ts,
			"X-BAPI-RECV-WINDOW": bybitRecvWindow,
		})
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, newError("bybit", "", "request "+endpoint+" failed", err)
	}

	var envelope struct {
		RetCode int                 `json:"retCode"`
		RetMsg  string              `json:"retMsg"`
		Result  jsoniter.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, newError("bybit", strconv.Itoa(resp.StatusCode()), "invalid response: "+resp.String(), err)
	}
	if envelope.RetCode != 0 {
		return nil, newError("bybit", strconv.Itoa(envelope.RetCode), envelope.RetMsg, nil)
	}
	return envelope.Result, nil
}

func (b *Bybit) Connect(apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) Timeframes() []string {
	return timeframeKeys(bybitTimeframes)
}

func (b *Bybit) ListSwapSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	cursor := ""

	for {
		q := url.Values{"category": {"linear"}, "limit": {"1000"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		raw, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, false)
		if err != nil {
			return nil, err
		}

		var result struct {
			List []struct {
				Symbol       string `json:"symbol"`
				ContractType string `json:"contractType"`
				Status       string `json:"status"`
				BaseCoin     string `json:"baseCoin"`
				QuoteCoin    string `json:"quoteCoin"`
				SettleCoin   string `json:"settleCoin"`
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}

		for _, inst := range result.List {
			if inst.ContractType != "LinearPerpetual" || inst.Status != "Trading" {
				continue
			}
			symbols = append(symbols, Symbol{Base: inst.BaseCoin, Quote: inst.QuoteCoin, Settle: inst.SettleCoin}.String())
		}

		if result.NextPageCursor == "" || result.NextPageCursor == cursor {
			break
		}
		cursor = result.NextPageCursor
	}

	return symbols, nil
}

// bybitTicker - строка из /v5/market/tickers
type bybitTicker struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	Bid1Price       string `json:"bid1Price"`
	Ask1Price       string `json:"ask1Price"`
	Volume24h       string `json:"volume24h"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

func (b *Bybit) fetchTicker(ctx context.Context, symbol string) (*bybitTicker, error) {
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return nil, err
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers",
		url.Values{"category": {"linear"}, "symbol": {venue}}, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []bybitTicker `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("bybit ticker %s: %w", symbol, ErrSymbolNotFound)
	}
	return &result.List[0], nil
}

func (b *Bybit) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	t, err := b.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if t.FundingRate == "" {
		return nil, fmt.Errorf("bybit funding %s: %w", symbol, ErrSymbolNotFound)
	}
	return &FundingRate{
		Symbol:      symbol,
		Rate:        parseFloat(t.FundingRate),
		FundingTime: utils.MillisPtr(parseInt(t.NextFundingTime)),
	}, nil
}

func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	t, err := b.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Ticker{
		Symbol:     symbol,
		BidPrice:   parseFloat(t.Bid1Price),
		AskPrice:   parseFloat(t.Ask1Price),
		LastPrice:  parseFloat(t.LastPrice),
		BaseVolume: parseFloat(t.Volume24h),
		Timestamp:  time.Now(),
	}, nil
}

func (b *Bybit) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}
	if depth > 500 {
		depth = 500
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/v5/market/orderbook",
		url.Values{"category": {"linear"}, "symbol": {venue}, "limit": {strconv.Itoa(depth)}}, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
		Ts   int64      `json:"ts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	ob := &OrderBook{
		Symbol:    symbol,
		Bids:      levelsFromStrings(result.Bids),
		Asks:      levelsFromStrings(result.Asks),
		Timestamp: time.UnixMilli(result.Ts),
	}
	sortBook(ob)
	return ob, nil
}

func (b *Bybit) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	interval, ok := bybitTimeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("bybit %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return nil, err
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/v5/market/kline", url.Values{
		"category": {"linear"},
		"symbol":   {venue},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], новые первыми
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(result.List))
	for _, k := range result.List {
		if len(k) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(parseInt(k[0])),
			Open:      parseFloat(k[1]),
			High:      parseFloat(k[2]),
			Low:       parseFloat(k[3]),
			Close:     parseFloat(k[4]),
			Volume:    parseFloat(k[5]),
		})
	}
	reverseCandles(candles)
	return candles, nil
}

func (b *Bybit) GetBalance(ctx context.Context) (*Balance, error) {
	raw, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance",
		url.Values{"accountType": {"UNIFIED"}, "coin": {"USDT"}}, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				TotalPositionIM string `json:"totalPositionIM"`
				TotalOrderIM    string `json:"totalOrderIM"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	bal := &Balance{Currency: "USDT"}
	for _, acc := range result.List {
		for _, c := range acc.Coin {
			if c.Coin != "USDT" {
				continue
			}
			bal.Total = parseFloat(c.WalletBalance)
			bal.Used = parseFloat(c.TotalPositionIM) + parseFloat(c.TotalOrderIM)
			bal.Free = bal.Total - bal.Used
		}
	}
	return bal, nil
}

func (b *Bybit) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return err
	}
	lev := strconv.Itoa(leverage)

	_, err = b.doRequest(ctx, http.MethodPost, "/v5/position/set-leverage", nil, map[string]interface{}{
		"category":     "linear",
		"symbol":       venue,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, true)

	var exErr *ExchangeError
	if err != nil && errors.As(err, &exErr) && exErr.Code == strconv.Itoa(bybitLeverageNotModified) {
		return nil
	}
	return err
}

func (b *Bybit) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	venue, err := venueSymbol(req.Symbol, "")
	if err != nil {
		return nil, err
	}

	side := "Buy"
	if req.Side == SideSell {
		side = "Sell"
	}

	body := map[string]interface{}{
		"category":   "linear",
		"symbol":     venue,
		"side":       side,
		"orderType":  "Market",
		"qty":        formatFloat(req.Amount),
		"reduceOnly": req.ReduceOnly,
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}
	switch req.PositionSide {
	case SideLong:
		body["positionIdx"] = 1
	case SideShort:
		body["positionIdx"] = 2
	}

	raw, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	return &Order{
		ID:            result.OrderID,
		ClientOrderID: result.OrderLinkID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          "market",
		Quantity:      req.Amount,
		Status:        OrderStatusNew,
		CreatedAt:     time.Now(),
	}, nil
}

// GetOrder ищет ордер среди активных, затем в истории (исполненные рыночные ордера уходят туда быстро)
func (b *Bybit) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return nil, err
	}

	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		raw, err := b.doRequest(ctx, http.MethodGet, endpoint,
			url.Values{"category": {"linear"}, "symbol": {venue}, "orderId": {orderID}}, nil, true)
		if err != nil {
			return nil, err
		}

		var result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderLinkID string `json:"orderLinkId"`
				Side        string `json:"side"`
				Qty         string `json:"qty"`
				Price       string `json:"price"`
				AvgPrice    string `json:"avgPrice"`
				CumExecQty  string `json:"cumExecQty"`
				OrderStatus string `json:"orderStatus"`
				CreatedTime string `json:"createdTime"`
			} `json:"list"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			continue
		}

		o := result.List[0]
		return &Order{
			ID:            o.OrderID,
			ClientOrderID: o.OrderLinkID,
			Symbol:        symbol,
			Side:          strings.ToLower(o.Side),
			Type:          "market",
			Quantity:      parseFloat(o.Qty),
			FilledQty:     parseFloat(o.CumExecQty),
			AvgFillPrice:  parseFloat(o.AvgPrice),
			Price:         parseFloat(o.Price),
			Status:        bybitOrderStatus(o.OrderStatus),
			CreatedAt:     time.UnixMilli(parseInt(o.CreatedTime)),
		}, nil
	}

	return nil, fmt.Errorf("bybit order %s: %w", orderID, ErrOrderNotFound)
}

func bybitOrderStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled", "PartiallyFilledCanceled":
		return OrderStatusPartial
	case "Cancelled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusNew
	}
}

func (b *Bybit) GetOpenPositions(ctx context.Context, symbols ...string) ([]*Position, error) {
	q := url.Values{"category": {"linear"}}
	if len(symbols) == 1 {
		venue, err := venueSymbol(symbols[0], "")
		if err != nil {
			return nil, err
		}
		q.Set("symbol", venue)
	} else {
		q.Set("settleCoin", "USDT")
	}

	raw, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", q, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	wanted := make(map[string]string, len(symbols))
	for _, s := range symbols {
		if v, err := venueSymbol(s, ""); err == nil {
			wanted[v] = s
		}
	}

	positions := make([]*Position, 0, len(result.List))
	for _, p := range result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		unified, ok := wanted[p.Symbol]
		if len(wanted) > 0 && !ok {
			continue
		}
		if !ok {
			unified = p.Symbol
		}

		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}
		lev, _ := strconv.Atoi(p.Leverage)

		positions = append(positions, &Position{
			Symbol:        unified,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      lev,
			UnrealizedPnl: parseFloat(p.UnrealisedPnl),
			UpdatedAt:     time.UnixMilli(parseInt(p.UpdatedTime)),
		})
	}
	return positions, nil
}

func (b *Bybit) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	venue, err := venueSymbol(symbol, "")
	if err != nil {
		return err
	}

	b.callbackMu.Lock()
	b.tickerCallbacks[venue] = callback
	b.venueToUnified[venue] = symbol
	b.callbackMu.Unlock()

	if b.wsPublic == nil {
		b.wsPublic = NewWSReconnectManager("bybit-public", b.opts.wsURL, DefaultWSReconnectConfig(), b.logger)
		b.wsPublic.SetOnMessage(b.handlePublicMessage)
		if err := b.wsPublic.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WebSocket: %w", err)
		}
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"tickers." + venue},
	}
	b.wsPublic.AddSubscription(sub)
	return b.wsPublic.Send(sub)
}

// handlePublicMessage обрабатывает сообщение тикер-канала; delta без lastPrice пропускается
func (b *Bybit) handlePublicMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.LastPrice == "" {
		return
	}

	b.callbackMu.RLock()
	callback, ok := b.tickerCallbacks[msg.Data.Symbol]
	unified := b.venueToUnified[msg.Data.Symbol]
	b.callbackMu.RUnlock()
	if !ok || callback == nil {
		return
	}

	callback(&Ticker{
		Symbol:    unified,
		BidPrice:  parseFloat(msg.Data.Bid1Price),
		AskPrice:  parseFloat(msg.Data.Ask1Price),
		LastPrice: parseFloat(msg.Data.LastPrice),
		Timestamp: time.Now(),
	})
}

func (b *Bybit) Close() error {
	if b.wsPublic != nil {
		err := b.wsPublic.Close()
		b.wsPublic = nil
		return err
	}
	return nil
}
