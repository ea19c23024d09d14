package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"alphawave/pkg/utils"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	okxBaseURL     = "https://www.okx.com"
	okxWSPublic    = "wss://ws.okx.com:8443/ws/v5/public"
	okxWSDemo      = "wss://wspap.okx.com:8443/ws/v5/public"
	okxTimeFormat  = "2006-01-02T15:04:05.000Z"
	okxMarginMode  = "isolated"
	okxSettleCoin  = "USDT"
	okxInstSuffix  = "-SWAP"
	okxMaxBookSize = 400
)

var okxTimeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W", "1M": "1M",
}

// OKX реализует Exchange для USDT swap контрактов OKX (API v5).
// Торговля ведётся в изолированной марже; sz в ордерах задаётся в контрактах.
type OKX struct {
	apiKey     string
	secretKey  string
	passphrase string

	rest   *resty.Client
	opts   options
	logger *zap.Logger

	wsPublic        *WSReconnectManager
	wsMu            sync.Mutex
	tickerCallbacks map[string]func(*Ticker) // по instId
	callbackMu      sync.RWMutex
}

func NewOKX(opts ...Option) *OKX {
	o := buildOptions("okx", okxBaseURL, okxWSPublic, opts)
	if o.testnet && o.wsURL == okxWSPublic {
		o.wsURL = okxWSDemo
	}
	rest := newRestClient(o.baseURL)
	if o.testnet {
		rest.SetHeader("x-simulated-trading", "1")
	}
	return &OKX{
		rest:            rest,
		opts:            o,
		logger:          o.logger,
		tickerCallbacks: make(map[string]func(*Ticker)),
	}
}

// okxInstID: BTC/USDT:USDT -> BTC-USDT-SWAP
func okxInstID(symbol string) (string, error) {
	s, err := venueSymbol(symbol, "-")
	if err != nil {
		return "", err
	}
	return s + okxInstSuffix, nil
}

func okxUnified(instID string) (string, bool) {
	return splitVenueSymbol(strings.TrimSuffix(instID, okxInstSuffix), "-")
}

// sign = base64(HMAC-SHA256(timestamp + method + requestPath + body))
func (o *OKX) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (o *OKX) doRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}, signed bool) (jsoniter.RawMessage, error) {
	req := o.rest.R().SetContext(ctx)

	requestPath := endpoint
	if len(query) > 0 {
		qs := query.Encode()
		requestPath += "?" + qs
		req.SetQueryString(qs)
	}

	payload := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
		req.SetBody(payload)
	}

	if signed {
		ts := time.Now().UTC().Format(okxTimeFormat)
		req.SetHeaders(map[string]string{
			"OK-ACCESS-KEY":        o.apiKey,
			"OK-ACCESS-SIGN":       o.sign(ts, method, requestPath, payload),
			"OK-ACCESS-TIMESTAMP":  ts,
			"OK-ACCESS-PASSPHRASE": o.passphrase,
		})
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, newError("okx", "", "request "+endpoint+" failed", err)
	}

	var envelope struct {
		Code string              `json:"code"`
		Msg  string              `json:"msg"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, newError("okx", fmt.Sprint(resp.StatusCode()), "invalid response: "+resp.String(), err)
	}
	if envelope.Code != "0" {
		return nil, newError("okx", envelope.Code, envelope.Msg, nil)
	}
	return envelope.Data, nil
}

func (o *OKX) Connect(apiKey, secret, passphrase string) error {
	o.apiKey = apiKey
	o.secretKey = secret
	o.passphrase = passphrase

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := o.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to OKX: %w", err)
	}
	return nil
}

func (o *OKX) GetName() string {
	return "okx"
}

func (o *OKX) Timeframes() []string {
	return timeframeKeys(okxTimeframes)
}

func (o *OKX) ListSwapSymbols(ctx context.Context) ([]string, error) {
	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/instruments",
		url.Values{"instType": {"SWAP"}}, nil, false)
	if err != nil {
		return nil, err
	}

	var instruments []struct {
		InstID    string `json:"instId"`
		SettleCcy string `json:"settleCcy"`
		State     string `json:"state"`
	}
	if err := json.Unmarshal(data, &instruments); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if inst.State != "live" || inst.SettleCcy != okxSettleCoin {
			continue
		}
		if unified, ok := okxUnified(inst.InstID); ok {
			symbols = append(symbols, unified)
		}
	}
	return symbols, nil
}

func (o *OKX) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/funding-rate",
		url.Values{"instId": {instID}}, nil, false)
	if err != nil {
		return nil, err
	}

	var rates []struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	}
	if err := json.Unmarshal(data, &rates); err != nil {
		return nil, err
	}
	if len(rates) == 0 || rates[0].FundingRate == "" {
		return nil, fmt.Errorf("okx funding %s: %w", symbol, ErrSymbolNotFound)
	}

	return &FundingRate{
		Symbol:      symbol,
		Rate:        parseFloat(rates[0].FundingRate),
		FundingTime: utils.MillisPtr(parseInt(rates[0].FundingTime)),
	}, nil
}

func (o *OKX) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker",
		url.Values{"instId": {instID}}, nil, false)
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Last     string `json:"last"`
		BidPx    string `json:"bidPx"`
		AskPx    string `json:"askPx"`
		VolCcy24 string `json:"volCcy24h"` // в базовой валюте для SWAP
		Ts       string `json:"ts"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("okx ticker %s: %w", symbol, ErrSymbolNotFound)
	}

	t := tickers[0]
	return &Ticker{
		Symbol:     symbol,
		BidPrice:   parseFloat(t.BidPx),
		AskPrice:   parseFloat(t.AskPx),
		LastPrice:  parseFloat(t.Last),
		BaseVolume: parseFloat(t.VolCcy24),
		Timestamp:  time.UnixMilli(parseInt(t.Ts)),
	}, nil
}

func (o *OKX) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}
	if depth > okxMaxBookSize {
		depth = okxMaxBookSize
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/books",
		url.Values{"instId": {instID}, "sz": {fmt.Sprint(depth)}}, nil, false)
	if err != nil {
		return nil, err
	}

	var books []struct {
		Asks [][]string `json:"asks"` // [px, sz, deprecated, orders]
		Bids [][]string `json:"bids"`
		Ts   string     `json:"ts"`
	}
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("okx order book %s: %w", symbol, ErrSymbolNotFound)
	}

	ob := &OrderBook{
		Symbol:    symbol,
		Bids:      levelsFromStrings(books[0].Bids),
		Asks:      levelsFromStrings(books[0].Asks),
		Timestamp: time.UnixMilli(parseInt(books[0].Ts)),
	}
	sortBook(ob)
	return ob, nil
}

func (o *OKX) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	bar, ok := okxTimeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("okx %s: %w", timeframe, ErrUnsupportedTimeframe)
	}
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/candles", url.Values{
		"instId": {instID},
		"bar":    {bar},
		"limit":  {fmt.Sprint(limit)},
	}, nil, false)
	if err != nil {
		return nil, err
	}

	var rows [][]string // [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm], новые первыми
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(parseInt(r[0])),
			Open:      parseFloat(r[1]),
			High:      parseFloat(r[2]),
			Low:       parseFloat(r[3]),
			Close:     parseFloat(r[4]),
			Volume:    parseFloat(r[5]),
		})
	}
	reverseCandles(candles)
	return candles, nil
}

func (o *OKX) GetBalance(ctx context.Context) (*Balance, error) {
	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance",
		url.Values{"ccy": {okxSettleCoin}}, nil, true)
	if err != nil {
		return nil, err
	}

	var accounts []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			Eq        string `json:"eq"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, err
	}

	bal := &Balance{Currency: okxSettleCoin}
	for _, acc := range accounts {
		for _, d := range acc.Details {
			if d.Ccy != okxSettleCoin {
				continue
			}
			bal.Total = parseFloat(d.Eq)
			bal.Free = parseFloat(d.AvailBal)
			bal.Used = parseFloat(d.FrozenBal)
		}
	}
	return bal, nil
}

// SetLeverage выставляет изолированное плечо для long и short
func (o *OKX) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	instID, err := okxInstID(symbol)
	if err != nil {
		return err
	}

	for _, posSide := range []string{SideLong, SideShort} {
		_, err := o.doRequest(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, map[string]string{
			"instId":  instID,
			"lever":   fmt.Sprint(leverage),
			"mgnMode": okxMarginMode,
			"posSide": posSide,
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *OKX) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	instID, err := okxInstID(req.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"instId":  instID,
		"tdMode":  okxMarginMode,
		"side":    req.Side,
		"ordType": "market",
		"sz":      formatFloat(req.Amount),
	}
	// в long/short режиме закрытие задаёт posSide, reduceOnly применим только в net-режиме
	if req.PositionSide != "" {
		body["posSide"] = req.PositionSide
	} else if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.ClientOrderID != "" {
		// clOrdId: только буквы и цифры, до 32 символов
		body["clOrdId"] = strings.ReplaceAll(req.ClientOrderID, "-", "")
	}

	data, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return nil, err
	}

	var results []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, newError("okx", "", "empty order response", nil)
	}
	if results[0].SCode != "0" {
		return nil, newError("okx", results[0].SCode, results[0].SMsg, nil)
	}

	return &Order{
		ID:            results[0].OrdID,
		ClientOrderID: results[0].ClOrdID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          "market",
		Quantity:      req.Amount,
		Status:        OrderStatusNew,
		CreatedAt:     time.Now(),
	}, nil
}

func (o *OKX) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	instID, err := okxInstID(symbol)
	if err != nil {
		return nil, err
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/order",
		url.Values{"instId": {instID}, "ordId": {orderID}}, nil, true)
	if err != nil {
		return nil, err
	}

	var orders []struct {
		OrdID     string `json:"ordId"`
		ClOrdID   string `json:"clOrdId"`
		Side      string `json:"side"`
		Sz        string `json:"sz"`
		Px        string `json:"px"`
		AvgPx     string `json:"avgPx"`
		AccFillSz string `json:"accFillSz"`
		State     string `json:"state"`
		CTime     string `json:"cTime"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("okx order %s: %w", orderID, ErrOrderNotFound)
	}

	ord := orders[0]
	return &Order{
		ID:            ord.OrdID,
		ClientOrderID: ord.ClOrdID,
		Symbol:        symbol,
		Side:          ord.Side,
		Type:          "market",
		Quantity:      parseFloat(ord.Sz),
		FilledQty:     parseFloat(ord.AccFillSz),
		AvgFillPrice:  parseFloat(ord.AvgPx),
		Price:         parseFloat(ord.Px),
		Status:        okxOrderStatus(ord.State),
		CreatedAt:     time.UnixMilli(parseInt(ord.CTime)),
	}, nil
}

func okxOrderStatus(state string) string {
	switch state {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled", "mmp_canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

func (o *OKX) GetOpenPositions(ctx context.Context, symbols ...string) ([]*Position, error) {
	q := url.Values{"instType": {"SWAP"}}
	if len(symbols) == 1 {
		instID, err := okxInstID(symbols[0])
		if err != nil {
			return nil, err
		}
		q.Set("instId", instID)
	}

	data, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Lever   string `json:"lever"`
		Upl     string `json:"upl"`
		UTime   string `json:"uTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if id, err := okxInstID(s); err == nil {
			wanted[id] = true
		}
	}

	positions := make([]*Position, 0, len(raw))
	for _, p := range raw {
		pos := parseFloat(p.Pos)
		if pos == 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[p.InstID] {
			continue
		}
		unified, ok := okxUnified(p.InstID)
		if !ok {
			unified = p.InstID
		}

		// net-режим: знак pos задаёт сторону
		side := p.PosSide
		if side != SideLong && side != SideShort {
			side = SideLong
			if pos < 0 {
				side = SideShort
			}
		}
		if pos < 0 {
			pos = -pos
		}

		positions = append(positions, &Position{
			Symbol:        unified,
			Side:          side,
			Size:          pos,
			EntryPrice:    parseFloat(p.AvgPx),
			MarkPrice:     parseFloat(p.MarkPx),
			Leverage:      int(parseFloat(p.Lever)),
			UnrealizedPnl: parseFloat(p.Upl),
			UpdatedAt:     time.UnixMilli(parseInt(p.UTime)),
		})
	}
	return positions, nil
}

func (o *OKX) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	instID, err := okxInstID(symbol)
	if err != nil {
		return err
	}

	o.callbackMu.Lock()
	o.tickerCallbacks[instID] = callback
	o.callbackMu.Unlock()

	o.wsMu.Lock()
	if o.wsPublic == nil {
		o.wsPublic = NewWSReconnectManager("okx-public", o.opts.wsURL, DefaultWSReconnectConfig(), o.logger)
		o.wsPublic.SetTextPing("ping")
		o.wsPublic.SetOnMessage(o.handlePublicMessage)
		if err := o.wsPublic.Connect(); err != nil {
			o.wsPublic = nil
			o.wsMu.Unlock()
			return fmt.Errorf("failed to connect to WebSocket: %w", err)
		}
	}
	ws := o.wsPublic
	o.wsMu.Unlock()

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": "tickers", "instId": instID}},
	}
	ws.AddSubscription(sub)
	return ws.Send(sub)
}

func (o *OKX) handlePublicMessage(message []byte) {
	if string(message) == "pong" {
		return
	}

	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			Last  string `json:"last"`
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Ts    string `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return
	}

	o.callbackMu.RLock()
	callback, ok := o.tickerCallbacks[msg.Arg.InstID]
	o.callbackMu.RUnlock()
	if !ok || callback == nil {
		return
	}

	unified, _ := okxUnified(msg.Arg.InstID)
	d := msg.Data[0]
	callback(&Ticker{
		Symbol:    unified,
		BidPrice:  parseFloat(d.BidPx),
		AskPrice:  parseFloat(d.AskPx),
		LastPrice: parseFloat(d.Last),
		Timestamp: time.UnixMilli(parseInt(d.Ts)),
	})
}

func (o *OKX) Close() error {
	o.wsMu.Lock()
	defer o.wsMu.Unlock()

	if o.wsPublic != nil {
		err := o.wsPublic.Close()
		o.wsPublic = nil
		return err
	}
	return nil
}
