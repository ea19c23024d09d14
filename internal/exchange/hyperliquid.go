package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"
)

const (
	hyperliquidBaseURL    = "https://api.hyperliquid.xyz"
	hyperliquidTestnetURL = "https://api.hyperliquid-testnet.xyz"
	hyperliquidQuote      = "USDC"

	// снимок вселенной переиспользуется в пределах одного прохода агрегатора
	hyperliquidSnapshotTTL = 15 * time.Second
)

// Hyperliquid - публичные данные перпетуалов Hyperliquid (только MarketData).
// Фандинг начисляется каждый час; символы имеют вид BTC/USDC:USDC.
type Hyperliquid struct {
	baseURL string
	rest    *resty.Client
	logger  *zap.Logger

	infoOnce sync.Once
	info     *hyperliquid.Info

	mu         sync.Mutex
	fundings   map[string]float64 // coin -> ставка
	snapshotAt time.Time
}

func NewHyperliquid(opts ...Option) *Hyperliquid {
	o := buildOptions("hyperliquid", hyperliquidBaseURL, "", opts)
	if o.testnet && o.baseURL == hyperliquidBaseURL {
		o.baseURL = hyperliquidTestnetURL
	}
	return &Hyperliquid{
		baseURL: o.baseURL,
		rest:    newRestClient(o.baseURL),
		logger:  o.logger,
	}
}

func (h *Hyperliquid) GetName() string {
	return "hyperliquid"
}

// sdk создаёт Info-клиент при первом обращении: конструктор SDK ходит в сеть за meta
func (h *Hyperliquid) sdk(ctx context.Context) *hyperliquid.Info {
	h.infoOnce.Do(func() {
		h.info = hyperliquid.NewInfo(ctx, h.baseURL, true, nil, nil)
	})
	return h.info
}

func hyperliquidCoin(symbol string) (string, error) {
	s, err := ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return s.Base, nil
}

// refresh обновляет снимок ставок, если он устарел
func (h *Hyperliquid) refresh(ctx context.Context) (map[string]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fundings != nil && time.Since(h.snapshotAt) < hyperliquidSnapshotTTL {
		return h.fundings, nil
	}

	state, err := h.sdk(ctx).MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, newError("hyperliquid", "", "metaAndAssetCtxs failed", err)
	}

	fundings := make(map[string]float64, len(state.Universe))
	for i, asset := range state.Universe {
		if i >= len(state.Ctxs) {
			break
		}
		fundings[asset.Name] = parseFloat(state.Ctxs[i].Funding)
	}

	h.fundings = fundings
	h.snapshotAt = time.Now()
	return fundings, nil
}

func (h *Hyperliquid) ListSwapSymbols(ctx context.Context) ([]string, error) {
	fundings, err := h.refresh(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(fundings))
	for coin := range fundings {
		symbols = append(symbols, UnifiedSymbol(coin, hyperliquidQuote))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (h *Hyperliquid) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	coin, err := hyperliquidCoin(symbol)
	if err != nil {
		return nil, err
	}

	fundings, err := h.refresh(ctx)
	if err != nil {
		return nil, err
	}
	rate, ok := fundings[coin]
	if !ok {
		return nil, fmt.Errorf("hyperliquid funding %s: %w", symbol, ErrSymbolNotFound)
	}

	next := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	return &FundingRate{Symbol: symbol, Rate: rate, FundingTime: &next}, nil
}

// post выполняет запрос к /info
func (h *Hyperliquid) post(ctx context.Context, body map[string]string, out interface{}) error {
	resp, err := h.rest.R().SetContext(ctx).SetBody(body).Post("/info")
	if err != nil {
		return newError("hyperliquid", "", "request /info failed", err)
	}
	if resp.IsError() {
		return newError("hyperliquid", fmt.Sprint(resp.StatusCode()), resp.String(), nil)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return newError("hyperliquid", "", "invalid response: "+resp.String(), err)
	}
	return nil
}

type hyperliquidLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

func (h *Hyperliquid) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	coin, err := hyperliquidCoin(symbol)
	if err != nil {
		return nil, err
	}

	var book struct {
		Levels [][]hyperliquidLevel `json:"levels"` // [bids, asks]
		Time   int64                `json:"time"`
	}
	if err := h.post(ctx, map[string]string{"type": "l2Book", "coin": coin}, &book); err != nil {
		return nil, err
	}
	if len(book.Levels) < 2 {
		return nil, fmt.Errorf("hyperliquid order book %s: %w", symbol, ErrSymbolNotFound)
	}

	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(book.Time)}
	for _, l := range book.Levels[0] {
		ob.Bids = append(ob.Bids, PriceLevel{Price: parseFloat(l.Px), Volume: parseFloat(l.Sz)})
	}
	for _, l := range book.Levels[1] {
		ob.Asks = append(ob.Asks, PriceLevel{Price: parseFloat(l.Px), Volume: parseFloat(l.Sz)})
	}
	sortBook(ob)

	if depth > 0 {
		if len(ob.Bids) > depth {
			ob.Bids = ob.Bids[:depth]
		}
		if len(ob.Asks) > depth {
			ob.Asks = ob.Asks[:depth]
		}
	}
	return ob, nil
}

// GetTicker собирает тикер из контекста актива (mid, суточный объём) и лучших уровней l2Book
func (h *Hyperliquid) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	coin, err := hyperliquidCoin(symbol)
	if err != nil {
		return nil, err
	}

	var raw []jsoniter.RawMessage // [meta, assetCtxs]
	if err := h.post(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, newError("hyperliquid", "", "unexpected metaAndAssetCtxs shape", nil)
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	var ctxs []struct {
		MidPx      string `json:"midPx"`
		MarkPx     string `json:"markPx"`
		DayBaseVlm string `json:"dayBaseVlm"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, err
	}

	idx := -1
	for i, a := range meta.Universe {
		if strings.EqualFold(a.Name, coin) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(ctxs) {
		return nil, fmt.Errorf("hyperliquid ticker %s: %w", symbol, ErrSymbolNotFound)
	}

	last := parseFloat(ctxs[idx].MidPx)
	if last == 0 {
		last = parseFloat(ctxs[idx].MarkPx)
	}

	ticker := &Ticker{
		Symbol:     symbol,
		LastPrice:  last,
		BaseVolume: parseFloat(ctxs[idx].DayBaseVlm),
		Timestamp:  time.Now(),
	}

	book, err := h.GetOrderBook(ctx, symbol, 1)
	if err != nil {
		h.logger.Debug("l2Book недоступен, bid/ask не заполнены", zap.String("symbol", symbol), zap.Error(err))
		return ticker, nil
	}
	if len(book.Bids) > 0 {
		ticker.BidPrice = book.Bids[0].Price
	}
	if len(book.Asks) > 0 {
		ticker.AskPrice = book.Asks[0].Price
	}
	return ticker, nil
}
