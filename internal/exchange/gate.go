package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const gateBaseURL = "https://api.gateio.ws/api/v4"

// Gate - публичные данные USDT-фьючерсов Gate.io (только MarketData).
// Бот на Gate не торгует, биржа участвует лишь в отчёте по фандингу.
type Gate struct {
	rest   *resty.Client
	logger *zap.Logger
}

func NewGate(opts ...Option) *Gate {
	o := buildOptions("gate", gateBaseURL, "", opts)
	return &Gate{
		rest:   newRestClient(o.baseURL),
		logger: o.logger,
	}
}

func (g *Gate) GetName() string {
	return "gate"
}

// get выполняет GET и декодирует ответ; ошибки Gate приходят как {label, message} с HTTP 4xx/5xx
func (g *Gate) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	resp, err := g.rest.R().SetContext(ctx).SetQueryParams(params).Get(endpoint)
	if err != nil {
		return newError("gate", "", "request "+endpoint+" failed", err)
	}

	if resp.IsError() {
		var apiErr struct {
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body(), &apiErr)
		code := apiErr.Label
		if code == "" {
			code = strconv.Itoa(resp.StatusCode())
		}
		return newError("gate", code, apiErr.Message, nil)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return newError("gate", strconv.Itoa(resp.StatusCode()), "invalid response: "+resp.String(), err)
	}
	return nil
}

type gateContract struct {
	Name             string  `json:"name"`
	FundingRate      string  `json:"funding_rate"`
	FundingNextApply float64 `json:"funding_next_apply"` // unix секунды
	InDelisting      bool    `json:"in_delisting"`
}

func (g *Gate) ListSwapSymbols(ctx context.Context) ([]string, error) {
	var contracts []gateContract
	if err := g.get(ctx, "/futures/usdt/contracts", nil, &contracts); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(contracts))
	for _, c := range contracts {
		if c.InDelisting {
			continue
		}
		if unified, ok := splitVenueSymbol(c.Name, "_"); ok {
			symbols = append(symbols, unified)
		}
	}
	return symbols, nil
}

func (g *Gate) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	contract, err := venueSymbol(symbol, "_")
	if err != nil {
		return nil, err
	}

	var c gateContract
	if err := g.get(ctx, "/futures/usdt/contracts/"+contract, nil, &c); err != nil {
		return nil, err
	}
	if c.FundingRate == "" {
		return nil, fmt.Errorf("gate funding %s: %w", symbol, ErrSymbolNotFound)
	}

	rate := &FundingRate{Symbol: symbol, Rate: parseFloat(c.FundingRate)}
	if c.FundingNextApply > 0 {
		t := time.Unix(int64(c.FundingNextApply), 0)
		rate.FundingTime = &t
	}
	return rate, nil
}

func (g *Gate) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	contract, err := venueSymbol(symbol, "_")
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Contract   string `json:"contract"`
		Last       string `json:"last"`
		VolumeBase string `json:"volume_24h_base"`
		HighestBid string `json:"highest_bid"`
		LowestAsk  string `json:"lowest_ask"`
	}
	if err := g.get(ctx, "/futures/usdt/tickers", map[string]string{"contract": contract}, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("gate ticker %s: %w", symbol, ErrSymbolNotFound)
	}

	t := tickers[0]
	return &Ticker{
		Symbol:     symbol,
		BidPrice:   parseFloat(t.HighestBid),
		AskPrice:   parseFloat(t.LowestAsk),
		LastPrice:  parseFloat(t.Last),
		BaseVolume: parseFloat(t.VolumeBase),
		Timestamp:  time.Now(),
	}, nil
}

func (g *Gate) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	contract, err := venueSymbol(symbol, "_")
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 1
	}

	// размер уровня у Gate - целое число контрактов
	type level struct {
		P string  `json:"p"`
		S float64 `json:"s"`
	}
	var book struct {
		Current float64 `json:"current"`
		Asks    []level `json:"asks"`
		Bids    []level `json:"bids"`
	}
	err = g.get(ctx, "/futures/usdt/order_book", map[string]string{
		"contract": contract,
		"limit":    strconv.Itoa(depth),
	}, &book)
	if err != nil {
		return nil, err
	}

	ob := &OrderBook{
		Symbol:    symbol,
		Bids:      make([]PriceLevel, 0, len(book.Bids)),
		Asks:      make([]PriceLevel, 0, len(book.Asks)),
		Timestamp: time.UnixMilli(int64(book.Current * 1000)),
	}
	for _, l := range book.Bids {
		ob.Bids = append(ob.Bids, PriceLevel{Price: parseFloat(l.P), Volume: l.S})
	}
	for _, l := range book.Asks {
		ob.Asks = append(ob.Asks, PriceLevel{Price: parseFloat(l.P), Volume: l.S})
	}
	sortBook(ob)
	return ob, nil
}
