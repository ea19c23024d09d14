package exchange

import (
	"sort"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// json - совместимый со стандартной библиотекой jsoniter для всех ответов бирж
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// options - общие настройки клиентов бирж
type options struct {
	baseURL string
	wsURL   string
	testnet bool
	logger  *zap.Logger
}

// Option настраивает клиент биржи
type Option func(*options)

// WithBaseURL переопределяет REST endpoint (тесты, testnet)
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithWSURL переопределяет WebSocket endpoint
func WithWSURL(u string) Option {
	return func(o *options) { o.wsURL = u }
}

// WithTestnet переключает клиент на демо-окружение биржи
func WithTestnet(on bool) Option {
	return func(o *options) { o.testnet = on }
}

// WithLogger задаёт логгер клиента
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(name, baseURL, wsURL string, opts []Option) options {
	o := options{baseURL: baseURL, wsURL: wsURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("exchange", name))
	return o
}

// newRestClient создаёт resty-клиент поверх общего пула соединений
func newRestClient(baseURL string) *resty.Client {
	return resty.NewWithClient(GetGlobalHTTPClient().GetClient()).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
}

// parseFloat разбирает число из строки биржи; пустые и некорректные значения дают 0
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// levelsFromStrings переводит [[price, size, ...], ...] в уровни стакана
func levelsFromStrings(raw [][]string) []PriceLevel {
	out := make([]PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, PriceLevel{Price: parseFloat(lvl[0]), Volume: parseFloat(lvl[1])})
	}
	return out
}

// sortBook упорядочивает стакан: bids по убыванию, asks по возрастанию
func sortBook(ob *OrderBook) {
	sort.SliceStable(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.SliceStable(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
}

// reverseCandles разворачивает свечи, которые биржа отдаёт от новых к старым
func reverseCandles(c []Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}
