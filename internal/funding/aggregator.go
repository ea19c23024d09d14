// Package funding собирает ставки фандинга бессрочных контрактов с нескольких
// бирж, ранжирует их и готовит текстовый отчёт для публикации.
//
// Конвейер из четырёх последовательных стадий, каждая внутри параллельна:
//
//	fetch (все swap-символы) -> top-N на биржу -> обогащение тикером и стаканом -> дедупликация
//
// Отказ одного запроса выбрасывает одну запись, а не весь прогон.
package funding

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alphawave/internal/exchange"
	"alphawave/pkg/ratelimit"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoData - ни одна биржа не вернула ставок
var ErrNoData = errors.New("no funding rate data")

// Record - ставка фандинга одного символа на одной бирже
type Record struct {
	Exchange    string     `json:"exchange"`
	Symbol      string     `json:"symbol"`
	Rate        float64    `json:"funding_rate"`
	FundingTime *time.Time `json:"funding_time,omitempty"`

	seq int // порядок перечисления, для стабильной сортировки
}

// Enriched - запись с данными тикера и лучшего уровня стакана
type Enriched struct {
	Record
	Position     string   `json:"position"` // L при отрицательной ставке, иначе S
	Price        float64  `json:"price"`
	Volume       float64  `json:"volume"`
	Bid          float64  `json:"bid"`
	Ask          float64  `json:"ask"`
	Spread       float64  `json:"spread"`
	AskBidRatio  *float64 `json:"ask_bid_ratio"` // nil при нулевом bid
	VolumeSpread float64  `json:"volume_spread"`
}

// Config - параметры агрегатора
type Config struct {
	TopN           int           `mapstructure:"top_n"`
	Workers        int           `mapstructure:"workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig: top 10, 10 воркеров
func DefaultConfig() Config {
	return Config{
		TopN:           10,
		Workers:        10,
		RequestTimeout: 10 * time.Second,
	}
}

// Result - итог одного прогона
type Result struct {
	Top       []Enriched `json:"top"`      // после дедупликации, не больше TopN
	Enriched  []Enriched `json:"enriched"` // до дедупликации, для запросов по символу
	Fetched   int        `json:"fetched"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// BySymbol возвращает обогащённые записи символа со всех бирж
func (r *Result) BySymbol(symbol string) []Enriched {
	if r == nil {
		return nil
	}
	var out []Enriched
	for _, e := range r.Enriched {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out
}

// Aggregator опрашивает биржи. Каждый Run строит все структуры заново.
type Aggregator struct {
	markets []exchange.MarketData
	cfg     Config
	limiter *ratelimit.ExchangeLimiter
	logger  *zap.Logger
}

func NewAggregator(markets []exchange.MarketData, cfg Config, limiter *ratelimit.ExchangeLimiter, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if limiter == nil {
		limiter = ratelimit.NewExchangeLimiter(10)
	}
	return &Aggregator{
		markets: markets,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.Named("funding"),
	}
}

// Run выполняет все четыре стадии
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	records, err := a.FetchRates(ctx)
	if err != nil {
		RecordRun(false, time.Since(start))
		return nil, err
	}
	if len(records) == 0 {
		RecordRun(false, time.Since(start))
		return nil, ErrNoData
	}

	selected := TopPerExchange(records, a.cfg.TopN)
	a.logger.Info("отобраны лидеры по биржам", zap.Int("top_n", a.cfg.TopN), zap.Int("records", len(selected)))

	enriched, err := a.Enrich(ctx, selected)
	if err != nil {
		RecordRun(false, time.Since(start))
		return nil, err
	}
	if len(enriched) == 0 {
		RecordRun(false, time.Since(start))
		return nil, ErrNoData
	}

	top := Dedup(enriched, a.cfg.TopN)
	RecordStage("fetch", len(records))
	RecordStage("selected", len(selected))
	RecordStage("enriched", len(enriched))
	RecordStage("top", len(top))
	RecordRun(true, time.Since(start))

	a.logger.Info("прогон фандинга завершён",
		zap.Int("fetched", len(records)),
		zap.Int("enriched", len(enriched)),
		zap.Int("top", len(top)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Top:       top,
		Enriched:  enriched,
		Fetched:   len(records),
		FetchedAt: time.Now(),
	}, nil
}

type symbolJob struct {
	market exchange.MarketData
	symbol string
	seq    int
}

// FetchRates - стадия 1: ставки всех swap-символов всех бирж.
// Результат упорядочен по порядку перечисления (биржа, символ).
func (a *Aggregator) FetchRates(ctx context.Context) ([]Record, error) {
	jobs := a.listSymbols(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		records = make([]Record, 0, len(jobs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for _, job := range jobs {
		g.Go(func() error {
			if err := a.limiter.Wait(gctx, job.market.GetName()); err != nil {
				return nil
			}
			rctx, cancel := context.WithTimeout(gctx, a.cfg.RequestTimeout)
			defer cancel()

			fr, err := job.market.GetFundingRate(rctx, job.symbol)
			if err != nil {
				RecordFetchError(job.market.GetName(), "funding")
				a.logger.Debug("ставка не получена", zap.String("exchange", job.market.GetName()), zap.String("symbol", job.symbol), zap.Error(err))
				return nil
			}

			mu.Lock()
			records = append(records, Record{
				Exchange:    job.market.GetName(),
				Symbol:      job.symbol,
				Rate:        fr.Rate,
				FundingTime: fr.FundingTime,
				seq:         job.seq,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	a.logger.Info("ставки получены", zap.Int("records", len(records)), zap.Int("exchanges", len(a.markets)))
	return records, nil
}

// listSymbols перечисляет swap-символы бирж параллельно; биржа с ошибкой пропускается
func (a *Aggregator) listSymbols(ctx context.Context) []symbolJob {
	lists := make([][]string, len(a.markets))

	var g errgroup.Group
	for i, m := range a.markets {
		g.Go(func() error {
			if err := a.limiter.Wait(ctx, m.GetName()); err != nil {
				return nil
			}
			rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
			defer cancel()

			symbols, err := m.ListSwapSymbols(rctx)
			if err != nil {
				RecordFetchError(m.GetName(), "symbols")
				a.logger.Warn("список контрактов не получен", zap.String("exchange", m.GetName()), zap.Error(err))
				return nil
			}
			lists[i] = symbols
			return nil
		})
	}
	_ = g.Wait()

	var jobs []symbolJob
	for i, m := range a.markets {
		for _, s := range lists[i] {
			jobs = append(jobs, symbolJob{market: m, symbol: s, seq: len(jobs)})
		}
	}
	return jobs
}

// Enrich - стадия 3: тикер и стакан глубины 1 для каждой записи.
// Порядок входа сохраняется; записи с ошибкой выбрасываются.
func (a *Aggregator) Enrich(ctx context.Context, records []Record) ([]Enriched, error) {
	byName := make(map[string]exchange.MarketData, len(a.markets))
	for _, m := range a.markets {
		byName[m.GetName()] = m
	}

	slots := make([]*Enriched, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for i, rec := range records {
		m, ok := byName[rec.Exchange]
		if !ok {
			continue
		}
		g.Go(func() error {
			e, err := a.enrichOne(gctx, m, rec)
			if err != nil {
				RecordFetchError(rec.Exchange, "enrich")
				a.logger.Debug("обогащение не выполнено", zap.String("exchange", rec.Exchange), zap.String("symbol", rec.Symbol), zap.Error(err))
				return nil
			}
			slots[i] = e
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Enriched, 0, len(records))
	for _, e := range slots {
		if e != nil {
			out = append(out, *e)
		}
	}
	a.logger.Info("дополнительные данные получены", zap.Int("symbols", len(out)))
	return out, nil
}

func (a *Aggregator) enrichOne(ctx context.Context, m exchange.MarketData, rec Record) (*Enriched, error) {
	if err := a.limiter.Wait(ctx, m.GetName()); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	tk, err := m.GetTicker(rctx, rec.Symbol)
	if err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx, m.GetName()); err != nil {
		return nil, err
	}
	ob, err := m.GetOrderBook(rctx, rec.Symbol, 1)
	if err != nil {
		return nil, err
	}

	return NewEnriched(rec, tk, ob), nil
}

// NewEnriched собирает обогащённую запись из тикера и стакана
func NewEnriched(rec Record, tk *exchange.Ticker, ob *exchange.OrderBook) *Enriched {
	e := &Enriched{
		Record:       rec,
		Position:     PositionHint(rec.Rate),
		Price:        tk.LastPrice,
		Volume:       tk.BaseVolume,
		Bid:          tk.BidPrice,
		Ask:          tk.AskPrice,
		Spread:       tk.AskPrice - tk.BidPrice,
		VolumeSpread: ob.TopAskSize() - ob.TopBidSize(),
	}
	if tk.BidPrice != 0 {
		r := tk.AskPrice / tk.BidPrice
		e.AskBidRatio = &r
	}
	return e
}

// PositionHint - сторона, получающая фандинг: L при отрицательной ставке
func PositionHint(rate float64) string {
	if rate < 0 {
		return "L"
	}
	return "S"
}
