package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"alphawave/internal/exchange"
	"alphawave/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, gw *MockExchange, strat strategy.Strategy, mutate func(*Config)) (*Engine, *recordingNotifier) {
	t.Helper()
	cfg := Config{
		Symbol:         "BTC/USDT:USDT",
		Amount:         decimal.NewFromInt(1),
		Timeframe:      "1m",
		MaxPositions:   2,
		SignalInterval: 5 * time.Millisecond,
		RiskInterval:   5 * time.Millisecond,
		HedgeMode:      true,
		Fill:           testFillConfig(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if gw.candles == nil {
		gw.candles = candlesFrom(100, 100, 100)
	}
	n := &recordingNotifier{}
	return NewEngine(cfg, gw, strat, n, nil, nil), n
}

func TestEngine_CycleOpensPosition(t *testing.T) {
	gw := NewMockExchange()
	e, n := newTestEngine(t, gw, newScripted(strategy.Buy), nil)

	require.NoError(t, e.cycle(context.Background()))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, Buy, positions[0].Side)
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.NotEmpty(t, positions[0].ID)

	orders := gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	assert.Equal(t, exchange.SideLong, orders[0].PositionSide)
	assert.False(t, orders[0].ReduceOnly)
	assert.Equal(t, positions[0].ID, orders[0].ClientOrderID)

	msgs := n.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Generated signal: buy, Current price: 100.0", msgs[0])
	assert.Equal(t, "Executed BUY order for 1 BTC/USDT:USDT at 100.", msgs[1])
}

func TestEngine_HoldDoesNothing(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Hold), nil)

	require.NoError(t, e.cycle(context.Background()))
	assert.Empty(t, e.Positions())
	assert.Empty(t, gw.Orders())
}

func TestEngine_SameSideRespectsMaxPositions(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy), nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, e.cycle(context.Background()))
		assert.LessOrEqual(t, len(e.Positions()), 2)
	}
	assert.Len(t, e.Positions(), 2)
	assert.Len(t, gw.Orders(), 2)
}

func TestEngine_FlipClosesThenOpens(t *testing.T) {
	gw := NewMockExchange()
	e, n := newTestEngine(t, gw, newScripted(strategy.Buy, strategy.Buy, strategy.Sell), nil)
	ctx := context.Background()

	require.NoError(t, e.cycle(ctx))
	require.NoError(t, e.cycle(ctx))
	require.Len(t, e.Positions(), 2)

	gw.setFillPrice(110)
	require.NoError(t, e.cycle(ctx))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, Sell, positions[0].Side)

	orders := gw.Orders()
	require.Len(t, orders, 5)
	for _, closeOrder := range orders[2:4] {
		assert.Equal(t, exchange.SideSell, closeOrder.Side)
		assert.True(t, closeOrder.ReduceOnly)
		assert.Equal(t, exchange.SideLong, closeOrder.PositionSide)
	}
	assert.Equal(t, exchange.SideShort, orders[4].PositionSide)

	// (110-100)*1 на каждую из двух позиций
	assert.True(t, e.RealizedPnL().Equal(decimal.NewFromInt(20)))
	assert.Contains(t, n.Messages(), "Closed position: SELL 1 BTC/USDT:USDT at 110. P/L: 10")
}

func TestEngine_FlipAbortedWhenCloseFails(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy, strategy.Sell), nil)
	ctx := context.Background()

	require.NoError(t, e.cycle(ctx))
	require.Len(t, e.Positions(), 1)

	gw.placeFn = func(req exchange.OrderRequest) (*exchange.Order, error) {
		return nil, errors.New("exchange down")
	}
	require.NoError(t, e.cycle(ctx))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, Buy, positions[0].Side)
	// только попытка закрытия, вход не отправлялся
	assert.Len(t, gw.Orders(), 2)
}

func TestEngine_FailedPlacementLeavesBookUnchanged(t *testing.T) {
	gw := NewMockExchange()
	gw.placeFn = func(req exchange.OrderRequest) (*exchange.Order, error) {
		return nil, &exchange.ExchangeError{Exchange: "mock", Code: "51008", Message: "Insufficient balance"}
	}
	e, n := newTestEngine(t, gw, newScripted(strategy.Sell), nil)

	require.NoError(t, e.cycle(context.Background()))
	assert.Empty(t, e.Positions())
	assert.Len(t, n.Messages(), 1)
}

func TestEngine_UnsupportedTimeframe(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy), func(c *Config) { c.Timeframe = "7m" })

	err := e.cycle(context.Background())
	assert.ErrorIs(t, err, exchange.ErrUnsupportedTimeframe)
	assert.Empty(t, gw.Orders())
}

func TestEngine_NotEnoughCandles(t *testing.T) {
	gw := NewMockExchange()
	gw.candles = candlesFrom(100, 101)
	strat := newScripted(strategy.Buy)
	e, _ := newTestEngine(t, gw, strat, nil)

	require.NoError(t, e.cycle(context.Background()))
	assert.Empty(t, gw.Orders())
	assert.Equal(t, 0, strat.calls)
}

func TestEngine_CandleFetchError(t *testing.T) {
	gw := NewMockExchange()
	gw.candlesErr = errors.New("timeout")
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy), nil)

	err := e.cycle(context.Background())
	var fetchErr *TransientFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "candles", fetchErr.Op)
}

func TestEngine_RunFlattensOnTimeLimit(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy), func(c *Config) {
		c.TimeLimit = 50 * time.Millisecond
		c.Leverage = 5
	})

	require.NoError(t, e.Run(context.Background()))

	assert.Empty(t, e.Positions())
	assert.False(t, e.Running())
	assert.Equal(t, 5, gw.leverage)

	orders := gw.Orders()
	require.NotEmpty(t, orders)
	assert.True(t, orders[len(orders)-1].ReduceOnly)
}

func TestEngine_ExitStopsRun(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Sell), func(c *Config) {
		c.SignalInterval = time.Hour
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(e.Positions()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, e.Exit(context.Background()))
	assert.Empty(t, e.Positions())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после Exit")
	}
}

func TestEngine_RunRejectsSecondStart(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Hold), func(c *Config) {
		c.SignalInterval = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, e.Running, time.Second, time.Millisecond)
	assert.ErrorIs(t, e.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestEngine_PublishesEvents(t *testing.T) {
	gw := NewMockExchange()
	gw.candles = candlesFrom(100, 100, 100)
	sink := &recordingSink{}
	e := NewEngine(Config{
		Symbol:       "BTC/USDT:USDT",
		Amount:       decimal.NewFromInt(1),
		Timeframe:    "1m",
		MaxPositions: 1,
		Fill:         testFillConfig(),
	}, gw, newScripted(strategy.Buy), nil, sink, nil)

	require.NoError(t, e.cycle(context.Background()))
	require.NoError(t, e.Flatten(context.Background(), ReasonShutdown))

	assert.Equal(t, []string{"signal", "open", "close"}, sink.Types())
}

// cyclingStrategy повторяет сигналы по кругу
type cyclingStrategy struct {
	mu      sync.Mutex
	signals []strategy.Signal
	calls   int
}

func (s *cyclingStrategy) GenerateSignal(prices []float64) strategy.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := s.signals[s.calls%len(s.signals)]
	s.calls++
	return sig
}

func (s *cyclingStrategy) Period() int         { return 3 }
func (s *cyclingStrategy) Name() strategy.Type { return "cycling" }

func TestEngine_CycleAndRiskMonitorConcurrently(t *testing.T) {
	gw := NewMockExchange()

	// позиции на стороне биржи по positionSide; placeFn вызывается под gw.mu
	venue := map[string]int{}
	var opens, closes int
	var violations []string
	gw.placeFn = func(req exchange.OrderRequest) (*exchange.Order, error) {
		if req.ReduceOnly {
			closes++
			venue[req.PositionSide]--
			if venue[req.PositionSide] < 0 {
				violations = append(violations, "закрыта несуществующая позиция "+req.PositionSide)
			}
		} else {
			opens++
			for side, n := range venue {
				if side != req.PositionSide && n > 0 {
					violations = append(violations, "вход при встречной позиции "+side)
				}
			}
			venue[req.PositionSide]++
		}
		gw.nextID++
		return &exchange.Order{
			ID:            fmt.Sprintf("ord-%d", gw.nextID),
			ClientOrderID: req.ClientOrderID,
			Side:          req.Side,
			FilledQty:     req.Amount,
			AvgFillPrice:  100,
			Status:        exchange.OrderStatusFilled,
		}, nil
	}

	strat := &cyclingStrategy{signals: []strategy.Signal{strategy.Buy, strategy.Buy, strategy.Sell}}
	e, _ := newTestEngine(t, gw, strat, func(c *Config) {
		c.TakeProfit = 0.0001
		c.StopLoss = 0.0001
		c.SignalInterval = time.Millisecond
		c.RiskInterval = time.Millisecond
		c.TimeLimit = 150 * time.Millisecond
	})

	// цена для TP/SL прыгает вокруг цены входа
	jitterCtx, stopJitter := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; jitterCtx.Err() == nil; i++ {
			gw.setLastPrice(100 + float64(i%3-1))
			time.Sleep(100 * time.Microsecond)
		}
	}()

	require.NoError(t, e.Run(context.Background()))
	stopJitter()
	wg.Wait()

	assert.Empty(t, e.Positions())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Empty(t, violations)
	assert.Greater(t, opens, 1)
	assert.Equal(t, opens, closes)
	for side, n := range venue {
		assert.Zero(t, n, side)
	}
}

func TestEngine_RealizedPnLDoesNotWaitForOrders(t *testing.T) {
	gw := NewMockExchange()
	e, _ := newTestEngine(t, gw, newScripted(strategy.Buy), nil)

	require.NoError(t, e.cycle(context.Background()))
	gw.setFillPrice(103)
	require.NoError(t, e.Flatten(context.Background(), ReasonShutdown))
	assert.True(t, e.RealizedPnL().Equal(decimal.NewFromInt(3)))

	// цикл или риск-монитор держит e.mu на время ордера
	e.mu.Lock()
	defer e.mu.Unlock()

	got := make(chan decimal.Decimal, 1)
	go func() { got <- e.RealizedPnL() }()

	select {
	case pnl := <-got:
		assert.True(t, pnl.Equal(decimal.NewFromInt(3)))
	case <-time.After(time.Second):
		t.Fatal("RealizedPnL ждёт мьютекс книги")
	}
}
