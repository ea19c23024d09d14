package bot

import (
	"testing"

	"alphawave/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionBook_Ordering(t *testing.T) {
	b := NewPositionBook()

	_, ok := b.Side()
	assert.False(t, ok)

	b.Add(Position{ID: "a", Side: Sell, Amount: decimal.NewFromInt(1)})
	b.Add(Position{ID: "b", Side: Sell, Amount: decimal.NewFromInt(2)})
	b.Add(Position{ID: "c", Side: Sell, Amount: decimal.NewFromInt(3)})

	side, ok := b.Side()
	require.True(t, ok)
	assert.Equal(t, Sell, side)
	assert.Equal(t, 3, b.Len())

	assert.True(t, b.Remove("b"))
	assert.False(t, b.Remove("missing"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "c", snap[1].ID)

	// снимок не связан с книгой
	snap[0].ID = "changed"
	assert.Equal(t, "a", b.Snapshot()[0].ID)
}

func TestPosition_PnL(t *testing.T) {
	long := Position{Side: Buy, EntryPrice: decimal.NewFromInt(100), Amount: decimal.RequireFromString("0.5")}
	short := Position{Side: Sell, EntryPrice: decimal.NewFromInt(100), Amount: decimal.RequireFromString("0.5")}

	assert.True(t, long.PnL(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(5)))
	assert.True(t, short.PnL(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(-5)))
	assert.True(t, short.PnL(decimal.NewFromInt(90)).Equal(decimal.NewFromInt(5)))
}

func TestSide_Helpers(t *testing.T) {
	side, ok := SideFromSignal(strategy.Buy)
	assert.True(t, ok)
	assert.Equal(t, Buy, side)

	_, ok = SideFromSignal(strategy.Hold)
	assert.False(t, ok)

	assert.Equal(t, Buy, Sell.Opposite())
	assert.Equal(t, "short", Sell.PositionSide())
	assert.Equal(t, "BUY", Buy.Upper())
}
