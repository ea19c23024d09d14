package funding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(exch, symbol string, rate float64, seq int) Record {
	return Record{Exchange: exch, Symbol: symbol, Rate: rate, seq: seq}
}

func TestTopPerExchange(t *testing.T) {
	records := []Record{
		rec("okx", "A", 0.001, 0),
		rec("okx", "B", -0.005, 1),
		rec("okx", "C", 0.003, 2),
		rec("okx", "D", -0.003, 3),
		rec("bybit", "A", 0.0001, 4),
		rec("bybit", "E", -0.02, 5),
	}

	got := TopPerExchange(records, 2)
	require.Len(t, got, 4)

	// bybit раньше okx, внутри биржи по |rate|
	assert.Equal(t, "bybit", got[0].Exchange)
	assert.Equal(t, "E", got[0].Symbol)
	assert.Equal(t, "A", got[1].Symbol)
	assert.Equal(t, "B", got[2].Symbol)
	// C и D равны по модулю: сохраняется порядок получения
	assert.Equal(t, "C", got[3].Symbol)
}

func TestTopPerExchange_Bounds(t *testing.T) {
	var records []Record
	for i := 0; i < 30; i++ {
		records = append(records, rec("gate", "S", float64(i%7)*0.001-0.003, i))
		records = append(records, rec("okx", "S", float64(i%5)*0.002-0.004, i+30))
	}

	got := TopPerExchange(records, 10)
	perExchange := map[string][]Record{}
	for _, r := range got {
		perExchange[r.Exchange] = append(perExchange[r.Exchange], r)
	}

	for name, group := range perExchange {
		assert.LessOrEqual(t, len(group), 10, name)
		for i := 1; i < len(group); i++ {
			assert.GreaterOrEqual(t, math.Abs(group[i-1].Rate), math.Abs(group[i].Rate), name)
		}
	}
}

func enriched(exch, symbol string, rate, volume float64) Enriched {
	return Enriched{Record: Record{Exchange: exch, Symbol: symbol, Rate: rate}, Volume: volume}
}

func TestDedup_KeepsHighestVolume(t *testing.T) {
	records := []Enriched{
		enriched("okx", "APE/USDT:USDT", 0.004, 100),
		enriched("bybit", "APE/USDT:USDT", 0.001, 500),
		enriched("gate", "XRP/USDT:USDT", -0.002, 10),
	}

	got := Dedup(records, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "XRP/USDT:USDT", got[0].Symbol)
	assert.Equal(t, "bybit", got[1].Exchange)
	assert.Equal(t, 500.0, got[1].Volume)

	// вход не изменён
	assert.Equal(t, "okx", records[0].Exchange)
}

func TestDedup_NoDuplicatesTopN(t *testing.T) {
	records := []Enriched{
		enriched("okx", "A", 0.001, 1),
		enriched("okx", "B", -0.009, 1),
		enriched("gate", "C", 0.005, 1),
	}

	got := Dedup(records, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Symbol)
	assert.Equal(t, "C", got[1].Symbol)
}

func TestDedup_TruncatesAfterCollapse(t *testing.T) {
	var records []Enriched
	for i := 0; i < 15; i++ {
		sym := string(rune('A' + i))
		records = append(records, enriched("okx", sym, float64(i)*0.001, 10))
		records = append(records, enriched("gate", sym, float64(i)*0.001, 20))
	}

	got := Dedup(records, 10)
	require.Len(t, got, 10)

	seen := map[string]bool{}
	for _, e := range got {
		assert.False(t, seen[e.Symbol], e.Symbol)
		seen[e.Symbol] = true
		assert.Equal(t, "gate", e.Exchange)
	}
	assert.Equal(t, "O", got[0].Symbol)
}
