package funding

import (
	"math"
	"sort"
)

// TopPerExchange - стадия 2: не более n записей на биржу по убыванию |rate|.
//
// Биржи идут в алфавитном порядке, внутри биржи при равных |rate| сохраняется
// входной порядок.
func TopPerExchange(records []Record, n int) []Record {
	groups := make(map[string][]Record)
	var names []string
	for _, r := range records {
		if _, ok := groups[r.Exchange]; !ok {
			names = append(names, r.Exchange)
		}
		groups[r.Exchange] = append(groups[r.Exchange], r)
	}
	sort.Strings(names)

	out := make([]Record, 0, len(names)*n)
	for _, name := range names {
		g := groups[name]
		sort.SliceStable(g, func(i, j int) bool {
			return math.Abs(g[i].Rate) > math.Abs(g[j].Rate)
		})
		if len(g) > n {
			g = g[:n]
		}
		out = append(out, g...)
	}
	return out
}

// Dedup - стадия 4.
//
// Если символ встречается на нескольких биржах, остаётся вхождение с
// максимальным объёмом; затем сортировка по убыванию |rate| и обрезка до n.
// Без повторов - просто top-n по |rate|. Вход не изменяется.
func Dedup(records []Enriched, n int) []Enriched {
	out := make([]Enriched, len(records))
	copy(out, records)

	if hasDuplicates(out) {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })

		seen := make(map[string]struct{}, len(out))
		unique := out[:0]
		for _, e := range out {
			if _, ok := seen[e.Symbol]; ok {
				continue
			}
			seen[e.Symbol] = struct{}{}
			unique = append(unique, e)
		}
		out = unique
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Rate) > math.Abs(out[j].Rate)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func hasDuplicates(records []Enriched) bool {
	seen := make(map[string]struct{}, len(records))
	for _, e := range records {
		if _, ok := seen[e.Symbol]; ok {
			return true
		}
		seen[e.Symbol] = struct{}{}
	}
	return false
}
