package funding

import (
	"fmt"
	"strings"

	"alphawave/pkg/utils"
)

// column - колонка таблицы отчёта
type column struct {
	header string
	width  int
}

var columns = []column{
	{"exch", 10},
	{"symb", 20},
	{"FR (%)", 8},
	{"FD", 12},
	{"pos", 4},
	{"p", 8},
	{"vol", 10},
	{"bid", 8},
	{"ask", 8},
	{"spr", 8},
	{"ab_r", 8},
	{"volspr", 8},
}

const columnSep = " | "

// precision - знаки после запятой для цены и спреда
type precision struct {
	price  int
	spread int
}

var (
	tablePrecision  = precision{price: 4, spread: 4}
	detailPrecision = precision{price: 6, spread: 6}
)

// Table форматирует записи в таблицу фиксированной ширины без обёртки
func Table(records []Enriched) string {
	return renderTable(records, tablePrecision)
}

// Report - таблица лидеров, обёрнутая в блок преформатированного текста
func Report(records []Enriched) string {
	return wrap(renderTable(records, tablePrecision))
}

// DetailReport - записи одного символа; цена и спред с шестью знаками
func DetailReport(records []Enriched) string {
	return wrap(renderTable(records, detailPrecision))
}

func wrap(table string) string {
	return "```\n" + table + "\n```"
}

func renderTable(records []Enriched, prec precision) string {
	lines := make([]string, 0, len(records)+1)

	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = pad(c.header, c.width)
	}
	lines = append(lines, strings.Join(cells, columnSep))

	for _, e := range records {
		values := rowValues(e, prec)
		for i, c := range columns {
			cells[i] = pad(values[i], c.width)
		}
		lines = append(lines, strings.Join(cells, columnSep))
	}
	return strings.Join(lines, "\n")
}

func rowValues(e Enriched, prec precision) []string {
	abr := ""
	if e.AskBidRatio != nil {
		abr = utils.FormatNumber(utils.RoundTo(*e.AskBidRatio, 4))
	}
	return []string{
		e.Exchange,
		e.Symbol,
		FormatRate(e.Rate),
		utils.FormatKST(e.FundingTime),
		e.Position,
		utils.FormatNumber(utils.RoundTo(e.Price, prec.price)),
		utils.FormatVolume(utils.RoundTo(e.Volume, 4)),
		utils.FormatNumber(utils.RoundTo(e.Bid, 4)),
		utils.FormatNumber(utils.RoundTo(e.Ask, 4)),
		utils.FormatNumber(utils.RoundTo(e.Spread, prec.spread)),
		abr,
		utils.FormatNumber(utils.RoundTo(e.VolumeSpread, 4)),
	}
}

// FormatRate - ставка в процентах: сначала до 4 знаков, затем x100 до 2 знаков
func FormatRate(rate float64) string {
	return utils.FormatNumber(utils.RoundTo(utils.RoundTo(rate, 4)*100, 2))
}

// pad дополняет значение пробелами справа до ширины (по символам); длинные значения не обрезаются
func pad(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

// SymbolList разбирает готовый отчёт в строки "биржа: символ".
// Строка заголовка и обёртка пропускаются.
func SymbolList(report string) string {
	var out []string
	for _, line := range strings.Split(report, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) <= 2 {
			continue
		}
		exch := strings.TrimSpace(cols[0])
		symb := strings.TrimSpace(cols[1])
		if exch == columns[0].header && symb == columns[1].header {
			continue
		}
		out = append(out, exch+": "+symb)
	}
	return strings.Join(out, "\n")
}
