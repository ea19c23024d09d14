package utils

import (
	"math"
	"strconv"
	"strings"
)

// math.go - числовые утилиты для торгового цикла и отчётов по фандингу
//
// Все функции чистые (без побочных эффектов).

// RoundTo округляет значение до places знаков после запятой (half away from zero).
//
// Примеры:
//   - RoundTo(0.123456, 4) = 0.1235
//   - RoundTo(-0.000149, 4) = -0.0001
//   - RoundTo(12.5, 0) = 13
func RoundTo(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}

// FormatNumber печатает число в кратчайшем виде, всегда с дробной частью.
//
// Целые значения получают суффикс ".0", чтобы столбцы таблицы выглядели
// единообразно: 10 -> "10.0", 0.1234 -> "0.1234".
func FormatNumber(value float64) string {
	if math.IsNaN(value) {
		return ""
	}
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// FormatVolume форматирует объём с суффиксом B (>= 1e9) или M (>= 1e6), два знака.
//
// Примеры:
//   - FormatVolume(2_500_000_000) = "2.50B"
//   - FormatVolume(1_234_567) = "1.23M"
//   - FormatVolume(999.999) = "1000.00"
func FormatVolume(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		x = 0
	}
	switch {
	case x >= 1e9:
		return strconv.FormatFloat(x/1e9, 'f', 2, 64) + "B"
	case x >= 1e6:
		return strconv.FormatFloat(x/1e6, 'f', 2, 64) + "M"
	default:
		return strconv.FormatFloat(x, 'f', 2, 64)
	}
}

// ProfitPercent считает доходность позиции в процентах относительно цены входа.
//
// Для шорта знак инвертируется. Если entry <= 0, возвращает 0.
//
// Примеры:
//   - ProfitPercent(false, 100, 105) = 5
//   - ProfitPercent(true, 100, 105) = -5
func ProfitPercent(short bool, entry, current float64) float64 {
	if entry <= 0 {
		return 0
	}
	p := (current - entry) / entry * 100
	if short {
		return -p
	}
	return p
}

// Mean - среднее арифметическое; для пустого среза 0
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
