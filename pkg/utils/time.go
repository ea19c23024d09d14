package utils

import (
	"time"
	_ "time/tzdata" // таймзона Asia/Seoul доступна и в минимальных контейнерах
)

// time.go - утилиты для работы со временем
//
// Назначение:
// - расписание публикации фандинга (границы :00 и :30 по KST)
// - отображение времени фандинга в отчёте
// - конвертация биржевых timestamp (мс)

// KSTLayout - формат времени фандинга в отчёте (месяц-день часы:минуты)
const KSTLayout = "01-02 15:04"

// ScheduleLayout - формат времени в анонсе следующего обновления
const ScheduleLayout = "2006-01-02 15:04:05"

var kst = loadKST()

func loadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// KST возвращает таймзону Asia/Seoul
func KST() *time.Location {
	return kst
}

// NextHalfHour возвращает ближайшую будущую границу получаса по KST.
//
// Пример:
//
//	// now: 14:12:05 KST -> 14:30:00 KST
//	// now: 14:30:00 KST -> 15:00:00 KST
//	// now: 23:45:10 KST -> 00:00:00 KST следующего дня
func NextHalfHour(now time.Time) time.Time {
	t := now.In(kst)
	if t.Minute() < 30 {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 30, 0, 0, kst)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, kst).Add(time.Hour)
}

// FormatKST форматирует время в KST по KSTLayout; nil или нулевое время -> "Unknown"
func FormatKST(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "Unknown"
	}
	return t.In(kst).Format(KSTLayout)
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// MillisPtr возвращает указатель на время из миллисекунд; 0 -> nil (время неизвестно)
func MillisPtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := FromUnixMillis(ms)
	return &t
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Round(time.Second).String()
}
