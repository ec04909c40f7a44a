// Package month содержит календарную арифметику для расчёта дат подписки.
package month

import "time"

// Add прибавляет months календарных месяцев к дате. В отличие от
// time.AddDate переполнение дня месяца прижимается к последнему дню:
// 31 января + 1 месяц даёт 28 (или 29) февраля, а не 2-3 марта.
func Add(t time.Time, months int) time.Time {
	year, mon, day := t.Date()
	hour, min, sec := t.Clock()

	m := int(mon) - 1 + months
	year += m / 12
	m %= 12
	if m < 0 {
		m += 12
		year--
	}
	mon = time.Month(m + 1)

	if last := lastDay(year, mon); day > last {
		day = last
	}
	return time.Date(year, mon, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func lastDay(year int, mon time.Month) int {
	// День 0 следующего месяца — последний день текущего.
	return time.Date(year, mon+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
