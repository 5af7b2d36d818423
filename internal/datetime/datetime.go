// Package datetime содержит арифметику календарных дней.
//
// Все вычисления ведутся в UTC: календарный день займа не зависит от часового
// пояса сервера.
package datetime

import "time"

const day = 24 * time.Hour

// StartOfDay возвращает полночь (UTC) календарного дня t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween возвращает количество целых календарных дней от from до to.
// Результат отрицателен, если to раньше from.
func DaysBetween(from, to time.Time) int {
	return int(StartOfDay(to).Sub(StartOfDay(from)) / day)
}

// CeilDays возвращает количество дней от from до to с округлением вверх, но не меньше нуля.
func CeilDays(from, to time.Time) int {
	diff := to.Sub(from)
	if diff <= 0 {
		return 0
	}
	days := int(diff / day)
	if diff%day != 0 {
		days++
	}
	return days
}

// AddDays сдвигает дату на n календарных дней.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// Range возвращает все календарные дни отрезка [from, to].
func Range(from, to time.Time) []time.Time {
	start := StartOfDay(from)
	end := StartOfDay(to)
	if end.Before(start) {
		return nil
	}

	res := make([]time.Time, 0, DaysBetween(start, end)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		res = append(res, d)
	}
	return res
}

// SameDay сообщает, приходятся ли a и b на один календарный день.
func SameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b))
}
