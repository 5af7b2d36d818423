// Package money содержит примитивы работы с денежными суммами.
package money

import "github.com/shopspring/decimal"

// Places задаёт количество знаков после запятой у денежных сумм.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round округляет сумму до копеек по правилу half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// ToCents переводит сумму в целое число копеек.
func ToCents(d decimal.Decimal) int64 {
	return Round(d).Mul(hundred).IntPart()
}

// FromCents переводит копейки в сумму.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// IsCents сообщает, кратна ли сумма одной копейке.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// Max возвращает большую из двух сумм.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min возвращает меньшую из двух сумм.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
