// Package validation содержит формирование и проверку номеров займов.
package validation

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
)

// LoanNumberPrefix открывает каждый номер займа.
const LoanNumberPrefix = "ML"

// Дата YYMMDD, шесть цифр серии и контрольная цифра.
const loanNumberDigits = 13

// IsValidLuhn проверяет строку из цифр по алгоритму Луна.
func IsValidLuhn(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// luhnCheckDigit возвращает цифру, дописав которую к digits, получаем корректный по Луну номер.
func luhnCheckDigit(digits string) byte {
	sum := 0
	double := true

	for i := len(digits) - 1; i >= 0; i-- {
		digit := int(digits[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return byte('0' + (10-sum%10)%10)
}

// LoanNumber формирует номер займа из даты заявки и серийного номера.
func LoanNumber(applied time.Time, serial int) string {
	body := applied.UTC().Format("060102") + fmt.Sprintf("%06d", serial%1_000_000)
	return LoanNumberPrefix + body + string(luhnCheckDigit(body))
}

// NewLoanNumber формирует номер займа со случайной серией.
func NewLoanNumber(applied time.Time) string {
	return LoanNumber(applied, rand.IntN(1_000_000))
}

// IsValidLoanNumber проверяет формат и контрольную цифру номера займа.
func IsValidLoanNumber(number string) bool {
	digits, ok := strings.CutPrefix(number, LoanNumberPrefix)
	if !ok || len(digits) != loanNumberDigits {
		return false
	}
	return IsValidLuhn(digits)
}
