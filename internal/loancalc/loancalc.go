// Package loancalc содержит чистые функции расчёта займа.
//
// Функции не обращаются к хранилищу и не читают глобальных настроек: политика
// всегда передаётся явно, будь то живые настройки или снимок из займа.
// Каждая денежная величина округляется в момент вычисления.
package loancalc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loan-backoffice/internal/datetime"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/money"
)

const (
	// ShortTermMaxDays ограничивает срок, для которого действует краткосрочная ставка.
	ShortTermMaxDays = 15
	// MaxTermDays ограничивает срок займа.
	MaxTermDays = 30
)

// Quote содержит полный расчёт займа.
type Quote struct {
	Principal          decimal.Decimal `json:"principal"`
	TermDays           int             `json:"term_days"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	InterestAmount     decimal.Decimal `json:"interest_amount"`
	ProcessingFee      decimal.Decimal `json:"processing_fee"`
	DisbursementAmount decimal.Decimal `json:"disbursement_amount"`
	TotalRepayment     decimal.Decimal `json:"total_repayment"`
}

// Validation содержит результат проверки бизнес-правил.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func ok() Validation { return Validation{Valid: true} }

func fail(format string, args ...any) Validation {
	return Validation{Reason: fmt.Sprintf(format, args...)}
}

// InterestRate выбирает ставку по сроку займа.
func InterestRate(termDays int, s model.LoanSettings) decimal.Decimal {
	if termDays <= ShortTermMaxDays {
		return s.InterestRateShort
	}
	return s.InterestRateLong
}

// Interest вычисляет сумму процентов за весь срок.
func Interest(principal decimal.Decimal, termDays int, s model.LoanSettings) decimal.Decimal {
	return money.Round(principal.Mul(InterestRate(termDays, s)))
}

// ProcessingFee вычисляет комиссию, удерживаемую при выдаче.
func ProcessingFee(principal decimal.Decimal, s model.LoanSettings) decimal.Decimal {
	return money.Round(principal.Mul(s.ProcessingFeeRate))
}

// DisbursementAmount возвращает сумму к выдаче: тело займа за вычетом комиссии.
func DisbursementAmount(principal decimal.Decimal, s model.LoanSettings) decimal.Decimal {
	return money.Round(principal.Sub(ProcessingFee(principal, s)))
}

// TotalRepayment возвращает сумму к возврату: тело займа плюс проценты. Комиссия сюда не входит.
func TotalRepayment(principal decimal.Decimal, termDays int, s model.LoanSettings) decimal.Decimal {
	return money.Round(principal.Add(Interest(principal, termDays, s)))
}

// Penalty вычисляет разовый штраф. Внутри льготного периода штраф равен нулю.
func Penalty(totalRepayment decimal.Decimal, daysOverdue int, s model.LoanSettings) decimal.Decimal {
	if daysOverdue <= s.GracePeriodDays {
		return decimal.Zero
	}
	return money.Round(totalRepayment.Mul(s.PenaltyRate))
}

// Balance возвращает остаток задолженности, не меньше нуля.
func Balance(totalRepayment, penalty, paid decimal.Decimal) decimal.Decimal {
	return money.Max(decimal.Zero, money.Round(totalRepayment.Add(penalty).Sub(paid)))
}

// MaxLoanFromSalary возвращает максимальную сумму займа с учётом зарплаты и абсолютного лимита.
func MaxLoanFromSalary(netSalary decimal.Decimal, s model.LoanSettings) decimal.Decimal {
	capped := netSalary.Mul(s.MaxLoanPercentage).Floor()
	return money.Min(capped, s.MaxLoanAmount)
}

// LoanPeriodDays возвращает срок займа до даты зарплаты, округлённый вверх и не меньше нуля.
func LoanPeriodDays(today, salaryDate time.Time) int {
	return datetime.CeilDays(today, salaryDate)
}

// ValidateTerm проверяет срок займа.
func ValidateTerm(termDays int) Validation {
	if termDays <= 0 || termDays > MaxTermDays {
		return fail("Loan period must be between 1 and %d days, got %d", MaxTermDays, termDays)
	}
	return ok()
}

// ValidateAmount проверяет сумму против абсолютных лимитов политики.
func ValidateAmount(amount decimal.Decimal, s model.LoanSettings) Validation {
	if !amount.IsPositive() {
		return fail("Loan amount must be positive")
	}
	if !money.IsCents(amount) {
		return fail("Loan amount must have at most 2 decimal places")
	}
	if amount.LessThan(s.MinLoanAmount) {
		return fail("Loan amount %s is below the minimum of %s", amount.StringFixed(2), s.MinLoanAmount.StringFixed(2))
	}
	if amount.GreaterThan(s.MaxLoanAmount) {
		return fail("Loan amount %s exceeds the maximum of %s", amount.StringFixed(2), s.MaxLoanAmount.StringFixed(2))
	}
	return ok()
}

// ValidateEligibility проверяет сумму и срок займа для заёмщика с указанной зарплатой.
func ValidateEligibility(amount decimal.Decimal, termDays int, netSalary decimal.Decimal, s model.LoanSettings) Validation {
	if v := ValidateTerm(termDays); !v.Valid {
		return v
	}
	if v := ValidateAmount(amount, s); !v.Valid {
		return v
	}
	eligible := MaxLoanFromSalary(netSalary, s)
	if amount.GreaterThan(eligible) {
		return fail("Loan amount %s exceeds the maximum eligible amount of %s", amount.StringFixed(2), eligible.StringFixed(2))
	}
	return ok()
}

// Calculate строит полный расчёт займа.
func Calculate(principal decimal.Decimal, termDays int, s model.LoanSettings) Quote {
	principal = money.Round(principal)
	return Quote{
		Principal:          principal,
		TermDays:           termDays,
		InterestRate:       InterestRate(termDays, s),
		InterestAmount:     Interest(principal, termDays, s),
		ProcessingFee:      ProcessingFee(principal, s),
		DisbursementAmount: DisbursementAmount(principal, s),
		TotalRepayment:     TotalRepayment(principal, termDays, s),
	}
}
