// Package model содержит доменные сущности бэк-офиса микрозаймов.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanSettings описывает политику выдачи займов.
//
// Живая запись настроек одна на организацию. При одобрении займа её значения
// копируются в снимок, который хранится в самом займе и больше не меняется.
type LoanSettings struct {
	InterestRateShort decimal.Decimal `json:"interest_rate_short"`
	InterestRateLong  decimal.Decimal `json:"interest_rate_long"`
	ProcessingFeeRate decimal.Decimal `json:"processing_fee_rate"`
	PenaltyRate       decimal.Decimal `json:"penalty_rate"`
	GracePeriodDays   int             `json:"grace_period_days"`
	PenaltyPeriodDays int             `json:"penalty_period_days"`
	MaxLoanPercentage decimal.Decimal `json:"max_loan_percentage"`
	MinLoanAmount     decimal.Decimal `json:"min_loan_amount"`
	MaxLoanAmount     decimal.Decimal `json:"max_loan_amount"`

	Version   int64     `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DefaultLoanSettings возвращает политику, с которой стартует новая установка.
func DefaultLoanSettings() LoanSettings {
	return LoanSettings{
		InterestRateShort: decimal.RequireFromString("0.10"),
		InterestRateLong:  decimal.RequireFromString("0.18"),
		ProcessingFeeRate: decimal.RequireFromString("0.05"),
		PenaltyRate:       decimal.RequireFromString("0.05"),
		GracePeriodDays:   3,
		PenaltyPeriodDays: 7,
		MaxLoanPercentage: decimal.RequireFromString("0.6"),
		MinLoanAmount:     decimal.NewFromInt(1000),
		MaxLoanAmount:     decimal.NewFromInt(100000),
	}
}

// Validate проверяет инварианты политики.
func (s LoanSettings) Validate() error {
	rates := []decimal.Decimal{
		s.InterestRateShort, s.InterestRateLong, s.ProcessingFeeRate,
		s.PenaltyRate, s.MaxLoanPercentage,
	}
	for _, r := range rates {
		if r.IsNegative() {
			return errors.New("rates must not be negative")
		}
	}
	if s.ProcessingFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("processing fee rate must be below 1")
	}
	if s.GracePeriodDays < 0 || s.PenaltyPeriodDays < 0 {
		return errors.New("grace and penalty periods must not be negative")
	}
	if s.MinLoanAmount.IsNegative() || s.MaxLoanAmount.IsNegative() {
		return errors.New("loan amount limits must not be negative")
	}
	if s.MinLoanAmount.GreaterThan(s.MaxLoanAmount) {
		return errors.New("minimum loan amount exceeds maximum loan amount")
	}
	return nil
}

// Snapshot возвращает копию политики без полей версионирования живой записи.
func (s LoanSettings) Snapshot() *LoanSettings {
	c := s
	c.Version = 0
	c.UpdatedAt = time.Time{}
	return &c
}

// ClosureWrittenOff задаёт причину закрытия списанного займа.
const ClosureWrittenOff = "written_off"

// SystemActorID используется в журнале как идентификатор фоновых заданий.
const SystemActorID int64 = 0

// Loan описывает заём и всю его историю по датам.
type Loan struct {
	ID         int64      `json:"id"`
	LoanNumber string     `json:"loan_number"`
	CustomerID int64      `json:"customer_id"`
	Status     LoanStatus `json:"status"`

	LoanAmount         decimal.Decimal `json:"loan_amount"`
	TermDays           int             `json:"term_days"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	InterestAmount     decimal.Decimal `json:"interest_amount"`
	ProcessingFee      decimal.Decimal `json:"processing_fee"`
	DisbursementAmount decimal.Decimal `json:"disbursement_amount"`
	TotalRepayment     decimal.Decimal `json:"total_repayment"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	Balance            decimal.Decimal `json:"balance"`
	PenaltyAmount      decimal.Decimal `json:"penalty_amount"`
	DaysOverdue        int             `json:"days_overdue"`

	ApplicationDate    time.Time  `json:"application_date"`
	ApprovalDate       *time.Time `json:"approval_date,omitempty"`
	RejectionDate      *time.Time `json:"rejection_date,omitempty"`
	DisbursementDate   *time.Time `json:"disbursement_date,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	GracePeriodEndDate *time.Time `json:"grace_period_end_date,omitempty"`
	PenaltyStartDate   *time.Time `json:"penalty_start_date,omitempty"`
	DefaultDate        *time.Time `json:"default_date,omitempty"`
	ClosureDate        *time.Time `json:"closure_date,omitempty"`
	RepaymentDate      *time.Time `json:"repayment_date,omitempty"`
	LastReminderDate   *time.Time `json:"last_reminder_date,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`
	ClosureReason   string `json:"closure_reason,omitempty"`
	ApprovedBy      int64  `json:"approved_by,omitempty"`

	Settings *LoanSettings `json:"settings_snapshot,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает глубокую копию займа: указатели на даты и снимок не разделяются.
func (l Loan) Clone() Loan {
	c := l
	for _, p := range []**time.Time{
		&c.ApprovalDate, &c.RejectionDate, &c.DisbursementDate, &c.DueDate,
		&c.GracePeriodEndDate, &c.PenaltyStartDate, &c.DefaultDate,
		&c.ClosureDate, &c.RepaymentDate, &c.LastReminderDate,
	} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	if c.Settings != nil {
		s := *c.Settings
		c.Settings = &s
	}
	return c
}

// Customer описывает заёмщика и агрегированные счётчики по его займам.
type Customer struct {
	ID             int64           `json:"id"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone,omitempty"`
	NetSalary      decimal.Decimal `json:"net_salary"`
	NextSalaryDate *time.Time      `json:"next_salary_date,omitempty"`

	TotalLoans     int             `json:"total_loans"`
	ActiveLoans    int             `json:"active_loans"`
	DefaultedLoans int             `json:"defaulted_loans"`
	TotalBorrowed  decimal.Decimal `json:"total_borrowed"`
	TotalRepaid    decimal.Decimal `json:"total_repaid"`

	CreatedAt time.Time `json:"created_at"`
}

// CustomerDelta описывает изменение счётчиков заёмщика одним переходом займа.
type CustomerDelta struct {
	TotalLoans     int
	ActiveLoans    int
	DefaultedLoans int
	TotalBorrowed  decimal.Decimal
	TotalRepaid    decimal.Decimal
}

// IsZero сообщает, что изменение пустое.
func (d CustomerDelta) IsZero() bool {
	return d.TotalLoans == 0 && d.ActiveLoans == 0 && d.DefaultedLoans == 0 &&
		d.TotalBorrowed.IsZero() && d.TotalRepaid.IsZero()
}

// Apply применяет изменение к счётчикам, не допуская отрицательных значений.
func (c *Customer) Apply(d CustomerDelta) {
	c.TotalLoans = max(0, c.TotalLoans+d.TotalLoans)
	c.ActiveLoans = max(0, c.ActiveLoans+d.ActiveLoans)
	c.DefaultedLoans = max(0, c.DefaultedLoans+d.DefaultedLoans)
	c.TotalBorrowed = decimal.Max(decimal.Zero, c.TotalBorrowed.Add(d.TotalBorrowed))
	c.TotalRepaid = decimal.Max(decimal.Zero, c.TotalRepaid.Add(d.TotalRepaid))
}

// Payment описывает неизменяемую запись о поступившем платеже.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	LoanID     int64           `json:"loan_id"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference"`
	PaidAt     time.Time       `json:"paid_at"`
}

// LoanCommit описывает атомарную запись результата перехода займа.
//
// Хранилище применяет её только если сохранённая версия займа равна ExpectedVersion.
type LoanCommit struct {
	Loan            Loan
	ExpectedVersion int64
	CustomerDelta   CustomerDelta
	Payment         *Payment
}

// LoanFilter содержит условия отбора займов, объединённые через И.
type LoanFilter struct {
	Statuses   []LoanStatus
	DueBefore  *time.Time
	CustomerID int64
	Limit      int
}

// LinkStatus описывает состояние ссылки на подачу заявки.
type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusExpired LinkStatus = "expired"
)

// ApplicationLink описывает короткоживущую ссылку на анкету заёмщика.
type ApplicationLink struct {
	Token      uuid.UUID  `json:"token"`
	CustomerID int64      `json:"customer_id,omitempty"`
	Status     LinkStatus `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Activity описывает запись журнала действий.
type Activity struct {
	ActorID    int64          `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
