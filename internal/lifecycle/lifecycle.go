// Package lifecycle реализует конечный автомат займа.
//
// Переходы реализованы чистыми функциями: они получают текущее значение займа и время,
// а возвращают новое значение, изменение счётчиков заёмщика и список побочных
// действий для выполнения после фиксации. Ввода-вывода здесь нет.
package lifecycle

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/datetime"
	"github.com/mmeshcher/loan-backoffice/internal/loancalc"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/money"
)

// MinReasonLength задаёт минимальную длину причины отказа, списания или снятия штрафа.
const MinReasonLength = 5

// ReminderOffsets перечисляет, за сколько дней до срока напоминать о платеже.
var ReminderOffsets = []int{3, 2, 1, 0}

// Change содержит результат перехода.
type Change struct {
	Loan    model.Loan
	Delta   model.CustomerDelta
	Payment *model.Payment
	Effects []Effect
}

// CreateInput описывает заявку на заём.
type CreateInput struct {
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	TermDays   int             `json:"term_days"`
}

// PaymentInput содержит данные поступившего платежа.
type PaymentInput struct {
	ID        uuid.UUID       `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

// counterDelta превращает переход статуса в изменение счётчиков заёмщика. Других мест с этой логикой нет.
func counterDelta(from, to model.LoanStatus, l model.Loan) model.CustomerDelta {
	var d model.CustomerDelta
	switch {
	case from == "" && to == model.LoanStatusPending:
		d.TotalLoans = 1
	case !from.IsActive() && from != model.LoanStatusDefaulted && to.IsActive():
		d.ActiveLoans = 1
		d.TotalBorrowed = l.LoanAmount
	case from.IsActive() && to == model.LoanStatusRepaid:
		d.ActiveLoans = -1
		d.TotalRepaid = l.AmountPaid
	case from.IsActive() && to == model.LoanStatusDefaulted:
		d.ActiveLoans = -1
		d.DefaultedLoans = 1
	case from == model.LoanStatusDefaulted && to == model.LoanStatusRepaid:
		d.DefaultedLoans = -1
		d.TotalRepaid = l.AmountPaid
	}
	return d
}

func moveTo(l *model.Loan, to model.LoanStatus) model.CustomerDelta {
	d := counterDelta(l.Status, to, *l)
	l.Status = to
	return d
}

func deny(l model.Loan, verb string) error {
	return apperr.Forbidden("Cannot %s loan with status '%s'", verb, l.Status)
}

func checkReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < MinReasonLength {
		return "", apperr.Validation("Reason must be at least %d characters", MinReasonLength)
	}
	return reason, nil
}

func ptr(t time.Time) *time.Time { return &t }

func fmtMoney(d decimal.Decimal) string { return d.StringFixed(2) }

func activity(actorID int64, action string, l model.Loan, now time.Time, meta map[string]any) Record {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["loan_number"] = l.LoanNumber
	meta["status"] = string(l.Status)
	return Record{Activity: model.Activity{
		ActorID:    actorID,
		Action:     action,
		EntityType: "loan",
		EntityID:   l.ID,
		Metadata:   meta,
		CreatedAt:  now,
	}}
}

func loanVars(l model.Loan) map[string]string {
	vars := map[string]string{
		"loan_number": l.LoanNumber,
		"loan_amount": fmtMoney(l.LoanAmount),
		"balance":     fmtMoney(l.Balance),
	}
	if l.DueDate != nil {
		vars["due_date"] = l.DueDate.Format(time.DateOnly)
	}
	return vars
}

func applyQuote(l *model.Loan, q loancalc.Quote) {
	l.LoanAmount = q.Principal
	l.TermDays = q.TermDays
	l.InterestRate = q.InterestRate
	l.InterestAmount = q.InterestAmount
	l.ProcessingFee = q.ProcessingFee
	l.DisbursementAmount = q.DisbursementAmount
	l.TotalRepayment = q.TotalRepayment
	recomputeBalance(l)
}

func recomputeBalance(l *model.Loan) {
	l.Balance = loancalc.Balance(l.TotalRepayment, l.PenaltyAmount, l.AmountPaid)
}

// DaysOverdue возвращает количество дней просрочки на дату now.
func DaysOverdue(l model.Loan, now time.Time) int {
	if l.DueDate == nil {
		return 0
	}
	return max(0, datetime.DaysBetween(*l.DueDate, now))
}

// Create формирует новую заявку. Если срок не указан, он считается до ближайшей зарплаты заёмщика.
func Create(in CreateInput, c model.Customer, live model.LoanSettings, loanNumber string, actorID int64, now time.Time) (Change, error) {
	term := in.TermDays
	if term == 0 && c.NextSalaryDate != nil {
		term = loancalc.LoanPeriodDays(now, *c.NextSalaryDate)
	}
	if v := loancalc.ValidateEligibility(in.Amount, term, c.NetSalary, live); !v.Valid {
		return Change{}, apperr.Validation("%s", v.Reason)
	}

	l := model.Loan{
		LoanNumber:      loanNumber,
		CustomerID:      c.ID,
		AmountPaid:      decimal.Zero,
		PenaltyAmount:   decimal.Zero,
		ApplicationDate: now,
	}
	applyQuote(&l, loancalc.Calculate(in.Amount, term, live))
	delta := moveTo(&l, model.LoanStatusPending)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			activity(actorID, "loan_created", l, now, map[string]any{
				"loan_amount":     fmtMoney(l.LoanAmount),
				"term_days":       l.TermDays,
				"total_repayment": fmtMoney(l.TotalRepayment),
			}),
		},
	}, nil
}

// Approve одобряет заявку и фиксирует в займе снимок действующей политики.
// Расчёт пересчитывается по снимку; approvedAmount, если задан, заменяет запрошенную сумму.
func Approve(l model.Loan, c model.Customer, live model.LoanSettings, approvedAmount *decimal.Decimal, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanApprove {
		return Change{}, deny(l, "approve")
	}

	snap := live.Snapshot()
	requested := l.LoanAmount
	amount := l.LoanAmount
	if approvedAmount != nil {
		amount = *approvedAmount
		if !amount.Equal(requested) {
			if v := loancalc.ValidateEligibility(amount, l.TermDays, c.NetSalary, *snap); !v.Valid {
				return Change{}, apperr.Validation("%s", v.Reason)
			}
		}
	}

	l = l.Clone()
	l.Settings = snap
	applyQuote(&l, loancalc.Calculate(amount, l.TermDays, *snap))
	l.ApprovalDate = ptr(now)
	l.ApprovedBy = actorID
	delta := moveTo(&l, model.LoanStatusApproved)

	vars := loanVars(l)
	vars["disbursement_amount"] = fmtMoney(l.DisbursementAmount)
	vars["total_repayment"] = fmtMoney(l.TotalRepayment)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplateLoanApproved, Audience: AudienceCustomer, Vars: vars},
			activity(actorID, "loan_approved", l, now, map[string]any{
				"requested_amount": fmtMoney(requested),
				"approved_amount":  fmtMoney(l.LoanAmount),
				"total_repayment":  fmtMoney(l.TotalRepayment),
			}),
		},
	}, nil
}

// Reject отклоняет заявку.
func Reject(l model.Loan, reason string, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanReject {
		return Change{}, deny(l, "reject")
	}
	reason, err := checkReason(reason)
	if err != nil {
		return Change{}, err
	}

	l = l.Clone()
	l.RejectionDate = ptr(now)
	l.RejectionReason = reason
	delta := moveTo(&l, model.LoanStatusRejected)

	vars := loanVars(l)
	vars["reason"] = reason

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplateLoanRejected, Audience: AudienceCustomer, Vars: vars},
			activity(actorID, "loan_rejected", l, now, map[string]any{"reason": reason}),
		},
	}, nil
}

// Disburse выдаёт одобренный заём и назначает дату погашения.
func Disburse(l model.Loan, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanDisburse {
		return Change{}, deny(l, "disburse")
	}

	l = l.Clone()
	l.DisbursementDate = ptr(now)
	l.DueDate = ptr(datetime.AddDays(datetime.StartOfDay(now), l.TermDays))
	delta := moveTo(&l, model.LoanStatusDisbursed)

	vars := loanVars(l)
	vars["disbursement_amount"] = fmtMoney(l.DisbursementAmount)
	vars["total_repayment"] = fmtMoney(l.TotalRepayment)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplateLoanDisbursed, Audience: AudienceCustomer, Vars: vars},
			Notify{Template: TemplateAdminDisbursement, Audience: AudienceAdmin, Vars: vars},
			activity(actorID, "loan_disbursed", l, now, map[string]any{
				"disbursement_amount": fmtMoney(l.DisbursementAmount),
				"due_date":            l.DueDate.Format(time.DateOnly),
			}),
		},
	}, nil
}

// RecordPayment учитывает платёж.
//
// Полное погашение переводит заём в repaid из любого статуса, где платёж допустим.
// Частичный платёж переводит disbursed в partially_paid; просроченный, штрафной
// и дефолтный заём сохраняют статус с уменьшенным остатком.
func RecordPayment(l model.Loan, in PaymentInput, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanRecordPayment {
		return Change{}, deny(l, "record payment for")
	}
	if !in.Amount.IsPositive() {
		return Change{}, apperr.Validation("Payment amount must be positive")
	}
	if !money.IsCents(in.Amount) {
		return Change{}, apperr.Validation("Payment amount must have at most 2 decimal places")
	}
	if in.Amount.GreaterThan(l.Balance) {
		return Change{}, apperr.Validation("Payment amount %s exceeds outstanding balance %s", fmtMoney(in.Amount), fmtMoney(l.Balance))
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return Change{}, apperr.Validation("Payment method is required")
	}

	before := l.Balance
	l = l.Clone()
	l.AmountPaid = money.Round(l.AmountPaid.Add(in.Amount))
	recomputeBalance(&l)

	var delta model.CustomerDelta
	template := TemplatePaymentReceived
	switch {
	case !l.Balance.IsPositive():
		l.RepaymentDate = ptr(now)
		delta = moveTo(&l, model.LoanStatusRepaid)
		template = TemplateLoanRepaid
	case l.Status == model.LoanStatusDisbursed:
		delta = moveTo(&l, model.LoanStatusPartiallyPaid)
	}

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = in.ID.String()
	}
	p := &model.Payment{
		ID:         in.ID,
		LoanID:     l.ID,
		CustomerID: l.CustomerID,
		Amount:     in.Amount,
		Method:     method,
		Reference:  reference,
		PaidAt:     now,
	}

	vars := loanVars(l)
	vars["amount"] = fmtMoney(in.Amount)

	return Change{
		Loan:    l,
		Delta:   delta,
		Payment: p,
		Effects: []Effect{
			Notify{Template: template, Audience: AudienceCustomer, Vars: vars},
			activity(actorID, "payment_recorded", l, now, map[string]any{
				"amount":         fmtMoney(in.Amount),
				"method":         method,
				"reference":      reference,
				"balance_before": fmtMoney(before),
				"balance_after":  fmtMoney(l.Balance),
			}),
		},
	}, nil
}

// WaivePenalty снимает штраф полностью или частично.
// Если после снятия остаток равен нулю, заём считается погашенным.
func WaivePenalty(l model.Loan, amount decimal.Decimal, reason string, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanWaivePenalty {
		return Change{}, deny(l, "waive penalty for")
	}
	if !l.PenaltyAmount.IsPositive() {
		return Change{}, apperr.Validation("Loan %s has no penalty to waive", l.LoanNumber)
	}
	if !amount.IsPositive() || amount.GreaterThan(l.PenaltyAmount) {
		return Change{}, apperr.Validation("Waive amount must be greater than 0 and at most %s", fmtMoney(l.PenaltyAmount))
	}
	reason, err := checkReason(reason)
	if err != nil {
		return Change{}, err
	}

	penaltyBefore, balanceBefore := l.PenaltyAmount, l.Balance
	l = l.Clone()
	l.PenaltyAmount = money.Round(l.PenaltyAmount.Sub(amount))
	recomputeBalance(&l)

	var delta model.CustomerDelta
	var effects []Effect
	if !l.Balance.IsPositive() {
		l.RepaymentDate = ptr(now)
		delta = moveTo(&l, model.LoanStatusRepaid)
		effects = append(effects, Notify{Template: TemplateLoanRepaid, Audience: AudienceCustomer, Vars: loanVars(l)})
	}

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: append(effects,
			activity(actorID, "penalty_waived", l, now, map[string]any{
				"amount":         fmtMoney(amount),
				"reason":         reason,
				"penalty_before": fmtMoney(penaltyBefore),
				"penalty_after":  fmtMoney(l.PenaltyAmount),
				"balance_before": fmtMoney(balanceBefore),
				"balance_after":  fmtMoney(l.Balance),
			}),
		),
	}, nil
}

// MarkDefaulted вручную переводит активный заём в дефолт.
func MarkDefaulted(l model.Loan, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanMarkDefaulted {
		return Change{}, deny(l, "mark as defaulted")
	}

	l = l.Clone()
	l.DefaultDate = ptr(now)
	l.DaysOverdue = DaysOverdue(l, now)
	delta := moveTo(&l, model.LoanStatusDefaulted)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			activity(actorID, "loan_marked_defaulted", l, now, map[string]any{
				"balance": fmtMoney(l.Balance),
			}),
		},
	}, nil
}

// Close списывает дефолтный заём.
func Close(l model.Loan, reason string, actorID int64, now time.Time) (Change, error) {
	if !model.CapabilitiesFor(l.Status).CanClose {
		return Change{}, deny(l, "close")
	}
	reason, err := checkReason(reason)
	if err != nil {
		return Change{}, err
	}

	l = l.Clone()
	l.ClosureDate = ptr(now)
	l.ClosureReason = model.ClosureWrittenOff
	delta := moveTo(&l, model.LoanStatusClosed)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			activity(actorID, "loan_written_off", l, now, map[string]any{
				"reason":             reason,
				"written_off_amount": fmtMoney(l.Balance),
			}),
		},
	}, nil
}

// ReminderOffset возвращает, за сколько дней до срока нужно напомнить сегодня.
func ReminderOffset(l model.Loan, now time.Time) (int, bool) {
	if l.Status != model.LoanStatusDisbursed && l.Status != model.LoanStatusPartiallyPaid {
		return 0, false
	}
	if l.DueDate == nil {
		return 0, false
	}
	if l.LastReminderDate != nil && datetime.SameDay(*l.LastReminderDate, now) {
		return 0, false
	}
	offset := datetime.DaysBetween(now, *l.DueDate)
	for _, o := range ReminderOffsets {
		if o == offset {
			return offset, true
		}
	}
	return 0, false
}

// Remind фиксирует напоминание о платеже за текущий день.
func Remind(l model.Loan, now time.Time) (Change, error) {
	offset, ok := ReminderOffset(l, now)
	if !ok {
		return Change{}, apperr.Validation("No payment reminder is due for loan %s today", l.LoanNumber)
	}

	l = l.Clone()
	l.LastReminderDate = ptr(datetime.StartOfDay(now))

	vars := loanVars(l)
	vars["days_until_due"] = strconv.Itoa(offset)

	return Change{
		Loan: l,
		Effects: []Effect{
			Notify{Template: TemplatePaymentReminder, Audience: AudienceCustomer, Vars: vars},
		},
	}, nil
}

// NeedsOverdue сообщает, что заём просрочен, но ещё находится в льготном периоде.
func NeedsOverdue(l model.Loan, s model.LoanSettings, now time.Time) bool {
	if l.Status != model.LoanStatusDisbursed && l.Status != model.LoanStatusPartiallyPaid {
		return false
	}
	days := DaysOverdue(l, now)
	return l.Balance.IsPositive() && days > 0 && days <= s.GracePeriodDays
}

// MarkOverdue переводит заём в overdue. Дата окончания льготного периода вычисляется один раз.
func MarkOverdue(l model.Loan, s model.LoanSettings, now time.Time) (Change, error) {
	if !NeedsOverdue(l, s, now) {
		return Change{}, deny(l, "mark overdue")
	}

	l = l.Clone()
	l.DaysOverdue = DaysOverdue(l, now)
	if l.GracePeriodEndDate == nil {
		l.GracePeriodEndDate = ptr(datetime.AddDays(*l.DueDate, s.GracePeriodDays))
	}
	delta := moveTo(&l, model.LoanStatusOverdue)

	vars := loanVars(l)
	vars["days_overdue"] = strconv.Itoa(l.DaysOverdue)
	vars["grace_period_end_date"] = l.GracePeriodEndDate.Format(time.DateOnly)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplateLoanOverdue, Audience: AudienceCustomer, Vars: vars},
			activity(model.SystemActorID, "loan_overdue", l, now, map[string]any{"days_overdue": l.DaysOverdue}),
		},
	}, nil
}

// NeedsPenalty сообщает, что льготный период истёк, а штраф ещё не начислялся.
func NeedsPenalty(l model.Loan, s model.LoanSettings, now time.Time) bool {
	switch l.Status {
	case model.LoanStatusDisbursed, model.LoanStatusPartiallyPaid, model.LoanStatusOverdue:
	default:
		return false
	}
	return l.Balance.IsPositive() && l.PenaltyStartDate == nil && DaysOverdue(l, now) > s.GracePeriodDays
}

// ApplyPenalty начисляет разовый штраф и переводит заём в penalty_accruing.
// Заполненная PenaltyStartDate исключает повторное начисление.
func ApplyPenalty(l model.Loan, s model.LoanSettings, now time.Time) (Change, error) {
	if !NeedsPenalty(l, s, now) {
		return Change{}, deny(l, "apply penalty to")
	}

	days := DaysOverdue(l, now)
	penalty := loancalc.Penalty(l.TotalRepayment, days, s)
	balanceBefore := l.Balance

	l = l.Clone()
	l.DaysOverdue = days
	l.PenaltyAmount = money.Round(l.PenaltyAmount.Add(penalty))
	l.PenaltyStartDate = ptr(now)
	if l.GracePeriodEndDate == nil {
		l.GracePeriodEndDate = ptr(datetime.AddDays(*l.DueDate, s.GracePeriodDays))
	}
	recomputeBalance(&l)
	delta := moveTo(&l, model.LoanStatusPenaltyAccruing)

	vars := loanVars(l)
	vars["penalty_amount"] = fmtMoney(penalty)
	vars["days_overdue"] = strconv.Itoa(days)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplatePenaltyApplied, Audience: AudienceCustomer, Vars: vars},
			activity(model.SystemActorID, "penalty_applied", l, now, map[string]any{
				"penalty_amount": fmtMoney(penalty),
				"days_overdue":   days,
				"balance_before": fmtMoney(balanceBefore),
				"balance_after":  fmtMoney(l.Balance),
			}),
		},
	}, nil
}

// RefreshOverdue обновляет только счётчик дней просрочки. Второе значение false, если менять нечего.
func RefreshOverdue(l model.Loan, now time.Time) (Change, bool) {
	if l.Status != model.LoanStatusOverdue && l.Status != model.LoanStatusPenaltyAccruing {
		return Change{}, false
	}
	days := DaysOverdue(l, now)
	if days == l.DaysOverdue {
		return Change{}, false
	}
	l = l.Clone()
	l.DaysOverdue = days
	return Change{Loan: l}, true
}

// NeedsDefault сообщает, что штрафной период истёк.
func NeedsDefault(l model.Loan, s model.LoanSettings, now time.Time) bool {
	return l.Status == model.LoanStatusPenaltyAccruing &&
		l.Balance.IsPositive() &&
		DaysOverdue(l, now) > s.GracePeriodDays+s.PenaltyPeriodDays
}

// AutoDefault переводит заём в дефолт по истечении штрафного периода.
func AutoDefault(l model.Loan, s model.LoanSettings, now time.Time) (Change, error) {
	if !NeedsDefault(l, s, now) {
		return Change{}, deny(l, "default")
	}

	l = l.Clone()
	l.DaysOverdue = DaysOverdue(l, now)
	l.DefaultDate = ptr(now)
	delta := moveTo(&l, model.LoanStatusDefaulted)

	vars := loanVars(l)
	vars["days_overdue"] = strconv.Itoa(l.DaysOverdue)

	return Change{
		Loan:  l,
		Delta: delta,
		Effects: []Effect{
			Notify{Template: TemplateLoanDefaulted, Audience: AudienceCustomer, Vars: vars},
			Notify{Template: TemplateAdminLoanDefaulted, Audience: AudienceAdmin, Vars: vars},
			activity(model.SystemActorID, "loan_defaulted", l, now, map[string]any{
				"days_overdue": l.DaysOverdue,
				"balance":      fmtMoney(l.Balance),
			}),
		},
	}, nil
}
