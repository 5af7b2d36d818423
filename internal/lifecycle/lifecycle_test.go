package lifecycle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/loancalc"
	"github.com/mmeshcher/loan-backoffice/internal/model"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func settings() model.LoanSettings {
	s := model.DefaultLoanSettings()
	s.GracePeriodDays = 3
	s.PenaltyPeriodDays = 7
	return s
}

func customer() model.Customer {
	return model.Customer{ID: 11, FullName: "Ann Borrower", Email: "ann@example.com", NetSalary: d("20000")}
}

func balanceInvariant(t *testing.T, l model.Loan) {
	t.Helper()
	want := loancalc.Balance(l.TotalRepayment, l.PenaltyAmount, l.AmountPaid)
	assert.True(t, l.Balance.Equal(want), "balance %s, want %s", l.Balance, want)
}

// disbursedLoan проводит заём через создание, одобрение и выдачу.
func disbursedLoan(t *testing.T, amount string) model.Loan {
	t.Helper()
	ch, err := Create(CreateInput{CustomerID: 11, Amount: d(amount), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)
	l := ch.Loan
	l.ID = 5

	ch, err = Approve(l, customer(), settings(), nil, 1, now)
	require.NoError(t, err)
	ch, err = Disburse(ch.Loan, 1, now)
	require.NoError(t, err)
	return ch.Loan
}

func TestCreate(t *testing.T) {
	ch, err := Create(CreateInput{CustomerID: 11, Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)

	l := ch.Loan
	assert.Equal(t, model.LoanStatusPending, l.Status)
	assert.True(t, l.TotalRepayment.Equal(d("11800")))
	assert.True(t, l.DisbursementAmount.Equal(d("9500")))
	assert.True(t, l.Balance.Equal(l.TotalRepayment))
	assert.Equal(t, 1, ch.Delta.TotalLoans)
	assert.Nil(t, l.Settings, "snapshot is taken at approval, not at application")
	balanceInvariant(t, l)
}

func TestCreate_TermFromSalaryDate(t *testing.T) {
	c := customer()
	salary := now.Add(14*24*time.Hour + time.Hour)
	c.NextSalaryDate = &salary

	ch, err := Create(CreateInput{CustomerID: 11, Amount: d("5000")}, c, settings(), "ML-1", 1, now)
	require.NoError(t, err)
	assert.Equal(t, 15, ch.Loan.TermDays)
	assert.True(t, ch.Loan.InterestRate.Equal(settings().InterestRateShort))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "term too long", in: CreateInput{Amount: d("5000"), TermDays: 31}},
		{name: "no term and no salary date", in: CreateInput{Amount: d("5000")}},
		{name: "salary cap", in: CreateInput{Amount: d("12001"), TermDays: 10}},
		{name: "below minimum", in: CreateInput{Amount: d("10"), TermDays: 10}},
		{name: "fraction of a cent", in: CreateInput{Amount: d("999.999"), TermDays: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.in, customer(), settings(), "ML-1", 1, now)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
}

func TestApprove_SnapshotsSettings(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)

	live := settings()
	live.Version = 4
	ch, err = Approve(ch.Loan, customer(), live, nil, 9, now)
	require.NoError(t, err)

	l := ch.Loan
	require.NotNil(t, l.Settings)
	assert.Equal(t, model.LoanStatusApproved, l.Status)
	assert.Equal(t, int64(0), l.Settings.Version)
	assert.Equal(t, int64(9), l.ApprovedBy)
	assert.NotNil(t, l.ApprovalDate)
	assert.True(t, ch.Delta.IsZero())

	// изменение живых настроек не затрагивает снимок
	live.PenaltyRate = d("0.5")
	assert.True(t, l.Settings.PenaltyRate.Equal(d("0.05")))
}

func TestApprove_RecomputesChangedAmount(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)

	amount := d("8000")
	ch, err = Approve(ch.Loan, customer(), settings(), &amount, 1, now)
	require.NoError(t, err)
	assert.True(t, ch.Loan.LoanAmount.Equal(d("8000")))
	assert.True(t, ch.Loan.TotalRepayment.Equal(d("9440")))
	assert.True(t, ch.Loan.Balance.Equal(d("9440")))

	fractional := d("8000.004")
	pending, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-2", 1, now)
	require.NoError(t, err)
	_, err = Approve(pending.Loan, customer(), settings(), &fractional, 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	tooMuch := d("50000")
	_, err = Approve(ch.Loan, customer(), settings(), &tooMuch, 1, now)
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "approved loan cannot be approved again: %v", err)
}

func TestApproveTwiceFails(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)
	ch, err = Approve(ch.Loan, customer(), settings(), nil, 1, now)
	require.NoError(t, err)

	_, err = Approve(ch.Loan, customer(), settings(), nil, 1, now)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestDisbursePendingIsForbidden(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)

	_, err = Disburse(ch.Loan, 1, now)
	require.True(t, apperr.Is(err, apperr.KindForbidden))
	msg, _ := apperr.MessageOf(err)
	assert.Equal(t, "Cannot disburse loan with status 'pending'", msg)
}

func TestDisburse(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)
	ch, err = Approve(ch.Loan, customer(), settings(), nil, 1, now)
	require.NoError(t, err)
	ch, err = Disburse(ch.Loan, 1, now)
	require.NoError(t, err)

	assert.Equal(t, model.LoanStatusDisbursed, ch.Loan.Status)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), *ch.Loan.DueDate)
	assert.Equal(t, 1, ch.Delta.ActiveLoans)
	assert.True(t, ch.Delta.TotalBorrowed.Equal(d("10000")))

	var audiences []Audience
	for _, e := range ch.Effects {
		if n, ok := e.(Notify); ok {
			audiences = append(audiences, n.Audience)
		}
	}
	assert.ElementsMatch(t, []Audience{AudienceCustomer, AudienceAdmin}, audiences)
}

func TestReject(t *testing.T) {
	ch, err := Create(CreateInput{Amount: d("10000"), TermDays: 30}, customer(), settings(), "ML-1", 1, now)
	require.NoError(t, err)

	_, err = Reject(ch.Loan, " bad ", 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	ch, err = Reject(ch.Loan, "insufficient income history", 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRejected, ch.Loan.Status)
	assert.Equal(t, "insufficient income history", ch.Loan.RejectionReason)
}

func TestRecordPayment_PartialThenFull(t *testing.T) {
	l := disbursedLoan(t, "10000")

	ch, err := RecordPayment(l, PaymentInput{ID: uuid.New(), Amount: d("5000"), Method: "cash"}, 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusPartiallyPaid, ch.Loan.Status)
	assert.True(t, ch.Loan.Balance.Equal(d("6800")))
	assert.True(t, ch.Delta.IsZero())
	require.NotNil(t, ch.Payment)
	assert.Equal(t, ch.Payment.ID.String(), ch.Payment.Reference)
	balanceInvariant(t, ch.Loan)

	ch, err = RecordPayment(ch.Loan, PaymentInput{ID: uuid.New(), Amount: d("6800"), Method: "bank_transfer", Reference: "TX-9"}, 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, ch.Loan.Status)
	assert.True(t, ch.Loan.Balance.IsZero())
	assert.NotNil(t, ch.Loan.RepaymentDate)
	assert.Equal(t, -1, ch.Delta.ActiveLoans)
	assert.True(t, ch.Delta.TotalRepaid.Equal(d("11800")))
	balanceInvariant(t, ch.Loan)
}

func TestRecordPayment_Validation(t *testing.T) {
	l := disbursedLoan(t, "10000")

	tests := []struct {
		name string
		in   PaymentInput
	}{
		{name: "zero", in: PaymentInput{Amount: decimal.Zero, Method: "cash"}},
		{name: "fractional cents", in: PaymentInput{Amount: d("1.001"), Method: "cash"}},
		{name: "overpayment", in: PaymentInput{Amount: d("11800.01"), Method: "cash"}},
		{name: "no method", in: PaymentInput{Amount: d("100")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecordPayment(l, tt.in, 1, now)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	pending := l
	pending.Status = model.LoanStatusPending
	_, err := RecordPayment(pending, PaymentInput{Amount: d("1"), Method: "cash"}, 1, now)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestEscalation_OverduePenaltyDefault(t *testing.T) {
	s := settings()
	l := disbursedLoan(t, "10000")
	due := *l.DueDate

	// в день погашения просрочки нет
	assert.False(t, NeedsOverdue(l, s, due))

	day2 := due.AddDate(0, 0, 2).Add(9 * time.Hour)
	require.True(t, NeedsOverdue(l, s, day2))
	ch, err := MarkOverdue(l, s, day2)
	require.NoError(t, err)
	l = ch.Loan
	assert.Equal(t, model.LoanStatusOverdue, l.Status)
	assert.Equal(t, 2, l.DaysOverdue)
	graceEnd := *l.GracePeriodEndDate
	assert.Equal(t, due.AddDate(0, 0, 3), graceEnd)
	assert.False(t, NeedsOverdue(l, s, day2), "overdue loan is not re-flagged")

	day3 := due.AddDate(0, 0, 3)
	assert.False(t, NeedsPenalty(l, s, day3), "no penalty inside grace")

	day4 := due.AddDate(0, 0, 4)
	require.True(t, NeedsPenalty(l, s, day4))
	ch, err = ApplyPenalty(l, s, day4)
	require.NoError(t, err)
	l = ch.Loan
	assert.Equal(t, model.LoanStatusPenaltyAccruing, l.Status)
	assert.True(t, l.PenaltyAmount.Equal(d("590")))
	assert.True(t, l.Balance.Equal(d("12390")))
	assert.Equal(t, graceEnd, *l.GracePeriodEndDate)
	balanceInvariant(t, l)

	// повторный прогон не начисляет штраф снова
	assert.False(t, NeedsPenalty(l, s, day4.AddDate(0, 0, 1)))
	_, err = ApplyPenalty(l, s, day4.AddDate(0, 0, 1))
	assert.Error(t, err)

	refreshed, changed := RefreshOverdue(l, day4.AddDate(0, 0, 2))
	require.True(t, changed)
	assert.Equal(t, 6, refreshed.Loan.DaysOverdue)
	assert.True(t, refreshed.Loan.PenaltyAmount.Equal(d("590")))

	_, changed = RefreshOverdue(refreshed.Loan, day4.AddDate(0, 0, 2))
	assert.False(t, changed)

	day10 := due.AddDate(0, 0, 10)
	assert.False(t, NeedsDefault(l, s, day10))
	day11 := due.AddDate(0, 0, 11)
	require.True(t, NeedsDefault(l, s, day11))
	ch, err = AutoDefault(l, s, day11)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusDefaulted, ch.Loan.Status)
	assert.Equal(t, -1, ch.Delta.ActiveLoans)
	assert.Equal(t, 1, ch.Delta.DefaultedLoans)
}

func TestPenaltyUsesSnapshotNotLive(t *testing.T) {
	s := settings()
	l := disbursedLoan(t, "10000")
	day5 := l.DueDate.AddDate(0, 0, 5)

	ch, err := ApplyPenalty(l, *l.Settings, day5)
	require.NoError(t, err)
	assert.True(t, ch.Loan.PenaltyAmount.Equal(d("590")))

	s.PenaltyRate = d("0.50")
	assert.True(t, l.Settings.PenaltyRate.Equal(d("0.05")))
}

func TestWaivePenalty(t *testing.T) {
	l := disbursedLoan(t, "10000")
	ch, err := ApplyPenalty(l, settings(), l.DueDate.AddDate(0, 0, 4))
	require.NoError(t, err)
	l = ch.Loan

	_, err = WaivePenalty(l, d("600"), "customer hardship", 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = WaivePenalty(l, d("100"), "ok", 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	ch, err = WaivePenalty(l, d("90"), "customer hardship", 1, now)
	require.NoError(t, err)
	assert.True(t, ch.Loan.PenaltyAmount.Equal(d("500")))
	assert.True(t, ch.Loan.Balance.Equal(d("12300")))
	balanceInvariant(t, ch.Loan)

	clean := disbursedLoan(t, "10000")
	_, err = WaivePenalty(clean, d("1"), "customer hardship", 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestWaivePenalty_ClearsBalance(t *testing.T) {
	s := settings()
	l := disbursedLoan(t, "10000")
	day4 := l.DueDate.AddDate(0, 0, 4)
	ch, err := ApplyPenalty(l, s, day4)
	require.NoError(t, err)

	ch, err = RecordPayment(ch.Loan, PaymentInput{ID: uuid.New(), Amount: d("11800"), Method: "card"}, 1, day4)
	require.NoError(t, err)
	l = ch.Loan
	require.Equal(t, model.LoanStatusPenaltyAccruing, l.Status)
	require.True(t, l.Balance.Equal(d("590")))

	ch, err = WaivePenalty(l, d("590"), "customer hardship", 1, day4)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, ch.Loan.Status)
	assert.True(t, ch.Loan.Balance.IsZero())
	require.NotNil(t, ch.Loan.RepaymentDate)
	assert.Equal(t, -1, ch.Delta.ActiveLoans)
	assert.True(t, ch.Delta.TotalRepaid.Equal(d("11800")))
	balanceInvariant(t, ch.Loan)

	var templates []string
	for _, e := range ch.Effects {
		if n, ok := e.(Notify); ok {
			templates = append(templates, n.Template)
		}
	}
	assert.Equal(t, []string{TemplateLoanRepaid}, templates)

	assert.False(t, NeedsDefault(ch.Loan, s, l.DueDate.AddDate(0, 0, 30)))
}

func TestEscalation_SkipsSettledBalance(t *testing.T) {
	s := settings()
	l := disbursedLoan(t, "10000")
	l.AmountPaid = l.TotalRepayment
	recomputeBalance(&l)
	require.True(t, l.Balance.IsZero())

	due := *l.DueDate
	assert.False(t, NeedsOverdue(l, s, due.AddDate(0, 0, 2)))
	assert.False(t, NeedsPenalty(l, s, due.AddDate(0, 0, 4)))

	l.Status = model.LoanStatusPenaltyAccruing
	assert.False(t, NeedsDefault(l, s, due.AddDate(0, 0, 11)))
	_, err := AutoDefault(l, s, due.AddDate(0, 0, 11))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestDefaultedRecoveryAndWriteOff(t *testing.T) {
	l := disbursedLoan(t, "10000")
	ch, err := MarkDefaulted(l, 1, now)
	require.NoError(t, err)
	l = ch.Loan
	assert.Equal(t, -1, ch.Delta.ActiveLoans)
	assert.Equal(t, 1, ch.Delta.DefaultedLoans)

	ch, err = RecordPayment(l, PaymentInput{ID: uuid.New(), Amount: d("1000"), Method: "cash"}, 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusDefaulted, ch.Loan.Status, "partial recovery keeps the loan defaulted")

	full, err := RecordPayment(ch.Loan, PaymentInput{ID: uuid.New(), Amount: ch.Loan.Balance, Method: "cash"}, 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusRepaid, full.Loan.Status)
	assert.Equal(t, -1, full.Delta.DefaultedLoans)
	assert.Equal(t, 0, full.Delta.ActiveLoans)

	_, err = Close(ch.Loan, "no", 1, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	closed, err := Close(ch.Loan, "collection exhausted", 1, now)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusClosed, closed.Loan.Status)
	assert.Equal(t, model.ClosureWrittenOff, closed.Loan.ClosureReason)
	assert.True(t, closed.Delta.IsZero())

	_, err = Close(l.Clone(), "collection exhausted", 1, now)
	require.NoError(t, err)
	_, err = MarkDefaulted(closed.Loan, 1, now)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestReminder(t *testing.T) {
	l := disbursedLoan(t, "10000")
	due := *l.DueDate

	_, ok := ReminderOffset(l, due.AddDate(0, 0, -4))
	assert.False(t, ok)

	for _, off := range ReminderOffsets {
		at := due.AddDate(0, 0, -off).Add(8 * time.Hour)
		got, ok := ReminderOffset(l, at)
		require.True(t, ok)
		assert.Equal(t, off, got)
	}

	at := due.AddDate(0, 0, -2).Add(8 * time.Hour)
	ch, err := Remind(l, at)
	require.NoError(t, err)
	_, ok = ReminderOffset(ch.Loan, at.Add(time.Hour))
	assert.False(t, ok, "second reminder on the same day is suppressed")
	_, ok = ReminderOffset(ch.Loan, at.AddDate(0, 0, 1))
	assert.True(t, ok)
}
