package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		status LoanStatus
		want   Capabilities
	}{
		{status: LoanStatusPending, want: Capabilities{CanApprove: true, CanReject: true}},
		{status: LoanStatusApproved, want: Capabilities{CanDisburse: true}},
		{status: LoanStatusDisbursed, want: Capabilities{CanRecordPayment: true, CanWaivePenalty: true, CanMarkDefaulted: true}},
		{status: LoanStatusPenaltyAccruing, want: Capabilities{CanRecordPayment: true, CanWaivePenalty: true, CanMarkDefaulted: true}},
		{status: LoanStatusDefaulted, want: Capabilities{CanRecordPayment: true, CanWaivePenalty: true, CanClose: true}},
		{status: LoanStatusRepaid, want: Capabilities{}},
		{status: LoanStatusClosed, want: Capabilities{}},
		{status: LoanStatusRejected, want: Capabilities{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilitiesFor(tt.status))
		})
	}
}

func TestParseLoanStatus(t *testing.T) {
	st, err := ParseLoanStatus("penalty_accruing")
	require.NoError(t, err)
	assert.Equal(t, LoanStatusPenaltyAccruing, st)

	_, err = ParseLoanStatus("paid")
	assert.Error(t, err)
}

func TestCustomerApplyClampsAtZero(t *testing.T) {
	c := Customer{ActiveLoans: 0, TotalBorrowed: decimal.NewFromInt(100)}
	c.Apply(CustomerDelta{ActiveLoans: -1, DefaultedLoans: 1, TotalBorrowed: decimal.NewFromInt(50)})

	assert.Equal(t, 0, c.ActiveLoans)
	assert.Equal(t, 1, c.DefaultedLoans)
	assert.True(t, c.TotalBorrowed.Equal(decimal.NewFromInt(150)))
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultLoanSettings()
	require.NoError(t, s.Validate())

	bad := s
	bad.MinLoanAmount = decimal.NewFromInt(200000)
	assert.Error(t, bad.Validate())

	bad = s
	bad.PenaltyRate = decimal.RequireFromString("-0.01")
	assert.Error(t, bad.Validate())
}

func TestLoanCloneDoesNotShareDates(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := DefaultLoanSettings()
	l := Loan{DueDate: &due, Settings: &snap}

	c := l.Clone()
	*c.DueDate = due.AddDate(0, 0, 1)
	c.Settings.GracePeriodDays = 10

	assert.Equal(t, due, *l.DueDate)
	assert.Equal(t, 3, l.Settings.GracePeriodDays)
}
