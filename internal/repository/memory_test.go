package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loan-backoffice/internal/model"
)

func seedLoan(t *testing.T, r *MemoryRepository, number string, status model.LoanStatus, due *time.Time) model.Loan {
	t.Helper()
	c, err := r.CreateCustomer(context.Background(), model.Customer{FullName: "Test", Email: "t@example.com"})
	require.NoError(t, err)

	l, err := r.CreateLoan(context.Background(), model.Loan{
		LoanNumber: number,
		CustomerID: c.ID,
		Status:     status,
		LoanAmount: decimal.NewFromInt(1000),
		DueDate:    due,
	}, model.CustomerDelta{TotalLoans: 1})
	require.NoError(t, err)
	return l
}

func TestMemoryRepository_CreateLoan(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	l := seedLoan(t, r, "A-1", model.LoanStatusPending, nil)
	assert.Equal(t, int64(1), l.Version)

	c, err := r.GetCustomer(ctx, l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalLoans)

	_, err = r.CreateLoan(ctx, model.Loan{LoanNumber: "A-1", CustomerID: l.CustomerID}, model.CustomerDelta{})
	assert.ErrorIs(t, err, ErrLoanNumberExists)

	_, err = r.CreateLoan(ctx, model.Loan{LoanNumber: "A-2", CustomerID: 999}, model.CustomerDelta{})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := r.GetLoanByNumber(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
}

func TestMemoryRepository_CommitLoanVersioning(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	l := seedLoan(t, r, "A-1", model.LoanStatusApproved, nil)

	next := l.Clone()
	next.Status = model.LoanStatusDisbursed
	saved, err := r.CommitLoan(ctx, model.LoanCommit{
		Loan:            next,
		ExpectedVersion: l.Version,
		CustomerDelta:   model.CustomerDelta{ActiveLoans: 1, TotalBorrowed: decimal.NewFromInt(1000)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// второй писатель с устаревшей версией
	stale := l.Clone()
	stale.Status = model.LoanStatusRejected
	_, err = r.CommitLoan(ctx, model.LoanCommit{Loan: stale, ExpectedVersion: l.Version})
	require.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)

	got, err := r.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanStatusDisbursed, got.Status)

	c, err := r.GetCustomer(ctx, l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveLoans)
	assert.True(t, c.TotalBorrowed.Equal(decimal.NewFromInt(1000)))
}

func TestMemoryRepository_CommitLoanPaymentAndClamp(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	l := seedLoan(t, r, "A-1", model.LoanStatusDisbursed, nil)

	p := &model.Payment{ID: uuid.New(), LoanID: l.ID, CustomerID: l.CustomerID, Amount: decimal.NewFromInt(10), Method: "cash"}
	_, err := r.CommitLoan(ctx, model.LoanCommit{
		Loan:            l,
		ExpectedVersion: l.Version,
		CustomerDelta:   model.CustomerDelta{ActiveLoans: -1},
		Payment:         p,
	})
	require.NoError(t, err)

	payments, err := r.ListPayments(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, p.ID, payments[0].ID)

	c, err := r.GetCustomer(ctx, l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.ActiveLoans, "counter never goes below zero")
}

func TestMemoryRepository_ListLoans(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	later := day.AddDate(0, 0, 5)

	a := seedLoan(t, r, "A-1", model.LoanStatusDisbursed, &later)
	b := seedLoan(t, r, "A-2", model.LoanStatusDisbursed, &day)
	seedLoan(t, r, "A-3", model.LoanStatusPending, nil)
	seedLoan(t, r, "A-4", model.LoanStatusRepaid, &day)

	loans, err := r.ListLoans(ctx, model.LoanFilter{Statuses: []model.LoanStatus{model.LoanStatusDisbursed}})
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, b.ID, loans[0].ID, "ordered by due date")
	assert.Equal(t, a.ID, loans[1].ID)

	cutoff := day.AddDate(0, 0, 1)
	loans, err = r.ListLoans(ctx, model.LoanFilter{Statuses: []model.LoanStatus{model.LoanStatusDisbursed}, DueBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, b.ID, loans[0].ID)

	loans, err = r.ListLoans(ctx, model.LoanFilter{CustomerID: a.CustomerID})
	require.NoError(t, err)
	require.Len(t, loans, 1)

	loans, err = r.ListLoans(ctx, model.LoanFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, loans, 3)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	due := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	l := seedLoan(t, r, "A-1", model.LoanStatusDisbursed, &due)

	got, err := r.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	*got.DueDate = due.AddDate(1, 0, 0)

	again, err := r.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, due, *again.DueDate)
}

func TestMemoryRepository_Settings(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	_, err := r.GetCurrentSettings(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	saved, err := r.SaveSettings(ctx, model.DefaultLoanSettings())
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	saved, err = r.SaveSettings(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
}

func TestMemoryRepository_ApplicationLinks(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	expired := model.ApplicationLink{Token: uuid.New(), Status: model.LinkStatusActive, ExpiresAt: now.Add(-time.Hour)}
	fresh := model.ApplicationLink{Token: uuid.New(), Status: model.LinkStatusActive, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, r.CreateApplicationLink(ctx, expired))
	require.NoError(t, r.CreateApplicationLink(ctx, fresh))

	err := r.CreateApplicationLink(ctx, model.ApplicationLink{Token: uuid.New(), CustomerID: 42})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := r.ExpireApplicationLinks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.ExpireApplicationLinks(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "expiry is idempotent")

	n, err = r.PurgeApplicationLinks(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.PurgeApplicationLinks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.GetApplicationLink(ctx, expired.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	link, err := r.GetApplicationLink(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, model.LinkStatusActive, link.Status)
}
