package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/lifecycle"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/permission"
	"github.com/mmeshcher/loan-backoffice/internal/repository"
)

// CreateLoan оформляет заявку на заём по живым настройкам.
func (s *Service) CreateLoan(ctx context.Context, in lifecycle.CreateInput, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansCreate); err != nil {
		return nil, err
	}

	customer, err := s.repo.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, storeErr(err, "Customer %d not found", in.CustomerID)
	}
	live, err := s.liveSettings(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		now := s.now().UTC()
		ch, err := lifecycle.Create(in, customer, live, s.loanNumber(now), actor.ID, now)
		if err != nil {
			return nil, err
		}

		saved, err := s.repo.CreateLoan(ctx, ch.Loan, ch.Delta)
		if errors.Is(err, repository.ErrLoanNumberExists) && attempt < maxNumberAttempts {
			continue
		}
		if err != nil {
			return nil, storeErr(err, "Customer %d not found", in.CustomerID)
		}

		s.metrics.RecordTransition("loan_created")
		return &Outcome{Loan: saved, Warnings: s.dispatch(ctx, saved, ch.Effects)}, nil
	}
}

// Approve одобряет заявку. approvedAmount, если задан, заменяет запрошенную сумму.
func (s *Service) Approve(ctx context.Context, loanID int64, approvedAmount *decimal.Decimal, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansApprove); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "loan_approved", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		customer, err := s.repo.GetCustomer(ctx, l.CustomerID)
		if err != nil {
			return lifecycle.Change{}, storeErr(err, "Customer %d not found", l.CustomerID)
		}
		live, err := s.liveSettings(ctx)
		if err != nil {
			return lifecycle.Change{}, err
		}
		return lifecycle.Approve(l, customer, live, approvedAmount, actor.ID, now)
	})
}

// Reject отклоняет заявку.
func (s *Service) Reject(ctx context.Context, loanID int64, reason string, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansReject); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "loan_rejected", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.Reject(l, reason, actor.ID, now)
	})
}

// Disburse выдаёт одобренный заём.
func (s *Service) Disburse(ctx context.Context, loanID int64, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansDisburse); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "loan_disbursed", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.Disburse(l, actor.ID, now)
	})
}

// RecordPayment учитывает поступивший платёж.
func (s *Service) RecordPayment(ctx context.Context, loanID int64, in lifecycle.PaymentInput, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.PaymentsRecord); err != nil {
		return nil, err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	return s.mutate(ctx, loanID, "payment_recorded", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.RecordPayment(l, in, actor.ID, now)
	})
}

// WaivePenalty снимает штраф полностью или частично.
func (s *Service) WaivePenalty(ctx context.Context, loanID int64, amount decimal.Decimal, reason string, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansWaivePenalty); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "penalty_waived", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.WaivePenalty(l, amount, reason, actor.ID, now)
	})
}

// MarkDefaulted вручную переводит заём в дефолт.
func (s *Service) MarkDefaulted(ctx context.Context, loanID int64, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansMarkDefaulted); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "loan_marked_defaulted", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.MarkDefaulted(l, actor.ID, now)
	})
}

// Close списывает дефолтный заём.
func (s *Service) Close(ctx context.Context, loanID int64, reason string, actor permission.Actor) (*Outcome, error) {
	if err := permission.Require(actor, permission.LoansClose); err != nil {
		return nil, err
	}
	return s.mutate(ctx, loanID, "loan_written_off", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		return lifecycle.Close(l, reason, actor.ID, now)
	})
}

// GetLoan возвращает заём по идентификатору.
func (s *Service) GetLoan(ctx context.Context, loanID int64, actor permission.Actor) (model.Loan, error) {
	if err := permission.Require(actor, permission.LoansView); err != nil {
		return model.Loan{}, err
	}
	l, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, storeErr(err, "Loan %d not found", loanID)
	}
	return l, nil
}

// GetLoanByNumber возвращает заём по номеру.
func (s *Service) GetLoanByNumber(ctx context.Context, number string, actor permission.Actor) (model.Loan, error) {
	if err := permission.Require(actor, permission.LoansView); err != nil {
		return model.Loan{}, err
	}
	l, err := s.repo.GetLoanByNumber(ctx, number)
	if err != nil {
		return model.Loan{}, storeErr(err, "Loan %s not found", number)
	}
	return l, nil
}

// ListLoans возвращает займы по фильтру.
func (s *Service) ListLoans(ctx context.Context, f model.LoanFilter, actor permission.Actor) ([]model.Loan, error) {
	if err := permission.Require(actor, permission.LoansView); err != nil {
		return nil, err
	}
	if f.Limit < 0 {
		return nil, apperr.Validation("Limit must not be negative")
	}
	loans, err := s.repo.ListLoans(ctx, f)
	if err != nil {
		return nil, storeErr(err, "Loans not found")
	}
	return loans, nil
}

// ListPayments возвращает платежи по займу.
func (s *Service) ListPayments(ctx context.Context, loanID int64, actor permission.Actor) ([]model.Payment, error) {
	if _, err := s.GetLoan(ctx, loanID, actor); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, loanID)
	if err != nil {
		return nil, storeErr(err, "Loan %d not found", loanID)
	}
	return payments, nil
}

// ListActivity возвращает журнал действий по займу.
func (s *Service) ListActivity(ctx context.Context, loanID int64, actor permission.Actor) ([]model.Activity, error) {
	if _, err := s.GetLoan(ctx, loanID, actor); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListActivity(ctx, "loan", loanID)
	if err != nil {
		return nil, storeErr(err, "Loan %d not found", loanID)
	}
	return entries, nil
}
