package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/loan-backoffice/internal/lifecycle"
	"github.com/mmeshcher/loan-backoffice/internal/model"
)

// Операции этого файла вызываются фоновыми заданиями от имени системы.
// Каждая идемпотентна: повторный вызов в тот же день ничего не меняет и возвращает false.

func (s *Service) escalate(ctx context.Context, loanID int64, action string, fn transition) (bool, error) {
	_, err := s.mutate(ctx, loanID, action, fn)
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SendPaymentReminder напоминает о приближающемся сроке не чаще раза в день.
func (s *Service) SendPaymentReminder(ctx context.Context, loanID int64) (bool, error) {
	return s.escalate(ctx, loanID, "payment_reminder", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		if _, ok := lifecycle.ReminderOffset(l, now); !ok {
			return lifecycle.Change{}, errNothingToDo
		}
		return lifecycle.Remind(l, now)
	})
}

// CheckOverdue переводит просроченный заём в overdue или обновляет счётчик дней просрочки.
func (s *Service) CheckOverdue(ctx context.Context, loanID int64) (bool, error) {
	return s.escalate(ctx, loanID, "loan_overdue", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		policy, err := s.policyFor(ctx, l)
		if err != nil {
			return lifecycle.Change{}, err
		}
		if lifecycle.NeedsOverdue(l, policy, now) {
			return lifecycle.MarkOverdue(l, policy, now)
		}
		if ch, ok := lifecycle.RefreshOverdue(l, now); ok {
			return ch, nil
		}
		return lifecycle.Change{}, errNothingToDo
	})
}

// ApplyPenalty начисляет разовый штраф по истечении льготного периода.
func (s *Service) ApplyPenalty(ctx context.Context, loanID int64) (bool, error) {
	return s.escalate(ctx, loanID, "penalty_applied", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		policy, err := s.policyFor(ctx, l)
		if err != nil {
			return lifecycle.Change{}, err
		}
		if !lifecycle.NeedsPenalty(l, policy, now) {
			return lifecycle.Change{}, errNothingToDo
		}
		return lifecycle.ApplyPenalty(l, policy, now)
	})
}

// CheckDefault переводит заём в дефолт по истечении штрафного периода.
func (s *Service) CheckDefault(ctx context.Context, loanID int64) (bool, error) {
	return s.escalate(ctx, loanID, "loan_defaulted", func(l model.Loan, now time.Time) (lifecycle.Change, error) {
		policy, err := s.policyFor(ctx, l)
		if err != nil {
			return lifecycle.Change{}, err
		}
		if !lifecycle.NeedsDefault(l, policy, now) {
			return lifecycle.Change{}, errNothingToDo
		}
		return lifecycle.AutoDefault(l, policy, now)
	})
}

// ExpireApplicationLinks помечает истёкшие ссылки на анкету.
func (s *Service) ExpireApplicationLinks(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireApplicationLinks(ctx, s.now().UTC())
	if err != nil {
		return 0, storeErr(err, "Application links not found")
	}
	return n, nil
}

// PurgeExpiredLinks удаляет просроченные ссылки старше retention.
func (s *Service) PurgeExpiredLinks(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PurgeApplicationLinks(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, storeErr(err, "Application links not found")
	}
	return n, nil
}
