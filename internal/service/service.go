// Package service связывает конечный автомат займа с хранилищем, проверкой прав и уведомлениями.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/lifecycle"
	"github.com/mmeshcher/loan-backoffice/internal/metrics"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/notify"
	"github.com/mmeshcher/loan-backoffice/internal/repository"
	"github.com/mmeshcher/loan-backoffice/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	CreateCustomer(ctx context.Context, c model.Customer) (model.Customer, error)
	GetCustomer(ctx context.Context, id int64) (model.Customer, error)

	GetCurrentSettings(ctx context.Context) (model.LoanSettings, error)
	SaveSettings(ctx context.Context, s model.LoanSettings) (model.LoanSettings, error)

	CreateLoan(ctx context.Context, l model.Loan, delta model.CustomerDelta) (model.Loan, error)
	GetLoan(ctx context.Context, id int64) (model.Loan, error)
	GetLoanByNumber(ctx context.Context, number string) (model.Loan, error)
	ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error)
	CommitLoan(ctx context.Context, c model.LoanCommit) (model.Loan, error)
	ListPayments(ctx context.Context, loanID int64) ([]model.Payment, error)

	LogActivity(ctx context.Context, a model.Activity) error
	ListActivity(ctx context.Context, entityType string, entityID int64) ([]model.Activity, error)

	CreateApplicationLink(ctx context.Context, link model.ApplicationLink) error
	GetApplicationLink(ctx context.Context, token uuid.UUID) (model.ApplicationLink, error)
	ExpireApplicationLinks(ctx context.Context, now time.Time) (int64, error)
	PurgeApplicationLinks(ctx context.Context, before time.Time) (int64, error)
}

const (
	// maxCommitAttempts ограничивает повторы перехода при конфликте версий.
	maxCommitAttempts = 5
	// maxNumberAttempts ограничивает подбор свободного номера займа.
	maxNumberAttempts = 5

	defaultEffectTimeout = 5 * time.Second
)

// Options содержит необязательные зависимости сервиса.
type Options struct {
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	AdminEmail    string
	EffectTimeout time.Duration
	// Now подменяет часы в тестах.
	Now func() time.Time
	// LoanNumber подменяет генератор номеров займов в тестах.
	LoanNumber func(time.Time) string
}

// Service содержит бизнес-логику бэк-офиса.
type Service struct {
	repo          Repository
	sender        notify.Sender
	logger        *zap.Logger
	metrics       *metrics.Collector
	adminEmail    string
	effectTimeout time.Duration
	now           func() time.Time
	loanNumber    func(time.Time) string
}

// NewService создаёт сервис с указанным хранилищем и отправителем уведомлений.
func NewService(repo Repository, sender notify.Sender, opts Options) *Service {
	s := &Service{
		repo:          repo,
		sender:        sender,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		adminEmail:    opts.AdminEmail,
		effectTimeout: opts.EffectTimeout,
		now:           opts.Now,
		loanNumber:    opts.LoanNumber,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.effectTimeout <= 0 {
		s.effectTimeout = defaultEffectTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loanNumber == nil {
		s.loanNumber = validation.NewLoanNumber
	}
	return s
}

// Outcome содержит результат операции над займом. Warnings перечисляет побочные действия,
// которые не удалось выполнить после фиксации; сама операция при этом успешна.
type Outcome struct {
	Loan     model.Loan
	Warnings []string
}

// errNothingToDo возвращается переходом, которому нечего менять.
var errNothingToDo = errors.New("nothing to do")

type transition func(l model.Loan, now time.Time) (lifecycle.Change, error)

// mutate читает заём, выполняет переход и фиксирует результат с проверкой версии.
// При конфликте версий переход повторяется на свежем значении займа.
func (s *Service) mutate(ctx context.Context, loanID int64, action string, fn transition) (*Outcome, error) {
	for attempt := 1; ; attempt++ {
		l, err := s.repo.GetLoan(ctx, loanID)
		if err != nil {
			return nil, storeErr(err, "Loan %d not found", loanID)
		}

		ch, err := fn(l, s.now().UTC())
		if err != nil {
			return nil, err
		}

		saved, err := s.repo.CommitLoan(ctx, model.LoanCommit{
			Loan:            ch.Loan,
			ExpectedVersion: l.Version,
			CustomerDelta:   ch.Delta,
			Payment:         ch.Payment,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.RecordConflict()
			s.logger.Debug("loan version conflict",
				zap.Int64("loan_id", loanID),
				zap.String("action", action),
				zap.Int("attempt", attempt),
			)
			if attempt < maxCommitAttempts {
				continue
			}
			return nil, apperr.Conflict("Loan %s was modified concurrently, try again", l.LoanNumber)
		}
		if err != nil {
			return nil, storeErr(err, "Loan %d not found", loanID)
		}

		s.metrics.RecordTransition(action)
		return &Outcome{Loan: saved, Warnings: s.dispatch(ctx, saved, ch.Effects)}, nil
	}
}

// dispatch выполняет побочные действия после фиксации. Сбои журналируются и
// возвращаются как предупреждения, но не отменяют операцию.
func (s *Service) dispatch(ctx context.Context, l model.Loan, effects []lifecycle.Effect) []string {
	var (
		warnings []string
		customer *model.Customer
	)
	// Фиксация уже произошла: отмена запроса не должна терять уведомления.
	base := context.WithoutCancel(ctx)

	for _, e := range effects {
		ectx, cancel := context.WithTimeout(base, s.effectTimeout)

		switch e := e.(type) {
		case lifecycle.Notify:
			if err := s.sendNotification(ectx, l, e, &customer); err != nil {
				s.metrics.RecordEffectFailure("notify")
				s.logger.Warn("notification failed",
					zap.String("loan_number", l.LoanNumber),
					zap.String("template", e.Template),
					zap.Stringer("audience", e.Audience),
					zap.Error(err),
				)
				warnings = append(warnings, fmt.Sprintf("Failed to send %s notification to %s", e.Template, e.Audience))
			}

		case lifecycle.Record:
			a := e.Activity
			if a.EntityType == "loan" && a.EntityID == 0 {
				a.EntityID = l.ID
			}
			if err := s.repo.LogActivity(ectx, a); err != nil {
				s.metrics.RecordEffectFailure("activity")
				s.logger.Warn("activity log failed",
					zap.String("loan_number", l.LoanNumber),
					zap.String("action", a.Action),
					zap.Error(err),
				)
				warnings = append(warnings, fmt.Sprintf("Failed to record %s activity", a.Action))
			}
		}

		cancel()
	}
	return warnings
}

func (s *Service) sendNotification(ctx context.Context, l model.Loan, n lifecycle.Notify, customer **model.Customer) error {
	if s.sender == nil {
		return errors.New("no notification sender configured")
	}

	var recipient string
	switch n.Audience {
	case lifecycle.AudienceAdmin:
		if s.adminEmail == "" {
			return errors.New("admin email is not configured")
		}
		recipient = s.adminEmail
	default:
		if *customer == nil {
			c, err := s.repo.GetCustomer(ctx, l.CustomerID)
			if err != nil {
				return fmt.Errorf("resolve customer %d: %w", l.CustomerID, err)
			}
			*customer = &c
		}
		recipient = (*customer).Email
		if n.Vars != nil {
			n.Vars["customer_name"] = (*customer).FullName
		}
	}

	return s.sender.Send(ctx, notify.Message{
		Template:  n.Template,
		Recipient: recipient,
		Vars:      n.Vars,
	})
}

// policyFor возвращает политику займа: снимок, а если его нет, живые настройки.
func (s *Service) policyFor(ctx context.Context, l model.Loan) (model.LoanSettings, error) {
	if l.Settings != nil {
		return *l.Settings, nil
	}
	s.logger.Warn("loan has no settings snapshot, falling back to live settings",
		zap.String("loan_number", l.LoanNumber),
		zap.String("status", string(l.Status)),
	)
	return s.liveSettings(ctx)
}

// liveSettings возвращает живые настройки; до первого сохранения действуют настройки по умолчанию.
func (s *Service) liveSettings(ctx context.Context) (model.LoanSettings, error) {
	live, err := s.repo.GetCurrentSettings(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return model.DefaultLoanSettings(), nil
	}
	if err != nil {
		return model.LoanSettings{}, storeErr(err, "Loan settings not found")
	}
	return live, nil
}

// storeErr переводит ошибки хранилища в классы apperr.
func storeErr(err error, notFound string, args ...any) error {
	var typed *apperr.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(notFound, args...)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperr.Conflict("Record was modified concurrently, try again")
	case errors.Is(err, repository.ErrLoanNumberExists):
		return apperr.Conflict("Loan number already exists")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return apperr.ServiceFailure(err, "Record store is unavailable")
}
