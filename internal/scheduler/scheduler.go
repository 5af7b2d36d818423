// Package scheduler выполняет периодические задания эскалации займов.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loan-backoffice/internal/datetime"
	"github.com/mmeshcher/loan-backoffice/internal/metrics"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/permission"
)

// JobID идентифицирует задание.
type JobID string

const (
	JobPaymentReminder    JobID = "payment_reminder"
	JobOverdueCheck       JobID = "overdue_check"
	JobPenaltyCalculation JobID = "penalty_calculation"
	JobDefaultCheck       JobID = "default_check"
	JobLinkExpiry         JobID = "link_expiry"
	JobSystemCleanup      JobID = "system_cleanup"
)

// Jobs перечисляет задания в порядке запуска по таймеру.
var Jobs = []JobID{
	JobPaymentReminder,
	JobOverdueCheck,
	JobPenaltyCalculation,
	JobDefaultCheck,
	JobLinkExpiry,
	JobSystemCleanup,
}

// ErrUnknownJob возвращается для неизвестного идентификатора задания.
var ErrUnknownJob = errors.New("unknown job")

// ParseJobID проверяет идентификатор задания.
func ParseJobID(s string) (JobID, error) {
	for _, id := range Jobs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

const (
	// Напоминания рассылаются за 3, 2, 1 и 0 дней до срока.
	reminderWindowDays = 4
	// DefaultLinkRetention задаёт, сколько хранятся истёкшие ссылки на анкету.
	DefaultLinkRetention = 30 * 24 * time.Hour
)

// JobResult содержит итог одного запуска задания.
type JobResult struct {
	Job       JobID         `json:"job"`
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Errors    []string      `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Partial   bool          `json:"partial"`
}

// Escalator описывает операции сервиса, которыми пользуются задания.
type Escalator interface {
	ListLoans(ctx context.Context, f model.LoanFilter, actor permission.Actor) ([]model.Loan, error)
	SendPaymentReminder(ctx context.Context, loanID int64) (bool, error)
	CheckOverdue(ctx context.Context, loanID int64) (bool, error)
	ApplyPenalty(ctx context.Context, loanID int64) (bool, error)
	CheckDefault(ctx context.Context, loanID int64) (bool, error)
	ExpireApplicationLinks(ctx context.Context) (int64, error)
	PurgeExpiredLinks(ctx context.Context, retention time.Duration) (int64, error)
}

// Options содержит необязательные параметры планировщика.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Budget ограничивает общее время одного запуска задания. Ноль снимает ограничение.
	Budget        time.Duration
	LinkRetention time.Duration
	Now           func() time.Time
}

// Scheduler запускает задания эскалации.
type Scheduler struct {
	esc       Escalator
	logger    *zap.Logger
	metrics   *metrics.Collector
	budget    time.Duration
	retention time.Duration
	now       func() time.Time
}

// New создаёт планировщик.
func New(esc Escalator, opts Options) *Scheduler {
	s := &Scheduler{
		esc:       esc,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		budget:    opts.Budget,
		retention: opts.LinkRetention,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.retention <= 0 {
		s.retention = DefaultLinkRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunJob запускает задание по идентификатору.
func (s *Scheduler) RunJob(ctx context.Context, id JobID) JobResult {
	switch id {
	case JobPaymentReminder:
		return s.PaymentReminders(ctx)
	case JobOverdueCheck:
		return s.OverdueCheck(ctx)
	case JobPenaltyCalculation:
		return s.PenaltyCalculation(ctx)
	case JobDefaultCheck:
		return s.DefaultCheck(ctx)
	case JobLinkExpiry:
		return s.LinkExpiry(ctx)
	case JobSystemCleanup:
		return s.SystemCleanup(ctx)
	}
	return JobResult{Job: id, Errors: []string{fmt.Sprintf("%s: %q", ErrUnknownJob, id)}}
}

// Start запускает все задания по таймеру, пока не отменён ctx.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range Jobs {
				if ctx.Err() != nil {
					return
				}
				s.RunJob(ctx, id)
			}
		}
	}
}

// PaymentReminders напоминает о сроках, наступающих в ближайшие дни.
func (s *Scheduler) PaymentReminders(ctx context.Context) JobResult {
	until := datetime.AddDays(datetime.StartOfDay(s.now()), reminderWindowDays)
	return s.sweep(ctx, JobPaymentReminder, model.LoanFilter{
		Statuses:  model.RepayingStatuses,
		DueBefore: &until,
	}, s.esc.SendPaymentReminder)
}

// OverdueCheck отмечает просроченные займы и обновляет дни просрочки.
func (s *Scheduler) OverdueCheck(ctx context.Context) JobResult {
	today := datetime.StartOfDay(s.now())
	return s.sweep(ctx, JobOverdueCheck, model.LoanFilter{
		Statuses: []model.LoanStatus{
			model.LoanStatusDisbursed,
			model.LoanStatusPartiallyPaid,
			model.LoanStatusOverdue,
			model.LoanStatusPenaltyAccruing,
		},
		DueBefore: &today,
	}, s.esc.CheckOverdue)
}

// PenaltyCalculation начисляет разовый штраф займам за пределами льготного периода.
func (s *Scheduler) PenaltyCalculation(ctx context.Context) JobResult {
	today := datetime.StartOfDay(s.now())
	return s.sweep(ctx, JobPenaltyCalculation, model.LoanFilter{
		Statuses: []model.LoanStatus{
			model.LoanStatusDisbursed,
			model.LoanStatusPartiallyPaid,
			model.LoanStatusOverdue,
		},
		DueBefore: &today,
	}, s.esc.ApplyPenalty)
}

// DefaultCheck переводит в дефолт займы с истёкшим штрафным периодом.
func (s *Scheduler) DefaultCheck(ctx context.Context) JobResult {
	return s.sweep(ctx, JobDefaultCheck, model.LoanFilter{
		Statuses: []model.LoanStatus{model.LoanStatusPenaltyAccruing},
	}, s.esc.CheckDefault)
}

// LinkExpiry помечает истёкшие ссылки на анкету.
func (s *Scheduler) LinkExpiry(ctx context.Context) JobResult {
	return s.housekeeping(ctx, JobLinkExpiry, s.esc.ExpireApplicationLinks)
}

// SystemCleanup удаляет давно истёкшие ссылки.
func (s *Scheduler) SystemCleanup(ctx context.Context) JobResult {
	return s.housekeeping(ctx, JobSystemCleanup, func(ctx context.Context) (int64, error) {
		return s.esc.PurgeExpiredLinks(ctx, s.retention)
	})
}

func (s *Scheduler) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.budget)
}

// sweep обрабатывает займы по одному. Ошибка по отдельному займу не прерывает обход.
func (s *Scheduler) sweep(ctx context.Context, job JobID, f model.LoanFilter, step func(context.Context, int64) (bool, error)) JobResult {
	start := time.Now()
	res := JobResult{Job: job}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	loans, err := s.esc.ListLoans(ctx, f, permission.System)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("list loans: %v", err)}
		return s.finish(res, start)
	}

	for i, l := range loans {
		if ctx.Err() != nil {
			res.Partial = true
			res.Errors = append(res.Errors, fmt.Sprintf("budget exhausted, %d loans skipped", len(loans)-i))
			break
		}

		changed, err := step(ctx, l.ID)
		if err != nil {
			s.logger.Warn("job item failed",
				zap.String("job", string(job)),
				zap.Int64("loan_id", l.ID),
				zap.String("loan_number", l.LoanNumber),
				zap.Error(err),
			)
			res.Errors = append(res.Errors, fmt.Sprintf("loan %d: %v", l.ID, err))
			continue
		}
		if changed {
			res.Processed++
		}
	}

	res.Success = !res.Partial
	return s.finish(res, start)
}

func (s *Scheduler) housekeeping(ctx context.Context, job JobID, fn func(context.Context) (int64, error)) JobResult {
	start := time.Now()
	res := JobResult{Job: job}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	n, err := fn(ctx)
	if err != nil {
		res.Errors = []string{err.Error()}
		return s.finish(res, start)
	}
	res.Processed = int(n)
	res.Success = true
	return s.finish(res, start)
}

func (s *Scheduler) finish(res JobResult, start time.Time) JobResult {
	res.Duration = time.Since(start)

	result := metrics.ResultSuccess
	switch {
	case !res.Success && !res.Partial:
		result = metrics.ResultFailure
	case res.Partial:
		result = metrics.ResultPartial
	}
	s.metrics.RecordJob(string(res.Job), res.Processed, len(res.Errors), res.Duration, result)

	fields := []zap.Field{
		zap.String("job", string(res.Job)),
		zap.Int("processed", res.Processed),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration),
	}
	switch result {
	case metrics.ResultFailure:
		s.logger.Error("job failed", append(fields, zap.Strings("details", res.Errors))...)
	case metrics.ResultPartial:
		s.logger.Warn("job stopped by budget", fields...)
	default:
		s.logger.Info("job finished", fields...)
	}
	return res
}
