package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/loancalc"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/money"
	"github.com/mmeshcher/loan-backoffice/internal/permission"
)

// DefaultLinkTTL задаёт срок жизни ссылки на анкету, если он не указан.
const DefaultLinkTTL = 72 * time.Hour

// CustomerInput содержит данные нового заёмщика.
type CustomerInput struct {
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	NetSalary      decimal.Decimal `json:"net_salary"`
	NextSalaryDate *time.Time      `json:"next_salary_date"`
}

// CreateCustomer регистрирует заёмщика.
func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput, actor permission.Actor) (model.Customer, error) {
	if err := permission.Require(actor, permission.CustomersCreate); err != nil {
		return model.Customer{}, err
	}

	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return model.Customer{}, apperr.Validation("Full name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return model.Customer{}, apperr.Validation("Email %q is not valid", in.Email)
	}
	if in.NetSalary.IsNegative() || !money.IsCents(in.NetSalary) {
		return model.Customer{}, apperr.Validation("Net salary must be a non-negative amount with at most 2 decimal places")
	}

	c, err := s.repo.CreateCustomer(ctx, model.Customer{
		FullName:       name,
		Email:          addr.Address,
		Phone:          strings.TrimSpace(in.Phone),
		NetSalary:      in.NetSalary,
		NextSalaryDate: in.NextSalaryDate,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return model.Customer{}, storeErr(err, "Customer not found")
	}

	s.logActivity(ctx, model.Activity{
		ActorID:    actor.ID,
		Action:     "customer_created",
		EntityType: "customer",
		EntityID:   c.ID,
		CreatedAt:  c.CreatedAt,
	})
	return c, nil
}

// GetCustomer возвращает заёмщика со счётчиками.
func (s *Service) GetCustomer(ctx context.Context, id int64, actor permission.Actor) (model.Customer, error) {
	if err := permission.Require(actor, permission.CustomersView); err != nil {
		return model.Customer{}, err
	}
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return model.Customer{}, storeErr(err, "Customer %d not found", id)
	}
	return c, nil
}

// CreateApplicationLink выпускает ссылку на анкету. customerID может быть нулевым для нового заёмщика.
func (s *Service) CreateApplicationLink(ctx context.Context, customerID int64, ttl time.Duration, actor permission.Actor) (model.ApplicationLink, error) {
	if err := permission.Require(actor, permission.CustomersCreate); err != nil {
		return model.ApplicationLink{}, err
	}
	if ttl < 0 {
		return model.ApplicationLink{}, apperr.Validation("Link lifetime must not be negative")
	}
	if ttl == 0 {
		ttl = DefaultLinkTTL
	}

	now := s.now().UTC()
	link := model.ApplicationLink{
		Token:      uuid.New(),
		CustomerID: customerID,
		Status:     model.LinkStatusActive,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.repo.CreateApplicationLink(ctx, link); err != nil {
		return model.ApplicationLink{}, storeErr(err, "Customer %d not found", customerID)
	}
	return link, nil
}

// GetApplicationLink возвращает действующую ссылку. Для истёкшей ссылки возвращается ошибка валидации.
func (s *Service) GetApplicationLink(ctx context.Context, token uuid.UUID, actor permission.Actor) (model.ApplicationLink, error) {
	if err := permission.Require(actor, permission.CustomersView); err != nil {
		return model.ApplicationLink{}, err
	}
	link, err := s.repo.GetApplicationLink(ctx, token)
	if err != nil {
		return model.ApplicationLink{}, storeErr(err, "Application link %s not found", token)
	}
	if link.Status != model.LinkStatusActive || !link.ExpiresAt.After(s.now()) {
		return model.ApplicationLink{}, apperr.Validation("Application link has expired")
	}
	return link, nil
}

// GetSettings возвращает живые настройки.
func (s *Service) GetSettings(ctx context.Context, actor permission.Actor) (model.LoanSettings, error) {
	if err := permission.Require(actor, permission.LoansView); err != nil {
		return model.LoanSettings{}, err
	}
	return s.liveSettings(ctx)
}

// UpdateSettings заменяет живые настройки. Уже одобренные займы продолжают жить по своим снимкам.
func (s *Service) UpdateSettings(ctx context.Context, in model.LoanSettings, actor permission.Actor) (model.LoanSettings, error) {
	if err := permission.Require(actor, permission.SettingsUpdate); err != nil {
		return model.LoanSettings{}, err
	}
	if err := in.Validate(); err != nil {
		return model.LoanSettings{}, apperr.Validation("Invalid loan settings: %s", err)
	}

	saved, err := s.repo.SaveSettings(ctx, in)
	if err != nil {
		return model.LoanSettings{}, storeErr(err, "Loan settings not found")
	}

	s.logActivity(ctx, model.Activity{
		ActorID:    actor.ID,
		Action:     "settings_updated",
		EntityType: "settings",
		EntityID:   saved.Version,
		Metadata:   map[string]any{"version": saved.Version},
		CreatedAt:  s.now().UTC(),
	})
	return saved, nil
}

// QuoteInput содержит параметры предварительного расчёта.
type QuoteInput struct {
	Amount     decimal.Decimal `json:"amount"`
	TermDays   int             `json:"term_days"`
	CustomerID int64           `json:"customer_id"`
}

// QuoteResult содержит расчёт займа и, если указан заёмщик, результат проверки его права на заём.
type QuoteResult struct {
	loancalc.Quote
	Eligibility *loancalc.Validation `json:"eligibility,omitempty"`
	MaxAmount   *decimal.Decimal     `json:"max_amount,omitempty"`
}

// Quote рассчитывает заём по живым настройкам, ничего не сохраняя.
func (s *Service) Quote(ctx context.Context, in QuoteInput, actor permission.Actor) (QuoteResult, error) {
	if err := permission.Require(actor, permission.LoansView); err != nil {
		return QuoteResult{}, err
	}
	if v := loancalc.ValidateTerm(in.TermDays); !v.Valid {
		return QuoteResult{}, apperr.Validation("%s", v.Reason)
	}
	if !in.Amount.IsPositive() {
		return QuoteResult{}, apperr.Validation("Loan amount must be positive")
	}

	live, err := s.liveSettings(ctx)
	if err != nil {
		return QuoteResult{}, err
	}

	res := QuoteResult{Quote: loancalc.Calculate(in.Amount, in.TermDays, live)}
	if in.CustomerID != 0 {
		c, err := s.repo.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return QuoteResult{}, storeErr(err, "Customer %d not found", in.CustomerID)
		}
		v := loancalc.ValidateEligibility(in.Amount, in.TermDays, c.NetSalary, live)
		limit := loancalc.MaxLoanFromSalary(c.NetSalary, live)
		res.Eligibility = &v
		res.MaxAmount = &limit
	}
	return res, nil
}

// logActivity пишет запись журнала вне перехода займа; сбой только журналируется.
func (s *Service) logActivity(ctx context.Context, a model.Activity) {
	if err := s.repo.LogActivity(ctx, a); err != nil {
		s.metrics.RecordEffectFailure("activity")
		s.logger.Warn("activity log failed", zap.String("action", a.Action), zap.Error(err))
	}
}
