package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loan-backoffice/internal/model"
)

// MemoryRepository хранит данные в памяти процесса.
// Семантика версий та же, что у PostgresRepository; используется без DATABASE_URI и в тестах.
type MemoryRepository struct {
	mu sync.RWMutex

	customers map[int64]model.Customer
	loans     map[int64]model.Loan
	numbers   map[string]int64
	payments  map[int64][]model.Payment
	activity  []model.Activity
	links     map[uuid.UUID]model.ApplicationLink
	settings  *model.LoanSettings

	nextCustomerID int64
	nextLoanID     int64

	now func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers: make(map[int64]model.Customer),
		loans:     make(map[int64]model.Loan),
		numbers:   make(map[string]int64),
		payments:  make(map[int64][]model.Payment),
		links:     make(map[uuid.UUID]model.ApplicationLink),
		now:       time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreateCustomer создаёт заёмщика с нулевыми счётчиками.
func (r *MemoryRepository) CreateCustomer(_ context.Context, c model.Customer) (model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCustomerID++
	c.ID = r.nextCustomerID
	c.TotalLoans, c.ActiveLoans, c.DefaultedLoans = 0, 0, 0
	c.TotalBorrowed, c.TotalRepaid = decimal.Zero, decimal.Zero
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.customers[c.ID] = c
	return c, nil
}

// GetCustomer возвращает заёмщика по идентификатору.
func (r *MemoryRepository) GetCustomer(_ context.Context, id int64) (model.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[id]
	if !ok {
		return model.Customer{}, fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	return c, nil
}

// GetCurrentSettings возвращает живую запись настроек.
func (r *MemoryRepository) GetCurrentSettings(_ context.Context) (model.LoanSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.settings == nil {
		return model.LoanSettings{}, fmt.Errorf("%w: loan settings", ErrNotFound)
	}
	return *r.settings, nil
}

// SaveSettings заменяет живую запись настроек и увеличивает её версию.
func (r *MemoryRepository) SaveSettings(_ context.Context, s model.LoanSettings) (model.LoanSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := *s.Snapshot()
	saved.Version = 1
	if r.settings != nil {
		saved.Version = r.settings.Version + 1
	}
	saved.UpdatedAt = r.now()
	r.settings = &saved
	return saved, nil
}

// CreateLoan сохраняет новый заём и применяет изменение счётчиков заёмщика.
func (r *MemoryRepository) CreateLoan(_ context.Context, l model.Loan, delta model.CustomerDelta) (model.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[l.CustomerID]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: customer %d", ErrNotFound, l.CustomerID)
	}
	if _, ok := r.numbers[l.LoanNumber]; ok {
		return model.Loan{}, fmt.Errorf("%w: %s", ErrLoanNumberExists, l.LoanNumber)
	}

	r.nextLoanID++
	l = l.Clone()
	l.ID = r.nextLoanID
	l.Version = 1
	l.UpdatedAt = r.now()
	r.loans[l.ID] = l
	r.numbers[l.LoanNumber] = l.ID

	c.Apply(delta)
	r.customers[c.ID] = c

	return l.Clone(), nil
}

// GetLoan возвращает заём по идентификатору.
func (r *MemoryRepository) GetLoan(_ context.Context, id int64) (model.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.loans[id]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %d", ErrNotFound, id)
	}
	return l.Clone(), nil
}

// GetLoanByNumber возвращает заём по его номеру.
func (r *MemoryRepository) GetLoanByNumber(_ context.Context, number string) (model.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.numbers[number]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %s", ErrNotFound, number)
	}
	return r.loans[id].Clone(), nil
}

func matches(l model.Loan, f model.LoanFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
		return false
	}
	if f.DueBefore != nil && (l.DueDate == nil || !l.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.CustomerID != 0 && l.CustomerID != f.CustomerID {
		return false
	}
	return true
}

// ListLoans возвращает займы, удовлетворяющие всем условиям фильтра, в порядке срока погашения.
func (r *MemoryRepository) ListLoans(_ context.Context, f model.LoanFilter) ([]model.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Loan
	for _, l := range r.loans {
		if matches(l, f) {
			res = append(res, l.Clone())
		}
	}

	slices.SortFunc(res, func(a, b model.Loan) int {
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return 1
		case a.DueDate != nil && b.DueDate == nil:
			return -1
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Compare(*b.DueDate)
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

// CommitLoan атомарно сохраняет результат перехода.
// Если сохранённая версия займа отличается от ожидаемой, возвращается ErrVersionConflict.
func (r *MemoryRepository) CommitLoan(_ context.Context, c model.LoanCommit) (model.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.loans[c.Loan.ID]
	if !ok {
		return model.Loan{}, fmt.Errorf("%w: loan %d", ErrNotFound, c.Loan.ID)
	}
	if stored.Version != c.ExpectedVersion {
		return model.Loan{}, fmt.Errorf("%w: loan %d at version %d", ErrVersionConflict, c.Loan.ID, c.ExpectedVersion)
	}

	customer, ok := r.customers[c.Loan.CustomerID]
	if !ok && !c.CustomerDelta.IsZero() {
		return model.Loan{}, fmt.Errorf("%w: customer %d", ErrNotFound, c.Loan.CustomerID)
	}

	l := c.Loan.Clone()
	l.Version = stored.Version + 1
	l.UpdatedAt = r.now()
	r.loans[l.ID] = l

	if !c.CustomerDelta.IsZero() {
		customer.Apply(c.CustomerDelta)
		r.customers[customer.ID] = customer
	}
	if c.Payment != nil {
		r.payments[l.ID] = append(r.payments[l.ID], *c.Payment)
	}

	return l.Clone(), nil
}

// ListPayments возвращает платежи по займу в порядке поступления.
func (r *MemoryRepository) ListPayments(_ context.Context, loanID int64) ([]model.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.payments[loanID]), nil
}

// LogActivity добавляет запись в журнал действий.
func (r *MemoryRepository) LogActivity(_ context.Context, a model.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activity = append(r.activity, a)
	return nil
}

// ListActivity возвращает журнал действий по сущности.
func (r *MemoryRepository) ListActivity(_ context.Context, entityType string, entityID int64) ([]model.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Activity
	for _, a := range r.activity {
		if a.EntityType == entityType && a.EntityID == entityID {
			res = append(res, a)
		}
	}
	return res, nil
}

// CreateApplicationLink сохраняет ссылку на анкету.
func (r *MemoryRepository) CreateApplicationLink(_ context.Context, link model.ApplicationLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if link.CustomerID != 0 {
		if _, ok := r.customers[link.CustomerID]; !ok {
			return fmt.Errorf("%w: customer %d", ErrNotFound, link.CustomerID)
		}
	}
	r.links[link.Token] = link
	return nil
}

// GetApplicationLink возвращает ссылку по токену.
func (r *MemoryRepository) GetApplicationLink(_ context.Context, token uuid.UUID) (model.ApplicationLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[token]
	if !ok {
		return model.ApplicationLink{}, fmt.Errorf("%w: application link %s", ErrNotFound, token)
	}
	return link, nil
}

// ExpireApplicationLinks помечает просроченными активные ссылки, срок которых истёк к моменту now.
func (r *MemoryRepository) ExpireApplicationLinks(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, link := range r.links {
		if link.Status == model.LinkStatusActive && !link.ExpiresAt.After(now) {
			link.Status = model.LinkStatusExpired
			r.links[token] = link
			n++
		}
	}
	return n, nil
}

// PurgeApplicationLinks удаляет просроченные ссылки, истёкшие раньше before.
func (r *MemoryRepository) PurgeApplicationLinks(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, link := range r.links {
		if link.Status == model.LinkStatusExpired && link.ExpiresAt.Before(before) {
			delete(r.links, token)
			n++
		}
	}
	return n, nil
}
