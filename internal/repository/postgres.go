// Package repository содержит реализации хранилища займов: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/money"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках: сбое сериализации, взаимоблокировке и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

// isConnectionError распознаёт ошибки, после которых запрос заведомо не дошёл до сервера.
func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const customerColumns = `id, full_name, email, phone, net_salary, next_salary_date,
	total_loans, active_loans, defaulted_loans, total_borrowed, total_repaid, created_at`

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var (
		c                        model.Customer
		salary, borrowed, repaid int64
	)
	err := row.Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &salary, &c.NextSalaryDate,
		&c.TotalLoans, &c.ActiveLoans, &c.DefaultedLoans, &borrowed, &repaid, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, err
	}
	c.NetSalary = money.FromCents(salary)
	c.TotalBorrowed = money.FromCents(borrowed)
	c.TotalRepaid = money.FromCents(repaid)
	return c, nil
}

// CreateCustomer создаёт заёмщика с нулевыми счётчиками.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c model.Customer) (model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO customers (full_name, email, phone, net_salary, next_salary_date)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+customerColumns,
		c.FullName, c.Email, c.Phone, money.ToCents(c.NetSalary), c.NextSalaryDate,
	)
	created, err := scanCustomer(row)
	if err != nil {
		return model.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	return created, nil
}

// GetCustomer возвращает заёмщика по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (model.Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Customer{}, fmt.Errorf("%w: customer %d", ErrNotFound, id)
		}
		return model.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// GetCurrentSettings возвращает живую запись настроек.
func (r *PostgresRepository) GetCurrentSettings(ctx context.Context) (model.LoanSettings, error) {
	var (
		data      []byte
		s         model.LoanSettings
		version   int64
		updatedAt time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT data, version, updated_at FROM loan_settings WHERE id = 1`,
	).Scan(&data, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LoanSettings{}, fmt.Errorf("%w: loan settings", ErrNotFound)
		}
		return model.LoanSettings{}, fmt.Errorf("get settings: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return model.LoanSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.Version = version
	s.UpdatedAt = updatedAt
	return s, nil
}

// SaveSettings заменяет живую запись настроек и увеличивает её версию.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.LoanSettings) (model.LoanSettings, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return model.LoanSettings{}, fmt.Errorf("encode settings: %w", err)
	}

	saved := *s.Snapshot()
	err = r.pool.QueryRow(ctx,
		`INSERT INTO loan_settings (id, data) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, version = loan_settings.version + 1, updated_at = now()
		 RETURNING version, updated_at`,
		data,
	).Scan(&saved.Version, &saved.UpdatedAt)
	if err != nil {
		return model.LoanSettings{}, fmt.Errorf("save settings: %w", err)
	}
	return saved, nil
}

// Порядок колонок совпадает с loanArgs.
var loanWriteColumns = []string{
	"loan_number", "customer_id", "status",
	"loan_amount", "term_days", "interest_rate", "interest_amount", "processing_fee",
	"disbursement_amount", "total_repayment", "amount_paid", "balance", "penalty_amount",
	"days_overdue",
	"application_date", "approval_date", "rejection_date", "disbursement_date", "due_date",
	"grace_period_end_date", "penalty_start_date", "default_date", "closure_date",
	"repayment_date", "last_reminder_date",
	"rejection_reason", "closure_reason", "approved_by", "settings_snapshot",
}

var (
	loanColumns   = "id, " + strings.Join(loanWriteColumns, ", ") + ", version, updated_at"
	insertLoanSQL = buildInsertLoan()
	updateLoanSQL = buildUpdateLoan()
)

func buildInsertLoan() string {
	ph := make([]string, len(loanWriteColumns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO loans (%s) VALUES (%s) RETURNING %s`,
		strings.Join(loanWriteColumns, ", "), strings.Join(ph, ", "), loanColumns)
}

// $1: id, $2: ожидаемая версия, далее колонки.
func buildUpdateLoan() string {
	set := make([]string, len(loanWriteColumns))
	for i, c := range loanWriteColumns {
		set[i] = fmt.Sprintf("%s = $%d", c, i+3)
	}
	return fmt.Sprintf(`UPDATE loans SET %s, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 RETURNING %s`, strings.Join(set, ", "), loanColumns)
}

func loanArgs(l model.Loan) ([]any, error) {
	var snapshot []byte
	if l.Settings != nil {
		var err error
		snapshot, err = json.Marshal(l.Settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings snapshot: %w", err)
		}
	}
	return []any{
		l.LoanNumber, l.CustomerID, string(l.Status),
		money.ToCents(l.LoanAmount), l.TermDays, l.InterestRate.String(),
		money.ToCents(l.InterestAmount), money.ToCents(l.ProcessingFee),
		money.ToCents(l.DisbursementAmount), money.ToCents(l.TotalRepayment),
		money.ToCents(l.AmountPaid), money.ToCents(l.Balance), money.ToCents(l.PenaltyAmount),
		l.DaysOverdue,
		l.ApplicationDate, l.ApprovalDate, l.RejectionDate, l.DisbursementDate, l.DueDate,
		l.GracePeriodEndDate, l.PenaltyStartDate, l.DefaultDate, l.ClosureDate,
		l.RepaymentDate, l.LastReminderDate,
		l.RejectionReason, l.ClosureReason, l.ApprovedBy, snapshot,
	}, nil
}

func scanLoan(row pgx.Row) (model.Loan, error) {
	var (
		l        model.Loan
		status   string
		rate     string
		snapshot []byte

		amount, interest, fee, disbursement, total, paid, balance, penalty int64
	)
	err := row.Scan(
		&l.ID, &l.LoanNumber, &l.CustomerID, &status,
		&amount, &l.TermDays, &rate, &interest, &fee,
		&disbursement, &total, &paid, &balance, &penalty,
		&l.DaysOverdue,
		&l.ApplicationDate, &l.ApprovalDate, &l.RejectionDate, &l.DisbursementDate, &l.DueDate,
		&l.GracePeriodEndDate, &l.PenaltyStartDate, &l.DefaultDate, &l.ClosureDate,
		&l.RepaymentDate, &l.LastReminderDate,
		&l.RejectionReason, &l.ClosureReason, &l.ApprovedBy, &snapshot,
		&l.Version, &l.UpdatedAt,
	)
	if err != nil {
		return model.Loan{}, err
	}

	l.Status = model.LoanStatus(status)
	if l.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return model.Loan{}, fmt.Errorf("decode interest rate %q: %w", rate, err)
	}
	l.LoanAmount = money.FromCents(amount)
	l.InterestAmount = money.FromCents(interest)
	l.ProcessingFee = money.FromCents(fee)
	l.DisbursementAmount = money.FromCents(disbursement)
	l.TotalRepayment = money.FromCents(total)
	l.AmountPaid = money.FromCents(paid)
	l.Balance = money.FromCents(balance)
	l.PenaltyAmount = money.FromCents(penalty)

	if len(snapshot) > 0 {
		var s model.LoanSettings
		if err := json.Unmarshal(snapshot, &s); err != nil {
			return model.Loan{}, fmt.Errorf("decode settings snapshot: %w", err)
		}
		l.Settings = &s
	}
	return l, nil
}

// applyCustomerDelta меняет счётчики заёмщика в рамках транзакции, не опуская их ниже нуля.
func applyCustomerDelta(ctx context.Context, tx pgx.Tx, customerID int64, d model.CustomerDelta) error {
	tag, err := tx.Exec(ctx,
		`UPDATE customers SET
		    total_loans     = GREATEST(0, total_loans + $2),
		    active_loans    = GREATEST(0, active_loans + $3),
		    defaulted_loans = GREATEST(0, defaulted_loans + $4),
		    total_borrowed  = GREATEST(0, total_borrowed + $5),
		    total_repaid    = GREATEST(0, total_repaid + $6)
		 WHERE id = $1`,
		customerID, d.TotalLoans, d.ActiveLoans, d.DefaultedLoans,
		money.ToCents(d.TotalBorrowed), money.ToCents(d.TotalRepaid),
	)
	if err != nil {
		return fmt.Errorf("update customer counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: customer %d", ErrNotFound, customerID)
	}
	return nil
}

// CreateLoan сохраняет новый заём и в той же транзакции применяет изменение счётчиков заёмщика.
func (r *PostgresRepository) CreateLoan(ctx context.Context, l model.Loan, delta model.CustomerDelta) (model.Loan, error) {
	args, err := loanArgs(l)
	if err != nil {
		return model.Loan{}, err
	}

	var created model.Loan
	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		created, err = scanLoan(tx.QueryRow(ctx, insertLoanSQL, args...))
		if err != nil {
			switch pgCode(err) {
			case pgerrcode.UniqueViolation:
				return fmt.Errorf("%w: %s", ErrLoanNumberExists, l.LoanNumber)
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%w: customer %d", ErrNotFound, l.CustomerID)
			}
			return fmt.Errorf("insert loan: %w", err)
		}

		if !delta.IsZero() {
			if err := applyCustomerDelta(ctx, tx, l.CustomerID, delta); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Loan{}, err
	}
	return created, nil
}

// GetLoan возвращает заём по идентификатору.
func (r *PostgresRepository) GetLoan(ctx context.Context, id int64) (model.Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Loan{}, fmt.Errorf("%w: loan %d", ErrNotFound, id)
		}
		return model.Loan{}, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

// GetLoanByNumber возвращает заём по его номеру.
func (r *PostgresRepository) GetLoanByNumber(ctx context.Context, number string) (model.Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE loan_number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Loan{}, fmt.Errorf("%w: loan %s", ErrNotFound, number)
		}
		return model.Loan{}, fmt.Errorf("get loan by number: %w", err)
	}
	return l, nil
}

// ListLoans возвращает займы, удовлетворяющие всем условиям фильтра, в порядке срока погашения.
func (r *PostgresRepository) ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT ` + loanColumns + ` FROM loans WHERE TRUE`)

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		fmt.Fprintf(&q, ` AND status = ANY($%d)`, len(args))
	}
	if f.DueBefore != nil {
		args = append(args, *f.DueBefore)
		fmt.Fprintf(&q, ` AND due_date < $%d`, len(args))
	}
	if f.CustomerID != 0 {
		args = append(args, f.CustomerID)
		fmt.Fprintf(&q, ` AND customer_id = $%d`, len(args))
	}
	q.WriteString(` ORDER BY due_date NULLS LAST, id`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&q, ` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return loans, nil
}

// CommitLoan атомарно сохраняет результат перехода: заём, счётчики заёмщика и платёж.
// Если версия займа в БД отличается от ожидаемой, возвращается ErrVersionConflict.
func (r *PostgresRepository) CommitLoan(ctx context.Context, c model.LoanCommit) (model.Loan, error) {
	args, err := loanArgs(c.Loan)
	if err != nil {
		return model.Loan{}, err
	}
	args = append([]any{c.Loan.ID, c.ExpectedVersion}, args...)

	var saved model.Loan
	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		saved, err = scanLoan(tx.QueryRow(ctx, updateLoanSQL, args...))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("update loan: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, c.Loan.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check loan: %w", err)
			}
			if !exists {
				return fmt.Errorf("%w: loan %d", ErrNotFound, c.Loan.ID)
			}
			return fmt.Errorf("%w: loan %d at version %d", ErrVersionConflict, c.Loan.ID, c.ExpectedVersion)
		}

		if !c.CustomerDelta.IsZero() {
			if err := applyCustomerDelta(ctx, tx, c.Loan.CustomerID, c.CustomerDelta); err != nil {
				return err
			}
		}

		if p := c.Payment; p != nil {
			_, err = tx.Exec(ctx,
				`INSERT INTO payments (id, loan_id, customer_id, amount, method, reference, paid_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, p.LoanID, p.CustomerID, money.ToCents(p.Amount), p.Method, p.Reference, p.PaidAt,
			)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Loan{}, err
	}
	return saved, nil
}

// ListPayments возвращает платежи по займу в порядке поступления.
func (r *PostgresRepository) ListPayments(ctx context.Context, loanID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, loan_id, customer_id, amount, method, reference, paid_at
		 FROM payments
		 WHERE loan_id = $1
		 ORDER BY paid_at`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var (
			p     model.Payment
			cents int64
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &p.CustomerID, &cents, &p.Method, &p.Reference, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = money.FromCents(cents)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// LogActivity добавляет запись в журнал действий.
func (r *PostgresRepository) LogActivity(ctx context.Context, a model.Activity) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_log (actor_id, action, entity_type, entity_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ActorID, a.Action, a.EntityType, a.EntityID, meta, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity возвращает журнал действий по сущности.
func (r *PostgresRepository) ListActivity(ctx context.Context, entityType string, entityID int64) ([]model.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT actor_id, action, entity_type, entity_id, metadata, created_at
		 FROM activity_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at, id`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	var res []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ActorID, &a.Action, &a.EntityType, &a.EntityID, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateApplicationLink сохраняет ссылку на анкету.
func (r *PostgresRepository) CreateApplicationLink(ctx context.Context, link model.ApplicationLink) error {
	var customerID *int64
	if link.CustomerID != 0 {
		customerID = &link.CustomerID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO application_links (token, customer_id, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		link.Token, customerID, string(link.Status), link.ExpiresAt, link.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: customer %d", ErrNotFound, link.CustomerID)
		}
		return fmt.Errorf("insert application link: %w", err)
	}
	return nil
}

// GetApplicationLink возвращает ссылку по токену.
func (r *PostgresRepository) GetApplicationLink(ctx context.Context, token uuid.UUID) (model.ApplicationLink, error) {
	var (
		link       model.ApplicationLink
		customerID *int64
		status     string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT token, customer_id, status, expires_at, created_at FROM application_links WHERE token = $1`,
		token,
	).Scan(&link.Token, &customerID, &status, &link.ExpiresAt, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ApplicationLink{}, fmt.Errorf("%w: application link %s", ErrNotFound, token)
		}
		return model.ApplicationLink{}, fmt.Errorf("get application link: %w", err)
	}
	if customerID != nil {
		link.CustomerID = *customerID
	}
	link.Status = model.LinkStatus(status)
	return link, nil
}

// ExpireApplicationLinks помечает просроченными активные ссылки, срок которых истёк к моменту now.
func (r *PostgresRepository) ExpireApplicationLinks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE application_links SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		string(model.LinkStatusExpired), string(model.LinkStatusActive), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire application links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeApplicationLinks удаляет просроченные ссылки, истёкшие раньше before.
func (r *PostgresRepository) PurgeApplicationLinks(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM application_links WHERE status = $1 AND expires_at < $2`,
		string(model.LinkStatusExpired), before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge application links: %w", err)
	}
	return tag.RowsAffected(), nil
}
