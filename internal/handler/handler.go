// Package handler содержит HTTP-обработчики API бэк-офиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loan-backoffice/internal/apperr"
	"github.com/mmeshcher/loan-backoffice/internal/lifecycle"
	"github.com/mmeshcher/loan-backoffice/internal/middleware"
	"github.com/mmeshcher/loan-backoffice/internal/model"
	"github.com/mmeshcher/loan-backoffice/internal/permission"
	"github.com/mmeshcher/loan-backoffice/internal/scheduler"
	"github.com/mmeshcher/loan-backoffice/internal/service"
	"github.com/mmeshcher/loan-backoffice/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCustomer(ctx context.Context, in service.CustomerInput, actor permission.Actor) (model.Customer, error)
	GetCustomer(ctx context.Context, id int64, actor permission.Actor) (model.Customer, error)
	CreateApplicationLink(ctx context.Context, customerID int64, ttl time.Duration, actor permission.Actor) (model.ApplicationLink, error)
	GetApplicationLink(ctx context.Context, token uuid.UUID, actor permission.Actor) (model.ApplicationLink, error)

	GetSettings(ctx context.Context, actor permission.Actor) (model.LoanSettings, error)
	UpdateSettings(ctx context.Context, in model.LoanSettings, actor permission.Actor) (model.LoanSettings, error)
	Quote(ctx context.Context, in service.QuoteInput, actor permission.Actor) (service.QuoteResult, error)

	CreateLoan(ctx context.Context, in lifecycle.CreateInput, actor permission.Actor) (*service.Outcome, error)
	Approve(ctx context.Context, loanID int64, approvedAmount *decimal.Decimal, actor permission.Actor) (*service.Outcome, error)
	Reject(ctx context.Context, loanID int64, reason string, actor permission.Actor) (*service.Outcome, error)
	Disburse(ctx context.Context, loanID int64, actor permission.Actor) (*service.Outcome, error)
	RecordPayment(ctx context.Context, loanID int64, in lifecycle.PaymentInput, actor permission.Actor) (*service.Outcome, error)
	WaivePenalty(ctx context.Context, loanID int64, amount decimal.Decimal, reason string, actor permission.Actor) (*service.Outcome, error)
	MarkDefaulted(ctx context.Context, loanID int64, actor permission.Actor) (*service.Outcome, error)
	Close(ctx context.Context, loanID int64, reason string, actor permission.Actor) (*service.Outcome, error)

	GetLoan(ctx context.Context, loanID int64, actor permission.Actor) (model.Loan, error)
	GetLoanByNumber(ctx context.Context, number string, actor permission.Actor) (model.Loan, error)
	ListLoans(ctx context.Context, f model.LoanFilter, actor permission.Actor) ([]model.Loan, error)
	ListPayments(ctx context.Context, loanID int64, actor permission.Actor) ([]model.Payment, error)
	ListActivity(ctx context.Context, loanID int64, actor permission.Actor) ([]model.Activity, error)
}

// JobRunner запускает задания эскалации по запросу.
type JobRunner interface {
	RunJob(ctx context.Context, id scheduler.JobID) scheduler.JobResult
}

// Handler реализует HTTP-обработчики API бэк-офиса.
type Handler struct {
	service        Service
	jobs           JobRunner
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metricsHandler может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, jobs JobRunner, logger *zap.Logger, auth *middleware.AuthMiddleware, metricsHandler http.Handler) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		jobs:           jobs,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metricsHandler,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит класс ошибки в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindServiceFailure:
		status = http.StatusServiceUnavailable
	}

	msg, typed := apperr.MessageOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Error(err),
		)
	}
	if !typed {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (permission.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type loanResponse struct {
	model.Loan
	Capabilities model.Capabilities `json:"capabilities"`
	Warnings     []string           `json:"warnings,omitempty"`
}

func newLoanResponse(l model.Loan, warnings []string) loanResponse {
	return loanResponse{Loan: l, Capabilities: model.CapabilitiesFor(l.Status), Warnings: warnings}
}

// CreateCustomer регистрирует заёмщика.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req service.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateCustomer(r.Context(), req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCustomer возвращает заёмщика.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCustomer(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type linkRequest struct {
	CustomerID int64 `json:"customer_id"`
	TTLHours   int   `json:"ttl_hours"`
}

// CreateApplicationLink выпускает ссылку на анкету.
func (h *Handler) CreateApplicationLink(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req linkRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	link, err := h.service.CreateApplicationLink(r.Context(), req.CustomerID, time.Duration(req.TTLHours)*time.Hour, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// GetApplicationLink возвращает действующую ссылку.
func (h *Handler) GetApplicationLink(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	link, err := h.service.GetApplicationLink(r.Context(), token, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// GetSettings возвращает живые настройки.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	s, err := h.service.GetSettings(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettings заменяет живые настройки.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req model.LoanSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.service.UpdateSettings(r.Context(), req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Quote рассчитывает заём без сохранения.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req service.QuoteInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	q, err := h.service.Quote(r.Context(), req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// CreateLoan оформляет заявку.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	out, err := h.service.CreateLoan(r.Context(), req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(out.Loan, out.Warnings))
}

// ListLoans возвращает займы по фильтру из строки запроса:
// status (через запятую), customer_id, due_before (YYYY-MM-DD), limit.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	f, err := parseLoanFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	loans, err := h.service.ListLoans(r.Context(), f, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, newLoanResponse(l, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLoanFilter(r *http.Request) (model.LoanFilter, error) {
	var f model.LoanFilter
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseLoanStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, errors.New("customer_id must be an integer")
		}
		f.CustomerID = id
	}
	if raw := q.Get("due_before"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return f, errors.New("due_before must be a date in YYYY-MM-DD format")
		}
		f.DueBefore = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, errors.New("limit must be an integer")
		}
		f.Limit = n
	}
	return f, nil
}

// GetLoan возвращает заём по идентификатору.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	l, err := h.service.GetLoan(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l, nil))
}

// GetLoanByNumber возвращает заём по номеру.
func (h *Handler) GetLoanByNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	number := chi.URLParam(r, "number")
	if !validation.IsValidLoanNumber(number) {
		h.writeError(w, r, apperr.Validation("Invalid loan number %q", number))
		return
	}

	l, err := h.service.GetLoanByNumber(r.Context(), number, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(l, nil))
}

// ListPayments возвращает платежи по займу.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// ListActivity возвращает журнал действий по займу.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListActivity(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type transitionRequest struct {
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	Amount         decimal.Decimal  `json:"amount"`
	Reason         string           `json:"reason"`
}

// transition разбирает общий запрос перехода и отдаёт займ с предупреждениями.
func (h *Handler) transition(status int, fn func(ctx context.Context, id int64, req transitionRequest, actor permission.Actor) (*service.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req transitionRequest
		if err := decode(r, &req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		out, err := fn(r.Context(), id, req, actor)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, status, newLoanResponse(out.Loan, out.Warnings))
	}
}

// Approve одобряет заявку; approved_amount необязателен.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, req transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.Approve(ctx, id, req.ApprovedAmount, actor)
	})(w, r)
}

// Reject отклоняет заявку.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, req transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.Reject(ctx, id, req.Reason, actor)
	})(w, r)
}

// Disburse выдаёт заём.
func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, _ transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.Disburse(ctx, id, actor)
	})(w, r)
}

// WaivePenalty снимает штраф.
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, req transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.WaivePenalty(ctx, id, req.Amount, req.Reason, actor)
	})(w, r)
}

// MarkDefaulted вручную переводит заём в дефолт.
func (h *Handler) MarkDefaulted(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, _ transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.MarkDefaulted(ctx, id, actor)
	})(w, r)
}

// Close списывает дефолтный заём.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(http.StatusOK, func(ctx context.Context, id int64, req transitionRequest, actor permission.Actor) (*service.Outcome, error) {
		return h.service.Close(ctx, id, req.Reason, actor)
	})(w, r)
}

// RecordPayment учитывает платёж.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req lifecycle.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	out, err := h.service.RecordPayment(r.Context(), id, req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(out.Loan, out.Warnings))
}

type jobResponse struct {
	Job        scheduler.JobID `json:"job"`
	Success    bool            `json:"success"`
	Processed  int             `json:"processed"`
	Errors     []string        `json:"errors"`
	DurationMS int64           `json:"duration_ms"`
	Partial    bool            `json:"partial"`
}

// RunJob запускает задание эскалации вне расписания.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := permission.Require(actor, permission.JobsRun); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := scheduler.ParseJobID(chi.URLParam(r, "job"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	res := h.jobs.RunJob(r.Context(), id)
	if res.Errors == nil {
		res.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, jobResponse{
		Job:        res.Job,
		Success:    res.Success,
		Processed:  res.Processed,
		Errors:     res.Errors,
		DurationMS: res.Duration.Milliseconds(),
		Partial:    res.Partial,
	})
}

type tokenRequest struct {
	UserID   int64           `json:"user_id"`
	Role     permission.Role `json:"role"`
	TTLHours int             `json:"ttl_hours"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken выдаёт токен сотруднику. Доступно только администратору.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if actor.Role != permission.RoleAdmin {
		h.writeError(w, r, apperr.Forbidden("Only administrators can issue staff tokens"))
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = middleware.DefaultTokenTTL
	}
	token, err := h.authMiddleware.IssueToken(req.UserID, req.Role, ttl)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}

// Session переносит токен из заголовка Authorization в cookie для браузера.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	token, err := h.authMiddleware.IssueToken(actor.ID, actor.Role, middleware.DefaultTokenTTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.authMiddleware.SetAuthCookie(w, token, middleware.DefaultTokenTTL)
	w.WriteHeader(http.StatusNoContent)
}
