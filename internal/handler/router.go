package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/loan-backoffice/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware бэк-офиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/auth/session", h.Session)
		r.Post("/auth/tokens", h.IssueToken)

		r.Post("/customers", h.CreateCustomer)
		r.Get("/customers/{id}", h.GetCustomer)

		r.Post("/links", h.CreateApplicationLink)
		r.Get("/links/{token}", h.GetApplicationLink)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Post("/quote", h.Quote)

		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/by-number/{number}", h.GetLoanByNumber)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLoan)
				r.Get("/payments", h.ListPayments)
				r.Post("/payments", h.RecordPayment)
				r.Get("/activity", h.ListActivity)

				r.Post("/approve", h.Approve)
				r.Post("/reject", h.Reject)
				r.Post("/disburse", h.Disburse)
				r.Post("/waive-penalty", h.WaivePenalty)
				r.Post("/mark-defaulted", h.MarkDefaulted)
				r.Post("/close", h.Close)
			})
		})

		r.Post("/jobs/{job}", h.RunJob)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
