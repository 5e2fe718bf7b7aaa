// Package httpapi exposes the marketplace over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/auth"
	"dealflow/chat"
	"dealflow/deal"
	"dealflow/dispute"
	"dealflow/payments"
	"dealflow/proposal"
	"dealflow/wallet"
	"dealflow/workitem"
)

// Server wires the domain services behind a chi router.
type Server struct {
	pool      *pgxpool.Pool
	auth      *auth.Service
	items     *workitem.Repository
	proposals *proposal.Repository
	accepts   *deal.Coordinator
	deals     *deal.Service
	dealRepo  *deal.Repository
	disputes  *dispute.Arbiter
	dispRepo  *dispute.Repository
	ledger    *wallet.Ledger
	chats     *chat.Provisioner
	checkout  *payments.Service
}

func NewServer(
	pool *pgxpool.Pool,
	authSvc *auth.Service,
	accepts *deal.Coordinator,
	deals *deal.Service,
	disputes *dispute.Arbiter,
	checkout *payments.Service,
	ledger *wallet.Ledger,
	chats *chat.Provisioner,
) *Server {
	return &Server{
		pool:      pool,
		auth:      authSvc,
		items:     workitem.NewRepository(pool),
		proposals: proposal.NewRepository(pool),
		accepts:   accepts,
		deals:     deals,
		dealRepo:  deal.NewRepository(),
		disputes:  disputes,
		dispRepo:  dispute.NewRepository(),
		ledger:    ledger,
		chats:     chats,
		checkout:  checkout,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	// Processor webhook authenticates by signature upstream, not bearer token.
	r.Post("/webhooks/checkout", s.handleCheckoutWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/api/work-items", func(r chi.Router) {
			r.Post("/", s.handleCreateWorkItem)
			r.Get("/", s.handleListWorkItems)
			r.Get("/{id}", s.handleGetWorkItem)
			r.Get("/{id}/proposals", s.handleListProposals)
		})

		r.Route("/api/proposals", func(r chi.Router) {
			r.Post("/", s.handleCreateProposal)
			r.Post("/{id}/withdraw", s.handleWithdrawProposal)
			r.Post("/{id}/reject", s.handleRejectProposal)
			r.Post("/{id}/accept", s.handleAcceptProposal)
			r.Delete("/{id}", s.handleDeleteProposal)
		})

		r.Route("/api/deals", func(r chi.Router) {
			r.Get("/", s.handleListDeals)
			r.Get("/{id}", s.handleGetDeal)
			r.Post("/{id}/submit", s.handleSubmitForReview)
			r.Post("/{id}/revision", s.handleRequestRevision)
			r.Post("/{id}/complete", s.handleCompleteDeal)
			r.Post("/{id}/cancel", s.handleCancelDeal)
			r.Get("/{id}/ledger", s.handleDealLedger)
			r.Post("/{id}/disputes", s.handleOpenDispute)
			r.Get("/{id}/disputes", s.handleListDisputes)
		})

		r.Route("/api/disputes", func(r chi.Router) {
			r.Post("/{id}/resolve", s.handleResolveDispute)
			r.Post("/{id}/cancel", s.handleCancelDispute)
		})

		r.Get("/api/wallet", s.handleGetWallet)
		r.Get("/api/chats/{id}/messages", s.handleListMessages)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the shared error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *deal.StateConflictError
	var funds *wallet.InsufficientFundsError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     conflict.Error(),
			"current":   string(conflict.Current),
			"requested": string(conflict.Requested),
		})
	case errors.As(err, &funds):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     funds.Error(),
			"required":  funds.Required,
			"available": funds.Available,
		})
	case errors.Is(err, deal.ErrNotFound),
		errors.Is(err, deal.ErrProposalNotFound),
		errors.Is(err, workitem.ErrNotFound),
		errors.Is(err, proposal.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, chat.ErrChannelNotFound),
		errors.Is(err, payments.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, deal.ErrForbidden),
		errors.Is(err, proposal.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden),
		errors.Is(err, dispute.ErrNotArbiter),
		errors.Is(err, proposal.ErrSelfBid):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, deal.ErrActiveDealExists),
		errors.Is(err, deal.ErrProposalNotPending),
		errors.Is(err, proposal.ErrDuplicate),
		errors.Is(err, proposal.ErrNotPending),
		errors.Is(err, proposal.ErrNotWithdrawn),
		errors.Is(err, dispute.ErrOpenExists),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, wallet.ErrAlreadyReleased),
		errors.Is(err, wallet.ErrNoLock),
		errors.Is(err, wallet.ErrCurrencyMismatch),
		errors.Is(err, payments.ErrTransactionSettled),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, workitem.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
