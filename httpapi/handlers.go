package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dealflow/auth"
	"dealflow/deal"
	"dealflow/dispute"
	"dealflow/payments"
	"dealflow/proposal"
	"dealflow/wallet"
	"dealflow/workitem"
)

// ─── auth ───────────────────────────────────────────────────────────────────

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(&result.User),
	})
}

// ─── work items ─────────────────────────────────────────────────────────────

type workItemResponse struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	Kind       workitem.Kind `json:"kind"`
	Title      string        `json:"title"`
	PriceMinor int64         `json:"price_minor"`
	Currency   string        `json:"currency"`
	Boosted    bool          `json:"boosted"`
	Status     string        `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

func toWorkItemResponse(item workitem.WorkItem) workItemResponse {
	return workItemResponse{
		ID:         item.ID,
		OwnerID:    item.OwnerID,
		Kind:       item.Kind,
		Title:      item.Title,
		PriceMinor: item.PriceMinor,
		Currency:   item.Currency,
		Boosted:    item.Boosted,
		Status:     string(item.Status),
		CreatedAt:  item.CreatedAt,
	}
}

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind       workitem.Kind `json:"kind"`
		Title      string        `json:"title"`
		PriceMinor int64         `json:"price_minor"`
		Currency   string        `json:"currency"`
		Boosted    bool          `json:"boosted"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" || req.PriceMinor <= 0 {
		writeError(w, http.StatusBadRequest, "title and positive price_minor required")
		return
	}

	item, err := s.items.Create(r.Context(), workitem.CreateParams{
		OwnerID:    callerID(r),
		Kind:       req.Kind,
		Title:      req.Title,
		PriceMinor: req.PriceMinor,
		Currency:   req.Currency,
		Boosted:    req.Boosted,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkItemResponse(item))
}

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	items, err := s.items.ListOpen(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]workItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toWorkItemResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_items": out})
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.items.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemResponse(item))
}

// ─── proposals ──────────────────────────────────────────────────────────────

type proposalResponse struct {
	ID           string    `json:"id"`
	WorkItemID   string    `json:"work_item_id"`
	BidderID     string    `json:"bidder_id"`
	PriceMinor   int64     `json:"price_minor"`
	Currency     string    `json:"currency"`
	DeliveryDays int       `json:"delivery_days"`
	CoverNote    string    `json:"cover_note"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toProposalResponse(p proposal.Proposal) proposalResponse {
	return proposalResponse{
		ID:           p.ID,
		WorkItemID:   p.WorkItemID,
		BidderID:     p.BidderID,
		PriceMinor:   p.PriceMinor,
		Currency:     p.Currency,
		DeliveryDays: p.DeliveryDays,
		CoverNote:    p.CoverNote,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt,
	}
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkItemID   string `json:"work_item_id"`
		PriceMinor   int64  `json:"price_minor"`
		Currency     string `json:"currency"`
		DeliveryDays int    `json:"delivery_days"`
		CoverNote    string `json:"cover_note"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WorkItemID == "" || req.PriceMinor <= 0 {
		writeError(w, http.StatusBadRequest, "work_item_id and positive price_minor required")
		return
	}

	p, err := s.proposals.Create(r.Context(), proposal.CreateParams{
		WorkItemID:   req.WorkItemID,
		BidderID:     callerID(r),
		PriceMinor:   req.PriceMinor,
		Currency:     req.Currency,
		DeliveryDays: req.DeliveryDays,
		CoverNote:    req.CoverNote,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := s.proposals.ListForItem(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]proposalResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProposalResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.proposals.Withdraw(r.Context(), id, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.proposals.Reject(r.Context(), id, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

func (s *Server) handleDeleteProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.proposals.Delete(r.Context(), id, callerID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := s.accepts.Accept(r.Context(), id, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealResponse(d))
}

// ─── deals ──────────────────────────────────────────────────────────────────

type dealResponse struct {
	ID               string     `json:"id"`
	ProposalID       string     `json:"proposal_id"`
	WorkItemID       string     `json:"work_item_id"`
	ClientID         string     `json:"client_id"`
	FreelancerID     string     `json:"freelancer_id"`
	PriceMinor       int64      `json:"price_minor"`
	Currency         string     `json:"currency"`
	DeliveryDays     int        `json:"delivery_days"`
	ChatID           *string    `json:"chat_id,omitempty"`
	CommissionRateBP int32      `json:"commission_rate_bp"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

func toDealResponse(d deal.Deal) dealResponse {
	return dealResponse{
		ID:               d.ID,
		ProposalID:       d.ProposalID,
		WorkItemID:       d.WorkItemID,
		ClientID:         d.ClientID,
		FreelancerID:     d.FreelancerID,
		PriceMinor:       d.PriceMinor,
		Currency:         d.Currency,
		DeliveryDays:     d.DeliveryDays,
		ChatID:           d.ChatID,
		CommissionRateBP: d.CommissionRateBP,
		Status:           string(d.Status),
		CreatedAt:        d.CreatedAt,
		ResolvedAt:       d.ResolvedAt,
	}
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	list, err := s.dealRepo.ListForUser(r.Context(), s.pool, callerID(r), queryLimit(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]dealResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDealResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": out})
}

// loadDealForCaller fetches a deal and enforces that the caller is one of
// its parties or an arbiter.
func (s *Server) loadDealForCaller(r *http.Request, dealID string) (deal.Deal, error) {
	d, err := s.dealRepo.GetByID(r.Context(), s.pool, dealID)
	if err != nil {
		return deal.Deal{}, err
	}
	caller := callerID(r)
	if d.ClientID != caller && d.FreelancerID != caller && callerRole(r) != auth.RoleArbiter {
		return deal.Deal{}, deal.ErrForbidden
	}
	return d, nil
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := s.loadDealForCaller(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDealResponse(d))
}

func (s *Server) handleSubmitForReview(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deals.SubmitForReview)
}

func (s *Server) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deals.RequestRevision)
}

func (s *Server) handleCompleteDeal(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deals.Complete)
}

func (s *Server) handleCancelDeal(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.deals.Cancel)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, dealID, actorID string) (deal.Deal, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := op(r.Context(), id, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDealResponse(d))
}

func (s *Server) handleDealLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := s.loadDealForCaller(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries, err := s.ledger.EntriesForDeal(r.Context(), s.pool, d.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type entryResponse struct {
		ID          string      `json:"id"`
		WalletID    string      `json:"wallet_id"`
		AmountMinor int64       `json:"amount_minor"`
		Currency    string      `json:"currency"`
		Kind        wallet.Kind `json:"kind"`
		CreatedAt   time.Time   `json:"created_at"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:          e.ID,
			WalletID:    e.WalletID,
			AmountMinor: e.AmountMinor,
			Currency:    e.Currency,
			Kind:        e.Kind,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// ─── disputes ───────────────────────────────────────────────────────────────

type disputeResponse struct {
	ID              string     `json:"id"`
	DealID          string     `json:"deal_id"`
	OpenedBy        string     `json:"opened_by"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:              rec.ID,
		DealID:          rec.DealID,
		OpenedBy:        rec.OpenedBy,
		Reason:          rec.Reason,
		Status:          string(rec.Status),
		ResolutionNotes: rec.ResolutionNotes,
		ResolvedBy:      rec.ResolvedBy,
		CreatedAt:       rec.CreatedAt,
		ResolvedAt:      rec.ResolvedAt,
	}
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.disputes.Open(r.Context(), id, callerID(r), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.loadDealForCaller(r, id); err != nil {
		writeDomainError(w, err)
		return
	}

	list, err := s.dispRepo.ListForDeal(r.Context(), s.pool, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]disputeResponse, 0, len(list))
	for _, rec := range list {
		out = append(out, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Winner string `json:"winner"`
		Notes  string `json:"notes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	side := wallet.Side(req.Winner)
	if side != wallet.SideClient && side != wallet.SideFreelancer {
		writeError(w, http.StatusBadRequest, "winner must be client or freelancer")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.disputes.Resolve(r.Context(), id, callerID(r), side, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleCancelDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.disputes.Cancel(r.Context(), id, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

// ─── wallet & chat ──────────────────────────────────────────────────────────

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := s.ledger.Get(r.Context(), s.pool, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":            wal.UserID,
		"balance_minor":      wal.BalanceMinor,
		"total_earned_minor": wal.TotalEarnedMinor,
		"currency":           wal.Currency,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msgs, err := s.chats.ListMessages(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type messageResponse struct {
		ID        string    `json:"id"`
		ChatID    string    `json:"chat_id"`
		SenderID  *string   `json:"sender_id,omitempty"`
		Body      string    `json:"body"`
		IsSystem  bool      `json:"is_system"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID,
			ChatID:    m.ChatID,
			SenderID:  m.SenderID,
			Body:      m.Body,
			IsSystem:  m.IsSystem,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// ─── payments webhook ───────────────────────────────────────────────────────

func (s *Server) handleCheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
		ProviderRef    string `json:"provider_ref"`
		Status         string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.checkout.HandleCheckoutWebhook(r.Context(), payments.CheckoutEvent{
		IdempotencyKey: req.IdempotencyKey,
		ProviderRef:    req.ProviderRef,
		Status:         payments.TransactionStatus(req.Status),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// pathID returns the {id} route parameter. Values that cannot be a row id
// are rejected here instead of surfacing as a database type error.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "no such resource")
		return "", false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 200 {
		return fallback
	}
	return n
}
