package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dealflow/auth"
	"dealflow/chat"
	"dealflow/deal"
	"dealflow/dispute"
	"dealflow/payments"
	"dealflow/wallet"
)

const testSecret = "test-secret"

type stubAuthRepo struct {
	users map[string]auth.User
}

func (s *stubAuthRepo) CreateUser(_ context.Context, params auth.CreateUserParams) (auth.User, error) {
	if _, exists := s.users[params.Email]; exists {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	u := auth.User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now(),
	}
	if s.users == nil {
		s.users = map[string]auth.User{}
	}
	s.users[params.Email] = u
	return u, nil
}

func (s *stubAuthRepo) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	u, ok := s.users[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *stubAuthRepo) GetUserByID(_ context.Context, userID string) (auth.User, error) {
	for _, u := range s.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func newTestServer(t *testing.T, repo *stubAuthRepo) (*Server, *auth.Service) {
	t.Helper()
	authSvc := auth.NewService(repo, testSecret)
	ledger := wallet.NewLedger()
	chats := chat.NewProvisioner(nil)
	accepts := deal.NewCoordinator(nil, chats, ledger)
	deals := deal.NewService(nil, ledger)
	disputes := dispute.NewArbiter(nil, ledger, chats)
	checkout := payments.NewService(nil, ledger)
	return NewServer(nil, authSvc, accepts, deals, disputes, checkout, ledger, chats), authSvc
}

func tokenFor(t *testing.T, svc *auth.Service, repo *stubAuthRepo, email string, role auth.Role) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if repo.users == nil {
		repo.users = map[string]auth.User{}
	}
	repo.users[email] = auth.User{
		ID:           "user-" + email,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	result, err := svc.Login(context.Background(), auth.LoginRequest{Email: email, Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return result.Token
}

func TestRegister(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})
	handler := server.Handler()

	body := `{"email":"anna@example.com","password":"password123","full_name":"Anna","role":"freelancer"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Email != "anna@example.com" || resp.Role != auth.RoleFreelancer {
		t.Errorf("response = %+v", resp)
	}
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	repo := &stubAuthRepo{users: map[string]auth.User{
		"anna@example.com": {ID: "user-1", Email: "anna@example.com"},
	}}
	server, _ := newTestServer(t, repo)

	body := `{"email":"anna@example.com","password":"password123","full_name":"Anna"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})

	body := `{"email":"anna@example.com","password":"short","full_name":"Anna"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := &stubAuthRepo{}
	server, svc := newTestServer(t, repo)
	tokenFor(t, svc, repo, "anna@example.com", auth.RoleClient)

	body := `{"email":"anna@example.com","password":"not-the-password"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_GarbageToken(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestResolveDispute_BadWinner(t *testing.T) {
	repo := &stubAuthRepo{}
	server, svc := newTestServer(t, repo)
	token := tokenFor(t, svc, repo, "arb@example.com", auth.RoleArbiter)

	body := `{"winner":"platform"}`
	req := httptest.NewRequest(http.MethodPost, "/api/disputes/disp-1/resolve", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestOpenDispute_MissingReason(t *testing.T) {
	repo := &stubAuthRepo{}
	server, svc := newTestServer(t, repo)
	token := tokenFor(t, svc, repo, "anna@example.com", auth.RoleClient)

	req := httptest.NewRequest(http.MethodPost, "/api/deals/deal-1/disputes", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateWorkItem_Validation(t *testing.T) {
	repo := &stubAuthRepo{}
	server, svc := newTestServer(t, repo)
	token := tokenFor(t, svc, repo, "anna@example.com", auth.RoleClient)

	for _, body := range []string{
		`{"title":"","price_minor":1000}`,
		`{"title":"Logo design","price_minor":0}`,
		`{"title":"Logo design","price_minor":-500}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/work-items", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCheckoutWebhook_BadPayload(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/checkout", bytes.NewReader([]byte(`{`)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, &stubAuthRepo{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWriteDomainError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{deal.ErrNotFound, http.StatusNotFound},
		{deal.ErrForbidden, http.StatusForbidden},
		{deal.ErrActiveDealExists, http.StatusConflict},
		{dispute.ErrNotArbiter, http.StatusForbidden},
		{dispute.ErrAlreadyResolved, http.StatusConflict},
		{wallet.ErrAlreadyReleased, http.StatusConflict},
		{&deal.StateConflictError{Current: deal.StatusInProgress, Requested: deal.StatusCompleted}, http.StatusConflict},
		{&wallet.InsufficientFundsError{Required: 1000, Available: 250}, http.StatusUnprocessableEntity},
		{payments.ErrTransactionSettled, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
