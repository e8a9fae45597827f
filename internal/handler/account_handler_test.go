package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mockmarket/internal/middleware"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/user"
	"github.com/shopspring/decimal"
)

// --- モック定義 ---

type mockAccountService struct {
	overviewFn func(ctx context.Context, username, token string) (*user.Overview, error)
	balanceFn  func(ctx context.Context, username string) (*model.Wallet, error)
	holdingsFn func(ctx context.Context, username string) ([]model.Holding, error)
	lotsFn     func(ctx context.Context, username, ticker string) ([]model.Lot, error)
}

func (m *mockAccountService) Overview(ctx context.Context, username, token string) (*user.Overview, error) {
	return m.overviewFn(ctx, username, token)
}
func (m *mockAccountService) Balance(ctx context.Context, username string) (*model.Wallet, error) {
	return m.balanceFn(ctx, username)
}
func (m *mockAccountService) Holdings(ctx context.Context, username string) ([]model.Holding, error) {
	return m.holdingsFn(ctx, username)
}
func (m *mockAccountService) Lots(ctx context.Context, username, ticker string) ([]model.Lot, error) {
	return m.lotsFn(ctx, username, ticker)
}
func (m *mockAccountService) Currency() string { return "USD" }

var _ AccountServiceInterface = (*mockAccountService)(nil)

func authedRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(middleware.ContextWithSession(req.Context(), "alice", "tok"))
}

// --- テスト ---

func TestAccountHandler_Overview_PassesSessionToken(t *testing.T) {
	svc := &mockAccountService{
		overviewFn: func(_ context.Context, username, token string) (*user.Overview, error) {
			if username != "alice" || token != "tok" {
				t.Errorf("username=%q token=%q", username, token)
			}
			return &user.Overview{
				Username:       "alice",
				Balance:        decimal.RequireFromString("9000.5"),
				BalanceDisplay: "$9,000.50",
				Holdings:       []model.Holding{{Ticker: "AAPL", Quantity: 3}},
				RefreshedAt:    time.Now(),
			}, nil
		},
	}

	w := httptest.NewRecorder()
	NewAccountHandler(svc).Overview(w, authedRequest(http.MethodGet, "/api/me"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body overviewResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Balance != "9000.50" || body.BalanceDisplay != "$9,000.50" {
		t.Errorf("balance = %q display = %q", body.Balance, body.BalanceDisplay)
	}
	if len(body.Holdings) != 1 || body.Holdings[0].Ticker != "AAPL" || body.Holdings[0].Quantity != 3 {
		t.Errorf("holdings = %+v", body.Holdings)
	}
}

func TestAccountHandler_Wallet(t *testing.T) {
	svc := &mockAccountService{
		balanceFn: func(_ context.Context, username string) (*model.Wallet, error) {
			return &model.Wallet{Username: username, Balance: decimal.NewFromInt(10000)}, nil
		},
	}

	w := httptest.NewRecorder()
	NewAccountHandler(svc).Wallet(w, authedRequest(http.MethodGet, "/api/wallet"))

	var body walletResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Balance != "10000.00" || body.BalanceDisplay != "$10,000.00" {
		t.Errorf("body = %+v", body)
	}
}

func TestAccountHandler_Wallet_NoSuchWallet(t *testing.T) {
	svc := &mockAccountService{
		balanceFn: func(_ context.Context, username string) (*model.Wallet, error) {
			return nil, model.NewNoSuchWalletError(username)
		},
	}

	w := httptest.NewRecorder()
	NewAccountHandler(svc).Wallet(w, authedRequest(http.MethodGet, "/api/wallet"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeNoSuchWallet {
		t.Errorf("code = %q", code)
	}
}

func TestAccountHandler_Portfolio_EmptyIsArray(t *testing.T) {
	svc := &mockAccountService{
		holdingsFn: func(context.Context, string) ([]model.Holding, error) { return nil, nil },
	}

	w := httptest.NewRecorder()
	NewAccountHandler(svc).Portfolio(w, authedRequest(http.MethodGet, "/api/portfolio"))

	if got := w.Body.String(); got != "{\"holdings\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestAccountHandler_Lots_UsesURLParam(t *testing.T) {
	acquired := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockAccountService{
		lotsFn: func(_ context.Context, _, ticker string) ([]model.Lot, error) {
			if ticker != "msft" {
				t.Errorf("ticker = %q", ticker)
			}
			return []model.Lot{{ID: "lot-1", Ticker: "MSFT", Quantity: 2, UnitPrice: decimal.RequireFromString("411.2"), AcquiredAt: acquired}}, nil
		},
	}

	r := chi.NewRouter()
	r.Get("/api/portfolio/{ticker}/lots", NewAccountHandler(svc).Lots)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest(http.MethodGet, "/api/portfolio/msft/lots"))

	var body struct {
		Lots []lotResponse `json:"lots"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Lots) != 1 || body.Lots[0].UnitPrice != "411.20" || !body.Lots[0].AcquiredAt.Equal(acquired) {
		t.Errorf("lots = %+v", body.Lots)
	}
}

func TestAccountHandler_NoUserInContext_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	NewAccountHandler(&mockAccountService{}).Wallet(w, httptest.NewRequest(http.MethodGet, "/api/wallet", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
