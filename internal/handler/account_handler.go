package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mockmarket/internal/middleware"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/user"
	"github.com/shopspring/decimal"
)

// AccountServiceInterface は口座照会ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Overview(ctx context.Context, username, token string) (*user.Overview, error)
	Balance(ctx context.Context, username string) (*model.Wallet, error)
	Holdings(ctx context.Context, username string) ([]model.Holding, error)
	Lots(ctx context.Context, username, ticker string) ([]model.Lot, error)
	Currency() string
}

// AccountHandler は残高・保有銘柄の照会ハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

type holdingResponse struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

type overviewResponse struct {
	Username       string            `json:"username"`
	Balance        string            `json:"balance"`
	BalanceDisplay string            `json:"balance_display"`
	Holdings       []holdingResponse `json:"holdings"`
	RefreshedAt    time.Time         `json:"refreshed_at"`
}

type walletResponse struct {
	Username       string `json:"username"`
	Balance        string `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

type lotResponse struct {
	ID         string    `json:"id"`
	Quantity   int64     `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Overview は残高と保有銘柄を返し、セッションの表示用キャッシュを更新する。
// GET /api/me
func (h *AccountHandler) Overview(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	ov, err := h.service.Overview(r.Context(), username, middleware.SessionTokenFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, overviewResponse{
		Username:       ov.Username,
		Balance:        formatMoney(ov.Balance),
		BalanceDisplay: ov.BalanceDisplay,
		Holdings:       toHoldingResponses(ov.Holdings),
		RefreshedAt:    ov.RefreshedAt,
	})
}

// Wallet は残高を返す。
// GET /api/wallet
func (h *AccountHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.Balance(r.Context(), username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		Username:       wallet.Username,
		Balance:        formatMoney(wallet.Balance),
		BalanceDisplay: model.FormatAmount(wallet.Balance, h.service.Currency()),
	})
}

// Portfolio は銘柄ごとの保有数を返す。
// GET /api/portfolio
func (h *AccountHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	holdings, err := h.service.Holdings(r.Context(), username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"holdings": toHoldingResponses(holdings)})
}

// Lots は指定銘柄のロットを古い順に返す。
// GET /api/portfolio/{ticker}/lots
func (h *AccountHandler) Lots(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}

	lots, err := h.service.Lots(r.Context(), username, chi.URLParam(r, "ticker"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]lotResponse, len(lots))
	for i, l := range lots {
		resp[i] = lotResponse{
			ID:         l.ID,
			Quantity:   l.Quantity,
			UnitPrice:  formatMoney(l.UnitPrice),
			AcquiredAt: l.AcquiredAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": resp})
}

func toHoldingResponses(holdings []model.Holding) []holdingResponse {
	resp := make([]holdingResponse, len(holdings))
	for i, h := range holdings {
		resp[i] = holdingResponse{Ticker: h.Ticker, Quantity: h.Quantity}
	}
	return resp
}

// formatMoney は金額を小数点以下2桁の文字列にする。
func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

var _ AccountServiceInterface = (*user.Service)(nil)
