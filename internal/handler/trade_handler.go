package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/trade"
)

// TradeServiceInterface は売買ハンドラーが必要とするサービスインターフェース。
type TradeServiceInterface interface {
	Buy(ctx context.Context, username, ticker string, quantity int64) (*model.TradeReceipt, error)
	Sell(ctx context.Context, username, ticker string, quantity int64) (*model.TradeReceipt, error)
	Preview(ctx context.Context, username, ticker string, quantity int64) (*model.TradePreview, error)
}

// TradeHandler は売買注文のハンドラー。
type TradeHandler struct {
	service TradeServiceInterface
}

// NewTradeHandler はTradeHandlerを生成する。
func NewTradeHandler(service TradeServiceInterface) *TradeHandler {
	return &TradeHandler{service: service}
}

type orderRequest struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

type realizedLotResponse struct {
	LotID      string    `json:"lot_id"`
	Quantity   int64     `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type receiptResponse struct {
	ID          string                `json:"id"`
	Side        string                `json:"side"`
	Ticker      string                `json:"ticker"`
	Quantity    int64                 `json:"quantity"`
	Price       string                `json:"price"`
	Total       string                `json:"total"`
	Balance     string                `json:"balance"`
	QuotedAt    time.Time             `json:"quoted_at"`
	ExecutedAt  time.Time             `json:"executed_at"`
	Realized    []realizedLotResponse `json:"realized,omitempty"`
	CostBasis   string                `json:"cost_basis,omitempty"`
	RealizedPnL string                `json:"realized_pnl,omitempty"`
}

type previewResponse struct {
	Ticker     string    `json:"ticker"`
	Quantity   int64     `json:"quantity"`
	Price      string    `json:"price"`
	Total      string    `json:"total"`
	Balance    string    `json:"balance"`
	Remaining  string    `json:"remaining"`
	Affordable bool      `json:"affordable"`
	QuotedAt   time.Time `json:"quoted_at"`
}

// Buy は買付注文を処理する。
// POST /api/trades/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, h.service.Buy)
}

// Sell は売却注文を処理する。
// POST /api/trades/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, h.service.Sell)
}

func (h *TradeHandler) execute(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string, int64) (*model.TradeReceipt, error)) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	receipt, err := fn(r.Context(), username, req.Ticker, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

// Preview は買付の見積もりを返す。台帳は変更しない。
// POST /api/trades/preview
func (h *TradeHandler) Preview(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Preview(r.Context(), username, req.Ticker, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Ticker:     p.Ticker,
		Quantity:   p.Quantity,
		Price:      formatMoney(p.Price),
		Total:      formatMoney(p.Total),
		Balance:    formatMoney(p.Balance),
		Remaining:  formatMoney(p.Remaining),
		Affordable: p.Affordable,
		QuotedAt:   p.QuotedAt,
	})
}

func toReceiptResponse(r *model.TradeReceipt) receiptResponse {
	resp := receiptResponse{
		ID:         r.ID,
		Side:       string(r.Side),
		Ticker:     r.Ticker,
		Quantity:   r.Quantity,
		Price:      formatMoney(r.Price),
		Total:      formatMoney(r.Total),
		Balance:    formatMoney(r.Balance),
		QuotedAt:   r.QuotedAt,
		ExecutedAt: r.ExecutedAt,
	}
	if r.Side == model.SideSell {
		resp.CostBasis = formatMoney(r.CostBasis)
		resp.RealizedPnL = formatMoney(r.RealizedPnL)
		for _, l := range r.Realized {
			resp.Realized = append(resp.Realized, realizedLotResponse{
				LotID:      l.LotID,
				Quantity:   l.Quantity,
				UnitPrice:  formatMoney(l.UnitPrice),
				AcquiredAt: l.AcquiredAt,
			})
		}
	}
	return resp
}

var _ TradeServiceInterface = (*trade.Service)(nil)
