package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/quote"
)

// QuoteHandler は株価照会のハンドラー。
type QuoteHandler struct {
	provider quote.Provider
}

// NewQuoteHandler はQuoteHandlerを生成する。
func NewQuoteHandler(provider quote.Provider) *QuoteHandler {
	return &QuoteHandler{provider: provider}
}

type quoteResponse struct {
	Ticker string    `json:"ticker"`
	Price  string    `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// GetQuote は銘柄の現在値を返す。
// GET /api/quotes/{ticker}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	ticker, err := model.NormalizeTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	q, err := h.provider.GetQuote(r.Context(), ticker)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		Ticker: q.Ticker,
		Price:  q.Price.String(),
		AsOf:   q.AsOf,
	})
}
