package quote

import (
	"context"
	"maps"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/shopspring/decimal"
)

// Static は固定の価格表から株価を返すProvider。
// 外部APIを使わないデモ・ローカル実行用。
type Static struct {
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewStatic はStaticを生成する。キーは正規化済みの銘柄コード。
func NewStatic(prices map[string]decimal.Decimal) *Static {
	return &Static{prices: maps.Clone(prices), now: time.Now}
}

// GetQuote は価格表の価格を返す。未登録の銘柄はQUOTE_UNAVAILABLE。
func (s *Static) GetQuote(_ context.Context, ticker string) (*model.Quote, error) {
	p, ok := s.prices[ticker]
	if !ok {
		return nil, model.NewQuoteUnavailableError(ticker, "unknown ticker")
	}
	return &model.Quote{Ticker: ticker, Price: p, AsOf: s.now()}, nil
}

// compile-time interface check
var _ Provider = (*Static)(nil)
