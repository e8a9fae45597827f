package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side は売買区分を表す。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeReceipt は約定結果を表す。
type TradeReceipt struct {
	ID         string
	Username   string
	Side       Side
	Ticker     string
	Quantity   int64
	Price      decimal.Decimal
	Total      decimal.Decimal // 買付代金または売却代金
	Balance    decimal.Decimal // 約定後の残高
	QuotedAt   time.Time
	ExecutedAt time.Time

	// 売却時のみ設定される。
	Realized    []RealizedLot
	CostBasis   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// TradePreview は買付確認用の見積もりを表す。台帳は変更しない。
type TradePreview struct {
	Ticker     string
	Quantity   int64
	Price      decimal.Decimal
	Total      decimal.Decimal
	Balance    decimal.Decimal
	Remaining  decimal.Decimal
	Affordable bool
	QuotedAt   time.Time
}
