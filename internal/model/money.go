package model

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency は表示に使う通貨コード。
const DefaultCurrency = money.USD

// FormatAmount は金額を通貨記号付きの表示用文字列に変換する。
// 未知の通貨コードの場合はDefaultCurrencyで表示する。
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
