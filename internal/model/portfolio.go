package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Lot は同一価格・同一時刻に取得した株式のまとまりを表す。
// 売却はAcquiredAtの古い順（FIFO）に消費する。
type Lot struct {
	ID         string
	Username   string
	Ticker     string
	UnitPrice  decimal.Decimal
	Quantity   int64
	AcquiredAt time.Time
}

// Holding は銘柄ごとの保有株数の合計を表す。
type Holding struct {
	Ticker   string
	Quantity int64
}

// RealizedLot は売却で1つのロットから消費した株数と取得単価を表す。
type RealizedLot struct {
	LotID      string
	UnitPrice  decimal.Decimal
	Quantity   int64
	AcquiredAt time.Time
}

// Cost は消費分の取得原価を返す。
func (r RealizedLot) Cost() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(r.Quantity))
}

// Quote は株価プロバイダーから取得した現在値を表す。
type Quote struct {
	Ticker string
	Price  decimal.Decimal
	AsOf   time.Time
}

const maxTickerLength = 16

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-^=]+$`)

// NormalizeTicker は銘柄コードを大文字化・トリムし、形式を検証する。
func NormalizeTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", NewValidationError("銘柄コードが空です")
	}
	if len(t) > maxTickerLength || !tickerPattern.MatchString(t) {
		return "", NewValidationError("銘柄コードの形式が不正です: " + ticker)
	}
	return t, nil
}
