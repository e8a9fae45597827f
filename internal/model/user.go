// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User はサービス利用ユーザーを表す。
// Usernameは不変の識別キー。
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Wallet はユーザーの現金残高を表す。Userと1対1で、残高は常に0以上。
type Wallet struct {
	Username  string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// Dataは表示用のキャッシュで、残高の正はWalletが持つ。
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Data      map[string]string
}

// ValidAt は指定時刻においてセッションが有効かを判定する。
func (s *Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// セッションにキャッシュする表示用フィールド。
const (
	SessionDataWalletBalance = "wallet_balance"
	SessionDataRefreshedAt   = "refreshed_at"
)
