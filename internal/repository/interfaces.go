// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/shopspring/decimal"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByUsername は指定ユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// CreateWithWallet はユーザーとウォレットを同一トランザクションで作成する。
	// ユーザー名が重複する場合はDUPLICATE_USERNAMEのAPIErrorを返す。
	CreateWithWallet(ctx context.Context, user *model.User, initialBalance decimal.Decimal) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// 有効期限の判定は呼び出し側が渡すnowで行う。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindValid は有効なセッションを取得する。存在しない・期限切れの場合はnilを返す。
	FindValid(ctx context.Context, token string, now time.Time) (*model.Session, error)
	// MergeData はキャッシュフィールドをマージする。
	// 対象が存在しない・期限切れの場合は何もせずfalseを返す。
	MergeData(ctx context.Context, token string, patch map[string]string, now time.Time) (bool, error)
	// Delete は指定トークンのセッションを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, token string) error
	// DeleteByUsername は指定ユーザーの全セッションを削除する。
	DeleteByUsername(ctx context.Context, username string) error
	// DeleteExpired はexpires_at <= nowのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WalletRepository はウォレット残高の永続化インターフェース。
// 残高の検証と更新は1つのアトミックな操作で行う。
type WalletRepository interface {
	// FindByUsername はウォレットを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Wallet, error)
	// Debit は残高がamount以上の場合のみ減算し、減算後の残高を返す。
	// 残高不足はINSUFFICIENT_FUNDS、ウォレットなしはNO_SUCH_WALLETを返す。
	Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error)
	// Credit は残高を加算し、加算後の残高を返す。
	Credit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error)
	// LockForUpdate はトランザクション内でウォレット行をロックし、現在のウォレットを返す。
	// 見つからない場合はnilを返す。
	LockForUpdate(ctx context.Context, username string) (*model.Wallet, error)
}

// LotRepository は保有ロットの永続化インターフェース。
type LotRepository interface {
	// Insert はロットを追加する。
	Insert(ctx context.Context, lot *model.Lot) error
	// ListByTicker は指定銘柄のロットをacquired_at昇順（同時刻はID昇順）で返す。
	// forUpdateがtrueの場合は行ロックを取得する。
	ListByTicker(ctx context.Context, username, ticker string, forUpdate bool) ([]model.Lot, error)
	// Holdings は銘柄ごとの保有数量合計を銘柄コード順で返す。
	Holdings(ctx context.Context, username string) ([]model.Holding, error)
	// UpdateQuantity はロットの数量を更新する。quantityは正の値のみ。
	UpdateQuantity(ctx context.Context, id string, quantity int64) error
	// Delete はロットを削除する。
	Delete(ctx context.Context, id string) error
}
