package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/shopspring/decimal"
)

// PostgresWalletRepo はPostgreSQLを使用したウォレットリポジトリ。
// *sql.DB と *sql.Tx のどちらにも束縛できる。
type PostgresWalletRepo struct {
	db database.DBTX
}

// NewPostgresWalletRepo はPostgresWalletRepoを生成する。
func NewPostgresWalletRepo(db database.DBTX) *PostgresWalletRepo {
	return &PostgresWalletRepo{db: db}
}

// FindByUsername はウォレットを取得する。見つからない場合はnilを返す。
func (r *PostgresWalletRepo) FindByUsername(ctx context.Context, username string) (*model.Wallet, error) {
	return r.find(ctx, `SELECT username, balance, updated_at FROM wallets WHERE username = $1`, username)
}

// LockForUpdate はウォレット行をロックして取得する。トランザクション内で使用する。
func (r *PostgresWalletRepo) LockForUpdate(ctx context.Context, username string) (*model.Wallet, error) {
	return r.find(ctx, `SELECT username, balance, updated_at FROM wallets WHERE username = $1 FOR UPDATE`, username)
}

func (r *PostgresWalletRepo) find(ctx context.Context, query, username string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(&w.Username, &w.Balance, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return w, nil
}

// Debit は残高がamount以上の場合のみ減算する。
// 検証と更新は1つのUPDATE文で行い、読み取りから書き込みまでの隙間を作らない。
func (r *PostgresWalletRepo) Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance - $2, updated_at = now()
		 WHERE username = $1 AND balance >= $2
		 RETURNING balance`,
		username, amount,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		// 更新0件: ウォレットがないのか残高不足なのかを判別する
		w, findErr := r.FindByUsername(ctx, username)
		if findErr != nil {
			return decimal.Zero, findErr
		}
		if w == nil {
			return decimal.Zero, model.NewNoSuchWalletError(username)
		}
		return decimal.Zero, model.NewInsufficientFundsError()
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to debit wallet: %w", err)
	}

	return balance, nil
}

// Credit は残高を加算する。
func (r *PostgresWalletRepo) Credit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance + $2, updated_at = now()
		 WHERE username = $1
		 RETURNING balance`,
		username, amount,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		return decimal.Zero, model.NewNoSuchWalletError(username)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to credit wallet: %w", err)
	}

	return balance, nil
}

// compile-time interface check
var _ WalletRepository = (*PostgresWalletRepo)(nil)
