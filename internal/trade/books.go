package trade

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/portfolio"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/hitoshi/mockmarket/internal/wallet"
)

// Ledgers は1つの作業単位に束縛されたウォレット台帳と保有台帳の組。
type Ledgers struct {
	Wallet    *wallet.Ledger
	Portfolio *portfolio.Ledger
}

// Books は台帳の作業単位（ユニットオブワーク）を提供するインターフェース。
type Books interface {
	// Atomically はusernameのウォレットをロックした作業単位内でfnを実行する。
	// fnがエラーを返した場合、fn内の変更はすべて取り消される。
	// ウォレットが存在しない場合はNO_SUCH_WALLETを返す。
	Atomically(ctx context.Context, username string, fn func(ctx context.Context, l Ledgers) error) error
	// Ledgers は作業単位の外で参照に使う台帳を返す。
	Ledgers() Ledgers
}

// PostgresBooks はPostgreSQLのトランザクションを作業単位とするBooks。
// ウォレット行をSELECT ... FOR UPDATEでロックするため、
// 同一ユーザーの取引は複数プロセス間でも直列化される。
type PostgresBooks struct {
	db    *sql.DB
	clock *portfolio.Clock
}

// NewPostgresBooks はPostgresBooksを生成する。
func NewPostgresBooks(db *sql.DB, clock *portfolio.Clock) *PostgresBooks {
	if clock == nil {
		clock = portfolio.NewClock(nil)
	}
	return &PostgresBooks{db: db, clock: clock}
}

// Atomically はトランザクション内でfnを実行する。
func (b *PostgresBooks) Atomically(ctx context.Context, username string, fn func(ctx context.Context, l Ledgers) error) error {
	return database.WithTx(ctx, b.db, nil, func(ctx context.Context, tx database.DBTX) error {
		wallets := repository.NewPostgresWalletRepo(tx)

		w, err := wallets.LockForUpdate(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}
		if w == nil {
			return model.NewNoSuchWalletError(username)
		}

		return fn(ctx, Ledgers{
			Wallet:    wallet.NewLedger(wallets),
			Portfolio: portfolio.NewLedger(repository.NewPostgresLotRepo(tx), b.clock),
		})
	})
}

// Ledgers はトランザクション外の参照用台帳を返す。
func (b *PostgresBooks) Ledgers() Ledgers {
	return Ledgers{
		Wallet:    wallet.NewLedger(repository.NewPostgresWalletRepo(b.db)),
		Portfolio: portfolio.NewLedger(repository.NewPostgresLotRepo(b.db), b.clock),
	}
}

// compile-time interface check
var _ Books = (*PostgresBooks)(nil)
