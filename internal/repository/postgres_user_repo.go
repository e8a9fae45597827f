package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/shopspring/decimal"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByUsername は指定ユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&user.Username, &user.PasswordHash, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}

	return user, nil
}

// CreateWithWallet はユーザーとウォレットを同一トランザクションで作成する。
// ウォレットのないユーザーが観測されることはない。
func (r *PostgresUserRepo) CreateWithWallet(ctx context.Context, user *model.User, initialBalance decimal.Decimal) error {
	return database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3)`,
			user.Username, user.PasswordHash, user.CreatedAt,
		)
		if database.IsUniqueViolation(err) {
			return model.NewDuplicateUsernameError(user.Username)
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (username, balance, updated_at) VALUES ($1, $2, $3)`,
			user.Username, initialBalance, user.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert wallet: %w", err)
		}

		return nil
	})
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
