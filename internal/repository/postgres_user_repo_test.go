package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByUsername_Found(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT username, password_hash, created_at FROM users WHERE username = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password_hash", "created_at"}).
			AddRow("alice", "$2a$10$hash", created))

	user, err := NewPostgresUserRepo(db).FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, "$2a$10$hash", user.PasswordHash)
	require.True(t, user.CreatedAt.Equal(created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_FindByUsername_NotFound_ReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT username, password_hash, created_at FROM users`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	user, err := NewPostgresUserRepo(db).FindByUsername(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestPostgresUserRepo_CreateWithWallet_InsertsBothInOneTx(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("alice", "hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallets`).
		WithArgs("alice", decimal.NewFromInt(10000), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewPostgresUserRepo(db).CreateWithWallet(context.Background(),
		&model.User{Username: "alice", PasswordHash: "hash", CreatedAt: now},
		decimal.NewFromInt(10000))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_CreateWithWallet_Duplicate_ReturnsDuplicateUsername(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := NewPostgresUserRepo(db).CreateWithWallet(context.Background(),
		&model.User{Username: "alice", PasswordHash: "hash", CreatedAt: time.Now()},
		decimal.NewFromInt(10000))
	require.True(t, model.HasCode(err, model.ErrCodeDuplicateUsername), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_CreateWithWallet_WalletFailure_RollsBack(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wallets`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewPostgresUserRepo(db).CreateWithWallet(context.Background(),
		&model.User{Username: "alice", PasswordHash: "hash", CreatedAt: time.Now()},
		decimal.NewFromInt(10000))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to insert wallet")
	require.NoError(t, mock.ExpectationsWereMet())
}
