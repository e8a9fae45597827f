package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// キャッシュフィールドはJSONB列dataに保持する。
type PostgresSessionRepo struct {
	db database.DBTX
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db database.DBTX) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, err := encodeSessionData(session.Data)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, username, data, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.Token, session.Username, data, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindValid は指定トークンの有効なセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindValid(ctx context.Context, token string, now time.Time) (*model.Session, error) {
	session := &model.Session{}
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT token, username, data, created_at, expires_at
		 FROM sessions
		 WHERE token = $1 AND expires_at > $2`,
		token, now,
	).Scan(&session.Token, &session.Username, &data, &session.CreatedAt, &session.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.Data = map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &session.Data); err != nil {
			return nil, fmt.Errorf("failed to decode session data: %w", err)
		}
	}

	return session, nil
}

// MergeData はキャッシュフィールドを1つのUPDATE文でマージする。
// 期限切れ・存在しないセッションは更新されずfalseを返す。
func (r *PostgresSessionRepo) MergeData(ctx context.Context, token string, patch map[string]string, now time.Time) (bool, error) {
	data, err := encodeSessionData(patch)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = data || $2::jsonb
		 WHERE token = $1 AND expires_at > $3`,
		token, data, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to merge session data: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// Delete は指定トークンのセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUsername は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUsername(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE username = $1`,
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

func encodeSessionData(data map[string]string) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
