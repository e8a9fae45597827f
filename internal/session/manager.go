// Package session はセッショントークンの発行・検証・キャッシュ更新と
// 期限切れセッションの掃除を提供する。
// 永続化はrepository.SessionRepositoryの実装（PostgreSQL/Redis/ファイル）に委譲する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
)

const (
	// DefaultTTL はセッションの既定の有効期間。
	DefaultTTL = 24 * time.Hour
	// tokenBytes はトークンの乱数バイト数（16進で64文字）。
	tokenBytes = 32
	// sweepTimeout はバックグラウンド掃除1回あたりの上限時間。
	sweepTimeout = 30 * time.Second
)

// Recorder はセッションに関するメトリクスの記録先。
type Recorder interface {
	RecordSessionCreated()
	RecordSessionsSwept(n int64)
}

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	TTL time.Duration
	// SweepInterval はアクセス契機の掃除の最小間隔。0の場合は毎回実行する。
	SweepInterval time.Duration
	Recorder      Recorder
}

// Manager はセッションのライフサイクルを管理する。
// 有効期限の判定はストアの読み取り時に行うため、掃除が遅れても
// 期限切れセッションが有効と判定されることはない。
type Manager struct {
	store         repository.SessionRepository
	ttl           time.Duration
	sweepInterval time.Duration
	recorder      Recorder
	now           func() time.Time

	sweeping  atomic.Bool
	lastSweep atomic.Int64
	wg        sync.WaitGroup
}

// NewManager はManagerを生成する。
func NewManager(store repository.SessionRepository, cfg ManagerConfig) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.SweepInterval
	if interval < 0 {
		interval = 0
	}
	return &Manager{
		store:         store,
		ttl:           ttl,
		sweepInterval: interval,
		recorder:      cfg.Recorder,
		now:           time.Now,
	}
}

// TTL はセッションの有効期間を返す。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CreateSession はユーザーの新しいセッションを発行する。
func (m *Manager) CreateSession(ctx context.Context, username string) (*model.Session, error) {
	m.maybeSweep(ctx)

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	s := &model.Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Data:      map[string]string{},
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if m.recorder != nil {
		m.recorder.RecordSessionCreated()
	}
	return s, nil
}

// ValidateSession はトークンが有効な場合にユーザー名とtrueを返す。
func (m *Manager) ValidateSession(ctx context.Context, token string) (string, bool, error) {
	s, err := m.GetSessionData(ctx, token)
	if err != nil {
		return "", false, err
	}
	if s == nil {
		return "", false, nil
	}
	return s.Username, true, nil
}

// GetSessionData は有効なセッションを返す。無効な場合はnilを返す。
func (m *Manager) GetSessionData(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	m.maybeSweep(ctx)

	s, err := m.store.FindValid(ctx, token, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

// UpdateSessionData はキャッシュフィールドをマージする。
// 存在しない・期限切れのセッションに対しては何もしない。
func (m *Manager) UpdateSessionData(ctx context.Context, token string, patch map[string]string) error {
	if token == "" || len(patch) == 0 {
		return nil
	}
	m.maybeSweep(ctx)

	if _, err := m.store.MergeData(ctx, token, patch, m.now()); err != nil {
		return fmt.Errorf("failed to update session data: %w", err)
	}
	return nil
}

// LogoutSession はセッションを削除する。存在しない場合もエラーにしない。
func (m *Manager) LogoutSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Sweep は期限切れセッションを削除し、削除件数を返す。
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	now := m.now()
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	m.lastSweep.Store(now.UnixNano())
	if m.recorder != nil && n > 0 {
		m.recorder.RecordSessionsSwept(n)
	}
	return n, nil
}

// Wait は実行中のバックグラウンド掃除の完了を待つ。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// maybeSweep は前回の掃除からSweepInterval以上経過していれば
// バックグラウンドで掃除を開始する。同時に実行される掃除は1つだけ。
func (m *Manager) maybeSweep(ctx context.Context) {
	if m.sweepInterval > 0 {
		last := m.lastSweep.Load()
		if last != 0 && m.now().Sub(time.Unix(0, last)) < m.sweepInterval {
			return
		}
	}
	if !m.sweeping.CompareAndSwap(false, true) {
		return
	}
	// 失敗時も間隔を空ける
	m.lastSweep.Store(m.now().UnixNano())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sweeping.Store(false)

		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
		defer cancel()

		n, err := m.Sweep(sweepCtx)
		if err != nil {
			slog.Warn("期限切れセッションの掃除に失敗しました",
				slog.String("error", err.Error()),
			)
			return
		}
		if n > 0 {
			slog.Debug("期限切れセッションを削除しました", slog.Int64("deleted_count", n))
		}
	}()
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
